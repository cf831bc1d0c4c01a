// ABOUTME: Local file playback pipeline
// ABOUTME: Streams decoded frames from a codec source into an audio output
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/output"
)

// Config holds player configuration
type Config struct {
	Registry    *codec.Registry
	FrameBudget int
	// Start skips into the source before playing.
	Start time.Duration
	// OnPosition is called after each buffer.
	OnPosition func(Position)
}

// Position is the playback point in source frames.
type Position struct {
	Played     int64
	Total      int64 // -1 when unknown
	SampleRate int
}

// String formats the position as elapsed / total time.
func (p Position) String() string {
	if p.SampleRate <= 0 {
		return fmt.Sprintf("%d frames", p.Played)
	}
	s := audio.FormatDuration(p.Played / int64(p.SampleRate))
	if p.Total >= 0 {
		s += " / " + audio.FormatDuration(p.Total/int64(p.SampleRate))
	}
	return s
}

// Stats summarizes a finished playback.
type Stats struct {
	Format  audio.Format
	Codec   string
	Frames  int64
	Partial bool
}

// Player plays sources through one output.
type Player struct {
	config Config
	out    output.Output
}

// New creates a player writing to out.
func New(out output.Output, config Config) *Player {
	if config.Registry == nil {
		config.Registry = codec.DefaultRegistry()
	}
	if config.FrameBudget <= 0 {
		config.FrameBudget = decode.DefaultFrameBudget
	}
	return &Player{config: config, out: out}
}

// Play decodes src to the output until it ends or ctx is cancelled. The
// output is closed on return, which drains queued audio.
func (p *Player) Play(ctx context.Context, src *codec.Source) (Stats, error) {
	defer src.Close()

	dec, desc, err := p.config.Registry.OpenDecoder(src)
	if err != nil {
		return Stats{}, err
	}
	defer dec.Close()

	info := dec.Info()
	stats := Stats{Format: info.Format, Codec: desc.Name}

	var played int64
	if p.config.Start > 0 {
		played = int64(p.config.Start.Seconds() * float64(info.Format.SampleRate))
		if err := dec.SeekFrame(played); err != nil {
			return stats, fmt.Errorf("failed to seek to %s: %w", p.config.Start, err)
		}
	}

	if err := p.out.Open(info.Format); err != nil {
		return stats, err
	}
	log.Infof("Playing %s (%s, %s)", src, desc.Name, info.Format)

	for {
		if err := ctx.Err(); err != nil {
			p.out.Close()
			return stats, audio.NewError(audio.Cancelled, "player: play", err)
		}

		frame, err := dec.DecodeNext(p.config.FrameBudget)
		if frame.NumFrames() > 0 {
			if werr := p.out.Write(frame.Buffer); werr != nil {
				p.out.Close()
				return stats, werr
			}
			played += int64(frame.NumFrames())
			stats.Frames += int64(frame.NumFrames())
			if p.config.OnPosition != nil {
				p.config.OnPosition(Position{Played: played, Total: info.TotalFrames, SampleRate: info.Format.SampleRate})
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
		case audio.KindOf(err) == audio.PartialDecode:
			log.Warnf("Playback of %s ended early: %v", src, err)
			stats.Partial = true
		default:
			p.out.Close()
			return stats, err
		}
		break
	}

	return stats, p.out.Close()
}
