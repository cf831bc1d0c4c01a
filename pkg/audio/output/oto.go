// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM through a persistent oto player with software volume
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
)

// Oto plays through the platform mixer. oto allows one context per
// process, so a second Open with a different format fails.
type Oto struct {
	Volume

	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	ready      bool
}

// NewOto creates a new Oto output at full volume.
func NewOto() *Oto {
	return &Oto{Volume: Volume{level: 100}}
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return audio.Errorf(audio.UnsupportedFormat, "oto: open", "invalid format %s", format)
	}

	if o.otoCtx != nil {
		if o.format.SampleRate == format.SampleRate && o.format.Channels == format.Channels {
			log.Debugf("Audio output already initialized with same format, reusing context")
			return nil
		}
		return audio.Errorf(audio.UnsupportedFeature, "oto: open",
			"format change %dHz %dch -> %dHz %dch needs a new process",
			o.format.SampleRate, o.format.Channels, format.SampleRate, format.Channels)
	}

	ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return audio.NewError(audio.DeviceError, "oto: open", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.format = format
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()
	o.ready = true

	log.Infof("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)
	return nil
}

// Write outputs audio samples (blocks until the player has read them)
func (o *Oto) Write(buf audio.Buffer) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}
	if err := checkFormat(o.format, buf.Format); err != nil {
		return err
	}

	samples := toInt16(buf, o.multiplier())
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}

	if _, err := o.pipeWriter.Write(out); err != nil {
		return audio.NewError(audio.DeviceError, "oto: write", err)
	}
	return nil
}

// Close waits for queued audio to finish, then releases the player.
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		for o.player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := o.player.Close(); err != nil {
			log.Warnf("oto player close: %v", err)
		}
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		if err := o.otoCtx.Suspend(); err != nil {
			return audio.NewError(audio.DeviceError, "oto: suspend", err)
		}
	}
	o.ready = false
	return nil
}
