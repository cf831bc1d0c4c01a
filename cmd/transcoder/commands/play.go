// ABOUTME: play command
// ABOUTME: Decodes a file to the local audio output
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/player"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/output"
)

var (
	playVolume    int
	playStart     time.Duration
	playPortAudio bool
)

// volumeOutput is an output with software volume.
type volumeOutput interface {
	output.Output
	SetVolume(int)
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a file on the local audio output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		ctx := cmd.Context()

		var out volumeOutput = output.NewOto()
		if playPortAudio {
			out = output.NewPortAudio()
		}
		out.SetVolume(playVolume)

		src, err := openInput(ctx, cfg, args[0])
		if err != nil {
			return err
		}

		w := cmd.ErrOrStderr()
		p := player.New(out, player.Config{
			FrameBudget: cfg.Engine.FrameBudget,
			Start:       playStart,
			OnPosition: func(pos player.Position) {
				fmt.Fprintf(w, "\r%s  %s ", src, pos)
			},
		})

		stats, err := p.Play(ctx, src)
		fmt.Fprintln(w)
		if audio.KindOf(err) == audio.Cancelled {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "played %s (%s)\n", audio.FormatDuration(stats.Frames/int64(stats.Format.SampleRate)), stats.Codec)
		return nil
	},
}

func init() {
	playCmd.Flags().IntVar(&playVolume, "volume", 100, "playback volume 0-100")
	playCmd.Flags().DurationVar(&playStart, "start", 0, "start offset, e.g. 1m30s")
	playCmd.Flags().BoolVar(&playPortAudio, "portaudio", false, "play through PortAudio (needs the portaudio build tag)")
}
