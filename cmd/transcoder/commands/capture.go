// ABOUTME: capture and devices commands
// ABOUTME: Records from a capture device, optionally gated by voice activity
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/capture"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

var (
	captureDevice   string
	captureRate     int
	captureChannels int
	captureOut      string
	captureCodec    string
	captureVAD      bool
	captureDuration time.Duration
	captureFormat   *formatFlags
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record from a capture device",
	Long: `Record from a system input device, or from the synthetic devices
"tone", "silence" and "speech". Ctrl-C stops the session gracefully and
keeps what was recorded. With --vad only speech is kept.

Examples:
  transcoder capture --device speech --vad --duration 10s --out speech.wav
  transcoder capture --device "USB Microphone" --out s3://bucket/take.flac`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := getConfig()
		if err := captureFormat.apply(cmd, cfg); err != nil {
			return err
		}
		if cmd.Flags().Changed("vad") {
			cfg.VAD.Enabled = captureVAD
		}
		ctx := cmd.Context()

		dev, err := capture.Open(captureDevice, audio.Format{SampleRate: captureRate, Channels: captureChannels, BitDepth: 16})
		if err != nil {
			return err
		}
		in := dev.Format()
		log.Infof("Capturing from %s (%s)", captureDevice, in)

		engine := newEngine(cfg, nil)
		defer engine.Close()

		policy := cfg.Policy()
		opts := transcode.CaptureOptions{
			Target:      cfg.Target(),
			VAD:         cfg.CaptureVAD(),
			VADWindow:   cfg.VAD.Window(),
			Capacity:    cfg.Buffer.Capacity,
			Policy:      &policy,
			MaxDuration: captureDuration,
			OnSpeech: func(s vad.State) {
				log.Infof("Voice activity: %s", s)
			},
		}

		var dst *output
		if captureOut != "" {
			if opts.Codec, err = outputCodec(engine.Registry(), captureCodec, captureOut); err != nil {
				return err
			}
			if dst, err = createOutput(cfg, captureOut); err != nil {
				return err
			}
			opts.Sink = dst.Writer()
			opts.Encode = cfg.EncodeOptions()
			opts.Discard = true
		}

		task := engine.Capture(dev, opts)

		// Interrupts end the session gracefully instead of cancelling it.
		go func() {
			select {
			case <-ctx.Done():
				log.Infof("Stopping capture...")
				task.Stop()
			case <-task.Done():
			}
		}()

		err = await(context.Background(), "Capturing", []ui.Item{{Label: captureDevice, Task: task, SampleRate: in.SampleRate}})
		res, _ := task.Result()
		if err != nil && res.State != transcode.Succeeded {
			if dst != nil {
				dst.Abort()
			}
			return err
		}

		if dst != nil {
			if err := dst.Commit(context.Background()); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "captured %s\n", describeResult(res, in.SampleRate))
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos, err := capture.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range infos {
			mark := " "
			if d.Default {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %-40s %6dHz %dch\n", mark, d.Name, d.SampleRate, d.Channels)
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureDevice, "device", "d", "default", "capture device name, or tone, silence or speech")
	captureCmd.Flags().IntVar(&captureRate, "device-rate", 48000, "device sample rate in Hz")
	captureCmd.Flags().IntVar(&captureChannels, "device-channels", 1, "device channel count")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "encode the kept audio to this path or s3:// object")
	captureCmd.Flags().StringVar(&captureCodec, "codec", "", "output codec (default: from the output extension)")
	captureCmd.Flags().BoolVar(&captureVAD, "vad", false, "keep only speech (overrides config)")
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 0, "stop after this much audio (0 records until interrupted)")
	captureFormat = addFormatFlags(captureCmd)
}
