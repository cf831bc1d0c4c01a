// ABOUTME: push command
// ABOUTME: Streams a file to a remote ingest server found by address or mDNS
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/discovery"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ingest"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

const pushChunk = 100 * time.Millisecond

var (
	pushServer   string
	pushCodec    string
	pushRate     int
	pushChannels int
	pushLabel    string
	pushRealtime bool
	pushVAD      string
)

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Stream a file to an ingest server",
	Long: `Decode a file and stream it to a transcoder ingest server as PCM or
Opus frames. Without --server the first server advertised over mDNS on
the local network is used.

Examples:
  transcoder push take.wav --server 10.0.0.5:8928 --label take-1
  transcoder push speech.flac --codec pcm --rate 16000 --channels 1 --realtime`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		ctx := cmd.Context()

		addr := pushServer
		if addr == "" {
			log.Infof("Discovering ingest servers via mDNS...")
			info, err := discovery.Discover(ctx, 5*time.Second)
			if err != nil {
				return err
			}
			log.Infof("Found %s at %s", info.Name, info.URL())
			addr = info.URL()
		}

		start := ingest.StreamStart{
			Codec:      pushCodec,
			SampleRate: pushRate,
			Channels:   pushChannels,
			BitDepth:   16,
			Label:      pushLabel,
		}
		switch pushVAD {
		case "on", "off":
			enabled := pushVAD == "on"
			start.VAD = &enabled
		case "":
		default:
			return fmt.Errorf("--vad must be on or off")
		}

		engine := newEngine(cfg, nil)
		defer engine.Close()

		src, err := openInput(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		defer src.Close()
		res, err := engine.Import(src, transcode.ImportOptions{Target: convert.Target{
			SampleRate: start.SampleRate,
			Channels:   start.Channels,
			BitDepth:   16,
			Quality:    cfg.Target().Quality,
		}}).Wait(ctx)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[0], err)
		}
		buf := *res.Buffer

		hostname, _ := os.Hostname()
		client := ingest.NewPushClient(ingest.ClientConfig{
			ServerAddr:  addr,
			ClientID:    uuid.NewString(),
			Name:        hostname,
			OpusBitrate: cfg.Encode.OpusBitrate,
		})
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		if err := client.SyncClock(ctx, 5); err != nil {
			log.Warnf("Clock sync failed: %v", err)
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case s := <-client.Speech():
					log.Infof("Server voice activity: speech=%v", s.Speech)
				case <-done:
					return
				}
			}
		}()

		if err := client.StartStream(start); err != nil {
			return err
		}
		chunk := start.SampleRate * int(pushChunk/time.Millisecond) / 1000
		next := time.Now()
		for from := 0; from < buf.NumFrames(); from += chunk {
			if err := ctx.Err(); err != nil {
				break
			}
			to := min(from+chunk, buf.NumFrames())
			if err := client.SendAudio(buf.Slice(from, to)); err != nil {
				return err
			}
			if pushRealtime {
				next = next.Add(pushChunk)
				time.Sleep(time.Until(next))
			}
		}

		endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		status, err := client.EndStream(endCtx)
		if err != nil {
			return err
		}
		if status.Error != "" {
			return fmt.Errorf("server session %s %s: %s", status.SessionID, status.State, status.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s %s: %d frames, %d bytes stored as %s\n",
			status.SessionID, status.State, status.Frames, status.Encoded, status.Key)
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushServer, "server", "", "server host:port or ws:// URL (default: discover via mDNS)")
	pushCmd.Flags().StringVar(&pushCodec, "codec", "opus", "frame codec: pcm or opus")
	pushCmd.Flags().IntVar(&pushRate, "rate", 48000, "stream sample rate in Hz")
	pushCmd.Flags().IntVar(&pushChannels, "channels", 2, "stream channel count")
	pushCmd.Flags().StringVar(&pushLabel, "label", "", "name for the stored recording")
	pushCmd.Flags().BoolVar(&pushRealtime, "realtime", false, "pace frames at playback speed")
	pushCmd.Flags().StringVar(&pushVAD, "vad", "", "override server voice gating: on or off")
}
