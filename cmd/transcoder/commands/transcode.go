// ABOUTME: transcode command
// ABOUTME: Streams one or more inputs through decode, conversion and encode
package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

var (
	transcodeCodec   string
	transcodeQuality int
	transcodeFormat  *formatFlags
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode <in> <out> | <in>... <outdir>/",
	Short: "Convert audio between codecs",
	Long: `Decode each input and encode it without holding the whole stream in
memory. With several inputs the last argument is a directory (or s3://
prefix ending in /) and outputs keep the input base names with the
extension of --codec. Inputs run in parallel on the engine's workers.

Examples:
  transcoder transcode song.flac song.opus --quality 60
  transcoder transcode https://example.com/a.mp3 s3://bucket/a.wav --rate 16000 --channels 1
  transcoder transcode --codec flac *.wav out/ --tui`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if err := transcodeFormat.apply(cmd, cfg); err != nil {
			return err
		}
		if cmd.Flags().Changed("quality") {
			cfg.Encode.Quality = transcodeQuality
		}
		ctx := cmd.Context()

		engine := newEngine(cfg, nil)
		defer engine.Close()
		reg := engine.Registry()

		inputs, dest := args[:len(args)-1], args[len(args)-1]
		toDir := len(inputs) > 1 || strings.HasSuffix(dest, "/")
		if toDir && transcodeCodec == "" {
			return fmt.Errorf("--codec is required when writing to a directory")
		}

		type job struct {
			out  *output
			task *transcode.Task
			loc  string
		}
		var jobs []job
		var items []ui.Item
		abortAll := func() {
			for _, j := range jobs {
				j.task.Cancel()
				<-j.task.Done()
				j.out.Abort()
			}
		}

		for _, in := range inputs {
			loc := dest
			if toDir {
				id, err := reg.ParseID(transcodeCodec)
				if err != nil {
					abortAll()
					return err
				}
				d, _ := reg.Lookup(id)
				base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
				loc = strings.TrimSuffix(dest, "/") + "/" + base + "." + d.Extensions[0]
			}
			id, err := outputCodec(reg, transcodeCodec, loc)
			if err != nil {
				abortAll()
				return err
			}

			src, err := openInput(ctx, cfg, in)
			if err != nil {
				abortAll()
				return err
			}
			defer src.Close()
			dst, err := createOutput(cfg, loc)
			if err != nil {
				abortAll()
				return err
			}

			task := engine.Transcode(src, dst.Writer(), transcode.TranscodeOptions{
				Codec:  id,
				Encode: cfg.EncodeOptions(),
				Target: cfg.Target(),
			})
			jobs = append(jobs, job{out: dst, task: task, loc: loc})
			items = append(items, ui.Item{Label: filepath.Base(in), Task: task})
		}

		waitErr := await(ctx, "Transcoding", items)

		out := cmd.OutOrStdout()
		for _, j := range jobs {
			res, _ := j.task.Result()
			if res.State != transcode.Succeeded {
				j.out.Abort()
				fmt.Fprintf(out, "%s: %s\n", j.loc, res.State)
				continue
			}
			if err := j.out.Commit(ctx); err != nil {
				fmt.Fprintf(out, "%s: %v\n", j.loc, err)
				if waitErr == nil {
					waitErr = err
				}
				continue
			}
			fmt.Fprintf(out, "%s: %s\n", j.loc, describeResult(res, 0))
		}
		return waitErr
	},
}

func init() {
	transcodeCmd.Flags().StringVar(&transcodeCodec, "codec", "", "output codec (default: from the output extension)")
	transcodeCmd.Flags().IntVar(&transcodeQuality, "quality", 0, "lossy quality 0-100 (overrides config)")
	transcodeFormat = addFormatFlags(transcodeCmd)
}
