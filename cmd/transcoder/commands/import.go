// ABOUTME: import command
// ABOUTME: Decodes a file to canonical PCM, through the decode cache for local files
package commands

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/cache"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/fetch"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/storage"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

var (
	importOut     string
	importNoCache bool
	importFormat  *formatFlags
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Decode a file and print stream statistics",
	Long: `Decode an input into PCM in the configured output format and print
its length and peak level. With --out the PCM is written as headerless
RAW samples.

Local files are served from the decode cache when cache.dir is set and
the file has not changed since it was cached.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if err := importFormat.apply(cmd, cfg); err != nil {
			return err
		}
		ctx := cmd.Context()
		loc := args[0]

		engine := newEngine(cfg, nil)
		defer engine.Close()
		opts := transcode.ImportOptions{Target: cfg.Target()}

		var res transcode.Result
		cached := false
		if cfg.Cache.Dir != "" && !importNoCache && !fetch.IsURL(loc) && !storage.IsRemote(loc) {
			c, err := cache.Open(cache.Options{Dir: filepath.Join(cfg.Cache.Dir, "pcm")})
			if err != nil {
				return err
			}
			defer c.Close()
			if res, cached, err = c.ImportFile(ctx, engine, loc, opts); err != nil {
				return err
			}
		} else {
			src, err := openInput(ctx, cfg, loc)
			if err != nil {
				return err
			}
			defer src.Close()
			task := engine.Import(src, opts)
			if err := await(ctx, "Importing", []ui.Item{{Label: loc, Task: task}}); err != nil {
				return err
			}
			res, _ = task.Result()
		}

		buf := res.Buffer
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", loc)
		fmt.Fprintf(out, "  format: %s\n", buf.Format)
		fmt.Fprintf(out, "  length: %s\n", describeResult(res, buf.Format.SampleRate))
		fmt.Fprintf(out, "  peak:   %.1f dBFS\n", peakDBFS(*buf))
		if cached {
			fmt.Fprintf(out, "  cached: yes\n")
		}

		if importOut == "" {
			return nil
		}
		dst, err := createOutput(cfg, importOut)
		if err != nil {
			return err
		}
		task := engine.Export(*buf, dst.Writer(), transcode.ExportOptions{Codec: codec.Raw})
		if _, err := task.Wait(ctx); err != nil {
			dst.Abort()
			return err
		}
		log.Infof("Wrote RAW %s to %s", buf.Format, importOut)
		return dst.Commit(ctx)
	},
}

func init() {
	importCmd.Flags().StringVarP(&importOut, "out", "o", "", "write the decoded PCM as RAW samples to this path or s3:// object")
	importCmd.Flags().BoolVar(&importNoCache, "no-cache", false, "bypass the decode cache")
	importFormat = addFormatFlags(importCmd)
}

// peakDBFS is the loudest sample relative to full scale.
func peakDBFS(buf audio.Buffer) float64 {
	var peak float64
	if buf.Format.Float {
		for _, f := range buf.Floats {
			peak = math.Max(peak, math.Abs(float64(f)))
		}
	} else {
		max := float64(audio.MaxSample(buf.Format.BitDepth))
		for _, s := range buf.Samples {
			peak = math.Max(peak, math.Abs(float64(s))/max)
		}
	}
	if peak == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(peak)
}
