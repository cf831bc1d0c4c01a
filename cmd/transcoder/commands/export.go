// ABOUTME: export command
// ABOUTME: Wraps headerless RAW PCM in an encoded container
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/ui"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

var (
	exportRaw      string
	exportRate     int
	exportChannels int
	exportCodec    string
	exportQuality  int
	exportFormat   *formatFlags
)

var exportCmd = &cobra.Command{
	Use:   "export <in.raw> <out>",
	Short: "Encode RAW PCM samples into a container",
	Long: `Load headerless PCM, declared with --sample-format, --in-rate and
--in-channels, into a buffer and encode it. The codec follows the output
extension unless --codec is given.

Examples:
  transcoder export capture.pcm capture.wav --sample-format int16 --in-rate 16000 --in-channels 1
  transcoder export mix.f32 s3://bucket/mix.flac --sample-format float32 --bits 24`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if err := exportFormat.apply(cmd, cfg); err != nil {
			return err
		}
		if cmd.Flags().Changed("quality") {
			cfg.Encode.Quality = exportQuality
		}
		ctx := cmd.Context()

		rawFmt, err := convert.ParseRawFormat(exportRaw)
		if err != nil {
			return err
		}
		if exportRate <= 0 || exportChannels <= 0 {
			return fmt.Errorf("--in-rate and --in-channels must be positive")
		}

		engine := newEngine(cfg, nil)
		defer engine.Close()

		id, err := outputCodec(engine.Registry(), exportCodec, args[1])
		if err != nil {
			return err
		}

		src, err := openInput(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		defer src.Close()
		src = src.WithRaw(codec.RawParams{Format: rawFmt, SampleRate: exportRate, Channels: exportChannels})

		imp := engine.Import(src, transcode.ImportOptions{})
		res, err := imp.Wait(ctx)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", args[0], err)
		}

		dst, err := createOutput(cfg, args[1])
		if err != nil {
			return err
		}
		task := engine.Export(*res.Buffer, dst.Writer(), transcode.ExportOptions{
			Codec:  id,
			Encode: cfg.EncodeOptions(),
			Target: cfg.Target(),
		})
		if err := await(ctx, "Exporting", []ui.Item{{Label: args[1], Task: task}}); err != nil {
			dst.Abort()
			return err
		}
		out, _ := task.Result()
		if err := dst.Commit(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[1], describeResult(out, exportRate))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRaw, "sample-format", "int16", "RAW sample format: int8, uint8, int16, uint16, int24, int32, uint32 or float32")
	exportCmd.Flags().IntVar(&exportRate, "in-rate", 48000, "sample rate of the RAW input")
	exportCmd.Flags().IntVar(&exportChannels, "in-channels", 2, "channel count of the RAW input")
	exportCmd.Flags().StringVar(&exportCodec, "codec", "", "output codec (default: from the output extension)")
	exportCmd.Flags().IntVar(&exportQuality, "quality", 0, "lossy quality 0-100 (overrides config)")
	exportFormat = addFormatFlags(exportCmd)
}
