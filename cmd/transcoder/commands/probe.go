// ABOUTME: probe command
// ABOUTME: Prints the codec, format, duration and capabilities of audio files
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>...",
	Short: "Show header information for audio files",
	Long: `Identify each input by its signature and print the stream format,
duration and what the codec supports.

Examples:
  transcoder probe song.flac
  transcoder probe https://example.com/clip.mp3 s3://bucket/take.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		reg := codec.DefaultRegistry()
		out := cmd.OutOrStdout()

		var failed int
		for _, loc := range args {
			src, err := openInput(cmd.Context(), cfg, loc)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", loc, err)
				failed++
				continue
			}
			desc, info, err := reg.HeaderInfo(src)
			src.Close()
			if err != nil {
				fmt.Fprintf(out, "%s: %s: %v\n", loc, audio.KindOf(err), err)
				failed++
				continue
			}

			duration := "unknown"
			if d := info.Duration(); d >= 0 {
				duration = audio.FormatDuration(int64(d))
			}
			fmt.Fprintf(out, "%s\n", loc)
			fmt.Fprintf(out, "  codec:    %s (%s)\n", desc.Name, desc.ID)
			fmt.Fprintf(out, "  format:   %s\n", info.Format)
			fmt.Fprintf(out, "  duration: %s\n", duration)
			if info.TotalFrames >= 0 {
				fmt.Fprintf(out, "  frames:   %d\n", info.TotalFrames)
			}
			fmt.Fprintf(out, "  caps:     %s\n", desc.Caps)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d inputs could not be probed", failed, len(args))
		}
		return nil
	},
}
