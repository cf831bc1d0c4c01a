// ABOUTME: scan command
// ABOUTME: Lists supported audio files in a directory by extension
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
)

var scanRecursive bool

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "List supported audio files in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		found, err := codec.DefaultRegistry().Scan(args[0], scanRecursive)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		for _, f := range found {
			fmt.Fprintf(out, "%-10s %s\n", f.Codec.ID, f.Path)
		}
		fmt.Fprintf(out, "%d files\n", len(found))
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVarP(&scanRecursive, "recursive", "r", false, "descend into subdirectories")
}
