// ABOUTME: Entry point for the transcoder CLI
// ABOUTME: Runs the cobra command tree and maps failures to the exit code
package main

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/resonate-transcoder/cmd/transcoder/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
