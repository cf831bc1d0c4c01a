// ABOUTME: Human readable duration helpers
// ABOUTME: Formats stream lengths as hh:mm:ss for CLI and TUI output
package audio

import "fmt"

// FormatDuration renders seconds as mm:ss, or hh:mm:ss once an hour is reached.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// FramesToSeconds converts a frame count at sampleRate to whole seconds.
func FramesToSeconds(frames int64, sampleRate int) int64 {
	if sampleRate <= 0 || frames < 0 {
		return 0
	}
	return frames / int64(sampleRate)
}
