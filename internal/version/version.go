// ABOUTME: Build identity reported by the CLI and the ingest handshake
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

// Version is the release version, "dev" for local builds.
var Version = "dev"

const (
	Product      = "Resonate Transcoder"
	Manufacturer = "Resonate Protocol"
)

// String returns the product line printed by the version command.
func String() string {
	return Product + " " + Version
}
