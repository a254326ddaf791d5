// Package buildinfo holds the version stamped into the portal CLI at link time.
package buildinfo

// Set with -ldflags "-X github.com/brokerdesk/portal/internal/buildinfo.Version=..."
// by cmd/portal's init; the zero build reports "dev".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// UserAgent is sent on every backend request.
func UserAgent() string {
	return "portal-cli/" + Version
}
