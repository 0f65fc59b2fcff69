// Package version carries build identification injected via -ldflags.
package version

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = ""
	// BuildTime is the build timestamp.
	BuildTime = ""
)

// String renders the version with a short commit suffix when available.
func String() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 12 {
		c = c[:12]
	}
	return Version + " (" + c + ")"
}
