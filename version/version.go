// Package version provides build-time version information for meshlink.
//
// Version is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/meshlink/version.Version=1.0.0"
//
// For development builds, the default "dev" version is used.
package version

// Version is the software version, set at build time via ldflags.
var Version = "dev"

// GitCommit is the git commit hash, set at build time via ldflags.
var GitCommit = ""

// BuildTime is when the binary was built, set at build time via ldflags.
var BuildTime = ""

// Protocol is the control protocol revision this client speaks to
// coordination servers. It is sent with every registration request.
const Protocol = "1.2"

// Full returns the full version string including commit and build time if available.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// Client returns the identifier reported to coordination servers,
// e.g. "meshlink/1.0.0 proto/1.2".
func Client() string {
	return "meshlink/" + Version + " proto/" + Protocol
}
