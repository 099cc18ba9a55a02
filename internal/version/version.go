// Package version holds the build version string.
package version

// Version is the semantic version of this build. Release tooling overrides
// it via -ldflags.
var Version = "0.1.0"
