// Package version holds the build version, set at link time with
// -ldflags "-X github.com/maxvaer/pathhunter/pkg/version.Version=1.2.3".
package version

var Version = "dev"
