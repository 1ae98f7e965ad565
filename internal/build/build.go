// Package build holds version information injected at link time, e.g.
//
//	go build -ldflags "-X github.com/hepmr/hepmr/internal/build.ReleaseVersion=v1.2.0"
package build

import "runtime"

var (
	ReleaseVersion = "dev"
	GitCommit      = "unknown"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
