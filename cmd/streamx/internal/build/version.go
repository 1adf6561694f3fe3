// Package build holds version information injected with -ldflags:
//
//	go build -ldflags "-X github.com/haivivi/streamx/cmd/streamx/internal/build.Version=v0.1.0 \
//	  -X github.com/haivivi/streamx/cmd/streamx/internal/build.Commit=$(git rev-parse --short HEAD)"
package build

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("streamx %s (%s) built %s %s/%s",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}
