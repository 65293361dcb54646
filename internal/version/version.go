// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/shubhanshu-sudo/Scrapper/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// UserAgent identifies leadscout on outbound HTTP requests.
func UserAgent() string { return fmt.Sprintf("leadscout/%s (+%s)", Version, runtime.GOOS) }
