// Package version reports the build of the lilychat binaries.
//
// Set the values with ldflags, for example:
//
//	go build -ldflags "-X github.com/rickgao/lilychat/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/lilychat/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/lilychat/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/lilychat
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown" // UTC, RFC 3339
)

// String is the line printed by the version command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, Commit, BuildTime, runtime.Version())
}

// UserAgent is sent on REST requests and the websocket upgrade.
func UserAgent() string {
	return fmt.Sprintf("lilychat/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
