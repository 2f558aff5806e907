// Package version provides build-time version information
// injected via ldflags during compilation:
//
//	go build -ldflags "-X github.com/avaropoint/mcc/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Banner is the startup line each binary logs.
func Banner(name string) string {
	return fmt.Sprintf("%s v%s (built %s) %s/%s", name, Version, BuildTime, runtime.GOOS, runtime.GOARCH)
}
