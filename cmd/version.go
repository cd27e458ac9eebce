package cmd

import (
	"fmt"
	"runtime"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// runVersion displays version information. It deliberately avoids
// config.Load so it works on a machine with no configuration at all.
func runVersion() {
	fmt.Printf("logsift %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
	fmt.Printf("  go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
