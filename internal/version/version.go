package version

import (
	"fmt"
	"runtime"
)

// Injected at build time with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version line printed by the operator.
func Info() string {
	return fmt.Sprintf("%s (%s, built %s, %s %s/%s)",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
