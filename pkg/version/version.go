// Package version carries the build identity of osmstore. The variables
// are overridden at link time:
//
//	go build -ldflags "-X github.com/NERVsystems/osmstore/pkg/version.BuildVersion=v1.2.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	BuildVersion = "dev"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns the build identity as flat string fields. Commit and date
// fall back to the VCS stamp embedded by the Go toolchain.
func Info() map[string]string {
	info := map[string]string{
		"version":    BuildVersion,
		"commit":     BuildCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info["commit"] == "unknown" {
				info["commit"] = s.Value
			}
		case "vcs.time":
			if info["build_date"] == "unknown" {
				info["build_date"] = s.Value
			}
		case "vcs.modified":
			info["modified"] = s.Value
		}
	}
	return info
}

func String() string {
	info := Info()
	return fmt.Sprintf("osmstore %s (commit %s, built %s, %s)",
		info["version"], info["commit"], info["build_date"], info["go_version"])
}
