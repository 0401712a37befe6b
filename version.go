/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version information set by build flags:
//
//	go build -ldflags "-X github.com/suparena/entityrepo.GitCommit=$(git rev-parse HEAD)"
var (
	// Version is the semantic version of entityrepo
	Version = "0.3.0"

	// GitCommit is the git commit hash; the VCS stamp of the binary is used when unset
	GitCommit = "unknown"

	// BuildDate is the build date; the VCS commit time is used when unset
	BuildDate = "unknown"

	// GoVersion is the Go version used to build; the running toolchain is used when unset
	GoVersion = "unknown"
)

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", v.Version, v.GitCommit, v.BuildDate, v.GoVersion)
}

// GetVersionInfo returns the version information, completing fields the
// build flags left unset from the binary's build info.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
	if info.GoVersion == "unknown" {
		info.GoVersion = runtime.Version()
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.GitCommit == "unknown":
				info.GitCommit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "unknown":
				info.BuildDate = s.Value
			}
		}
	}
	return info
}
