// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/bureau-foundation/switchboard/lib/version.Commit=...".
var (
	// Version is the release version.
	Version = "0.1.0-dev"

	// Commit is the short git SHA of the build. When unset it is read
	// from the module build info.
	Commit = ""
)

// Info returns the version line printed by --version.
func Info() string {
	commit, dirty := buildCommit()
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func buildCommit() (string, bool) {
	if Commit != "" {
		return Commit, false
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown", false
	}
	commit, dirty := "unknown", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return commit, dirty
}
