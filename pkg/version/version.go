// Package version exposes build metadata of the trainkit binary.
package version

import (
	"runtime/debug"
)

// Build metadata, overridden with -ldflags "-X ...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// vcs build setting keys.
const (
	settingRevision = "vcs.revision"
	settingTime     = "vcs.time"
	shortCommitLen  = 12
)

// InitBinaryVersion fills metadata left at its defaults from the module
// build info embedded by the Go toolchain.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case settingRevision:
			if Commit == "none" {
				Commit = setting.Value[:min(len(setting.Value), shortCommitLen)]
			}
		case settingTime:
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String returns a one-line description of the build.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
