package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X .../version.Version=...".
var (
	Version   = "0.3.0"
	Commit    = ""
	BuildDate = "unknown"
)

// revision falls back to the VCS stamp go build embeds.
func revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// Info is the multi-line text printed by 'infoauto version'.
func Info() string {
	return fmt.Sprintf("infoauto %s (%s, built %s)\n  go: %s\n  os/arch: %s/%s",
		Version, revision(), BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short is Version plus the revision, as recorded in run reports.
func Short() string {
	return Version + "+" + revision()
}
