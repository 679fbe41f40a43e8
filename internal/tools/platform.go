package tools

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Platform holds information about the current system
type Platform struct {
	OS      string // linux, darwin
	Arch    string // amd64, arm64
	PkgMgr  string // apt, brew, yum, dnf, pacman, apk, ""
	HasSudo bool
}

// DetectPlatform returns information about the current system
func DetectPlatform() *Platform {
	p := &Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	p.PkgMgr = detectPackageManager(p.OS, func(name string) bool {
		_, err := exec.LookPath(name)
		return err == nil
	})
	_, err := exec.LookPath("sudo")
	p.HasSudo = err == nil
	return p
}

func detectPackageManager(goos string, has func(string) bool) string {
	switch goos {
	case "darwin":
		if has("brew") {
			return "brew"
		}
	case "linux":
		// Check in order of preference
		for _, pm := range []string{"apt", "apt-get", "dnf", "yum", "pacman", "apk"} {
			if has(pm) {
				return pm
			}
		}
	}
	return ""
}

// InstallHint returns the command a user should run to install t, or "" when
// no known route exists on this platform.
func (p *Platform) InstallHint(t Tool) string {
	if pkg, ok := t.Packages[p.PkgMgr]; ok {
		sudo := ""
		if p.HasSudo && p.PkgMgr != "brew" {
			sudo = "sudo "
		}
		switch p.PkgMgr {
		case "apt", "apt-get", "dnf", "yum":
			return fmt.Sprintf("%s%s install -y %s", sudo, p.PkgMgr, pkg)
		case "pacman":
			return fmt.Sprintf("%spacman -S --noconfirm %s", sudo, pkg)
		case "apk":
			return fmt.Sprintf("%sapk add %s", sudo, pkg)
		case "brew":
			return "brew install " + pkg
		}
	}
	if t.GoInstall != "" {
		return "go install " + t.GoInstall
	}
	return ""
}

// HasLibpcap reports whether libpcap headers are present; masscan needs them.
func (p *Platform) HasLibpcap() bool {
	var locations []string
	switch p.OS {
	case "darwin":
		locations = []string{
			"/usr/include/pcap.h",
			"/opt/homebrew/include/pcap.h",
			"/usr/local/include/pcap.h",
		}
	case "linux":
		locations = []string{
			"/usr/include/pcap.h",
			"/usr/include/pcap/pcap.h",
		}
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return true
		}
	}
	return false
}

// String returns a human-readable description of the platform
func (p *Platform) String() string {
	return fmt.Sprintf("%s/%s (pkg: %s)", p.OS, p.Arch, p.PkgMgr)
}
