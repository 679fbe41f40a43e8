// Package sysinfo sizes worker pools to the machine infoauto runs on.
package sysinfo

import (
	"runtime"
)

// Profile represents a performance profile
type Profile string

const (
	ProfileLow    Profile = "low"    // ≤2GB RAM or ≤2 cores
	ProfileMedium Profile = "medium" // ≤6GB RAM, ≤4 cores
	ProfileHigh   Profile = "high"   // anything larger
)

// SystemInfo contains detected system information
type SystemInfo struct {
	TotalMemoryMB int64
	NumCPU        int
	Profile       Profile
}

// Settings are the pool sizes recommended for a profile.
type Settings struct {
	Workers int // consolidation buckets processed in parallel
	Lookups int // concurrent resolve lookups
	Detects int // concurrent classify lookups
}

// assumedMemoryMB is used when total memory cannot be read.
const assumedMemoryMB = 4096

// Detect returns system information and detected profile
func Detect() *SystemInfo {
	mem, ok := totalMemory()
	if !ok || mem <= 0 {
		mem = assumedMemoryMB
	}
	info := &SystemInfo{
		NumCPU:        runtime.NumCPU(),
		TotalMemoryMB: mem,
	}
	info.Profile = determineProfile(info.TotalMemoryMB, info.NumCPU)
	return info
}

// determineProfile uses the more restrictive of memory or CPU.
func determineProfile(memoryMB int64, cpuCores int) Profile {
	mem, cpu := memoryProfile(memoryMB), cpuProfile(cpuCores)
	if rank(mem) < rank(cpu) {
		return mem
	}
	return cpu
}

func memoryProfile(memoryMB int64) Profile {
	switch {
	case memoryMB <= 2048:
		return ProfileLow
	case memoryMB <= 6144:
		return ProfileMedium
	default:
		return ProfileHigh
	}
}

func cpuProfile(cpuCores int) Profile {
	switch {
	case cpuCores <= 2:
		return ProfileLow
	case cpuCores <= 4:
		return ProfileMedium
	default:
		return ProfileHigh
	}
}

func rank(p Profile) int {
	switch p {
	case ProfileLow:
		return 0
	case ProfileHigh:
		return 2
	}
	return 1
}

// SettingsFor returns recommended pool sizes for a profile. cpus caps the
// consolidation workers since bucket processing is CPU bound.
func SettingsFor(p Profile, cpus int) Settings {
	if cpus < 1 {
		cpus = 1
	}
	var s Settings
	switch p {
	case ProfileLow:
		s = Settings{Workers: 1, Lookups: 5, Detects: 5}
	case ProfileHigh:
		s = Settings{Workers: 8, Lookups: 20, Detects: 20}
	default:
		s = Settings{Workers: 4, Lookups: 10, Detects: 10}
	}
	s.Workers = min(s.Workers, cpus)
	return s
}

// Recommend detects the host and returns its settings.
func Recommend() (Settings, *SystemInfo) {
	info := Detect()
	return SettingsFor(info.Profile, info.NumCPU), info
}
