//go:build darwin

package sysinfo

import "syscall"

func totalMemory() (int64, bool) {
	// hw.memsize is a raw little-endian uint64.
	raw, err := syscall.Sysctl("hw.memsize")
	if err != nil {
		return 0, false
	}
	b := []byte(raw)
	// Sysctl trims a trailing NUL, so pad back to eight bytes.
	for len(b) < 8 {
		b = append(b, 0)
	}
	var n uint64
	for i := 7; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return int64(n >> 20), true
}
