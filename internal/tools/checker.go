package tools

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type Checker struct {
	lookPath func(string) (string, error)
	version  func(bin string, args []string) string
}

func NewChecker() *Checker {
	c := &Checker{lookPath: exec.LookPath}
	c.version = c.versionFast
	return c
}

// CheckAll checks every tool in parallel; results keep Tools() order.
func (c *Checker) CheckAll() []ToolStatus {
	list := Tools()
	out := make([]ToolStatus, len(list))

	var wg sync.WaitGroup
	for i, t := range list {
		wg.Add(1)
		go func(idx int, tool Tool) {
			defer wg.Done()
			out[idx] = c.check(tool)
		}(i, t)
	}
	wg.Wait()
	return out
}

func (c *Checker) IsInstalled(name string) bool {
	_, err := c.lookPath(name)
	return err == nil
}

// GetMissingRequired returns the names of required tools not on PATH.
func (c *Checker) GetMissingRequired() []string {
	var missing []string
	for _, t := range Tools() {
		if t.Required && !c.IsInstalled(t.Binary) {
			missing = append(missing, t.Name)
		}
	}
	return missing
}

func (c *Checker) check(t Tool) ToolStatus {
	installed := c.IsInstalled(t.Binary)
	s := ToolStatus{Name: t.Name, Installed: installed, Required: t.Required}
	if installed {
		s.Version = c.version(t.Binary, t.VersionArgs)
	}
	return s
}

// versionFast returns the first output line of the version flag, with a short timeout
func (c *Checker) versionFast(bin string, args []string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// host -V and masscan --version print to stderr
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			if len(v) > 40 {
				return v[:40] + "..."
			}
			return v
		}
	}
	return ""
}
