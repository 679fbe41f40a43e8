package exec

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rootsploit/infoauto/internal/debug"
)

// processManager tracks all running child processes for cleanup
var (
	runningProcesses = make(map[int]*exec.Cmd)
	processMu        sync.Mutex
)

func trackProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		processMu.Lock()
		runningProcesses[cmd.Process.Pid] = cmd
		processMu.Unlock()
	}
}

func untrackProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		processMu.Lock()
		delete(runningProcesses, cmd.Process.Pid)
		processMu.Unlock()
	}
}

// Running returns how many tracked child processes are alive.
func Running() int {
	processMu.Lock()
	defer processMu.Unlock()
	return len(runningProcesses)
}

// KillAllProcesses terminates all tracked child processes and their process groups
func KillAllProcesses() {
	processMu.Lock()
	defer processMu.Unlock()

	for pid, cmd := range runningProcesses {
		if cmd.Process != nil {
			// Negative PID targets the whole process group
			syscall.Kill(-pid, syscall.SIGKILL)
			cmd.Process.Kill()
		}
	}
	runningProcesses = make(map[int]*exec.Cmd)
}

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

type Result struct {
	Stdout, Stderr string
	ExitCode       int
	Duration       time.Duration
	Error          error
}

// OK reports a zero exit with no start or wait error.
func (r *Result) OK() bool {
	return r.Error == nil
}

// TimedOut reports whether the command was killed by its timeout.
func (r *Result) TimedOut() bool {
	return errors.Is(r.Error, context.DeadlineExceeded)
}

type Options struct {
	Timeout time.Duration
}

// Runner runs an external command. Stages take a Runner so tests can
// replace the real tools with canned output.
type Runner func(ctx context.Context, name string, args []string, opts *Options) *Result

// Run executes name with args in its own process group, capturing stdout
// and stderr. The command is killed when ctx is done or the timeout expires.
func Run(ctx context.Context, name string, args []string, opts *Options) *Result {
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := debug.LogStart(name, args)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)

	// Create new process group so we can kill all child processes
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Capture both stdout and stderr to prevent leaking to terminal
	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Start()
	if err == nil {
		trackProcess(cmd)
		err = cmd.Wait()
		untrackProcess(cmd)
	}

	r := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		r.Error = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.Error = errors.Join(ctxErr, err)
		}
	}

	debug.LogEnd(name, args, start, r.Error, len(Lines(r.Stdout)))
	return r
}

// WriteTempFile writes content to a new temp file and returns its path.
func WriteTempFile(content, suffix string) (string, error) {
	f, err := os.CreateTemp("", "infoauto-*"+suffix)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	f.Close()
	return f.Name(), nil
}

// ReadLines returns the non-blank, trimmed lines of path.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ScanLines(f)
}

// ScanLines returns the non-blank, trimmed lines of r.
func ScanLines(r io.Reader) ([]string, error) {
	var lines []string
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		if l := strings.TrimSpace(s.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, s.Err()
}

func Lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// TempFile is WriteTempFile plus a func that removes the file.
func TempFile(content, suffix string) (string, func(), error) {
	path, err := WriteTempFile(content, suffix)
	if err != nil {
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}
