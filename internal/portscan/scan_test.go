package portscan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/rootsploit/infoauto/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masscanOutput = `Starting masscan 1.3.2 (http://bit.ly/14GZzcT) at 2024-01-01 00:00:00 GMT
Initiating SYN Stealth Scan
Scanning 2 hosts [65535 ports/host]
Discovered open port 22/tcp on 192.0.2.10
Discovered open port 443/tcp on 192.0.2.10
Discovered open port 80/tcp on 192.0.2.11
Discovered open port 53/udp on 192.0.2.11
`

func TestParseOutput(t *testing.T) {
	assert.Equal(t, []string{
		"192.0.2.10:22", "192.0.2.10:443", "192.0.2.11:80", "192.0.2.11:53",
	}, ParseOutput(masscanOutput))
	assert.Empty(t, ParseOutput("Discovered open port\nrate: 0.00-kpps\n"))
}

func TestFilterNoisy(t *testing.T) {
	var in []string
	for p := 1; p <= 60; p++ {
		in = append(in, fmt.Sprintf("192.0.2.99:%d", p))
	}
	in = append(in, "192.0.2.10:22")

	kept, noisy := FilterNoisy(in, 60)
	assert.Equal(t, []string{"192.0.2.10:22"}, kept)
	assert.Equal(t, []string{"192.0.2.99"}, noisy)

	kept, noisy = FilterNoisy(in[:59], 60)
	assert.Len(t, kept, 59)
	assert.Empty(t, noisy)

	kept, _ = FilterNoisy(in, 0)
	assert.Len(t, kept, 61)
}

func TestArgs(t *testing.T) {
	s, err := NewScanner(storetest.New(t), nil, Options{Rate: 1000, ExtraArgs: `--source-port 61000 --exclude "10.0.0.0/8"`})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-p1-65535", "192.0.2.10,192.0.2.11", "--rate", "1000", "--wait", "0",
		"--source-port", "61000", "--exclude", "10.0.0.0/8",
	}, s.Args([]string{"192.0.2.10", "192.0.2.11"}))

	_, err = NewScanner(storetest.New(t), nil, Options{ExtraArgs: `--exclude "unterminated`})
	assert.Error(t, err)
}

func TestScannerRun(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	storetest.Seed(t, st, store.SheetTargets, "192.0.2.10", "192.0.2.11", "192.0.2.12")

	var batches [][]string
	run := func(_ context.Context, name string, args []string, _ *exec.Options) *exec.Result {
		batches = append(batches, strings.Split(args[1], ","))
		return &exec.Result{Stdout: masscanOutput}
	}
	s, err := NewScanner(st, run, Options{Rate: 1000, Batch: 2, PortCap: 60})
	require.NoError(t, err)

	n, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, [][]string{{"192.0.2.10", "192.0.2.11"}, {"192.0.2.12"}}, batches)
	assert.Equal(t, []string{"192.0.2.10:22", "192.0.2.10:443", "192.0.2.11:80", "192.0.2.11:53"},
		storetest.Names(t, st, store.SheetPorts))
	assert.Len(t, storetest.Column(t, st, store.SheetTargets, store.ColScanned), 3)
}

func TestScannerMissingBinaryLeavesPending(t *testing.T) {
	st := storetest.New(t)
	storetest.Seed(t, st, store.SheetTargets, "192.0.2.10")

	run := func(context.Context, string, []string, *exec.Options) *exec.Result {
		return &exec.Result{Error: errors.New(`exec: "masscan": executable file not found in $PATH`)}
	}
	s, err := NewScanner(st, run, Options{})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, storetest.Column(t, st, store.SheetTargets, store.ColScanned))
}

func TestCommandUsesListFileForLongBatches(t *testing.T) {
	s, err := NewScanner(storetest.New(t), nil, Options{Rate: 500})
	require.NoError(t, err)

	args, cleanup, err := s.command([]string{"192.0.2.1"})
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, "192.0.2.1", args[1])

	var many []string
	for i := 0; i < 1000; i++ {
		many = append(many, fmt.Sprintf("198.51.%d.%d", i/250, i%250+1))
	}
	args, cleanup, err = s.command(many)
	require.NoError(t, err)
	require.Equal(t, "-iL", args[1])
	assert.Equal(t, []string{"-p1-65535", "-iL", args[2], "--rate", "500", "--wait", "0"}, args)

	lines, err := exec.ReadLines(args[2])
	require.NoError(t, err)
	assert.Equal(t, many, lines)

	cleanup()
	_, err = exec.ReadLines(args[2])
	assert.Error(t, err)
}
