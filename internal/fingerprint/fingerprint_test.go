package fingerprint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/rootsploit/infoauto/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPorts(t *testing.T) {
	assert.Equal(t, []string{"h:80"}, ExpandPorts("h", "80"))
	assert.Equal(t, []string{"h:80", "h:81", "h:82"}, ExpandPorts("h", "80-82"))
	assert.Equal(t, []string{"h:80", "h:443"}, ExpandPorts("h", "80, 443"))
	assert.Nil(t, ExpandPorts("h", "90-80"))
	assert.Nil(t, ExpandPorts("h", "a-b"))
	assert.Nil(t, ExpandPorts("h", ""))
}

func TestBuildServices(t *testing.T) {
	subs := []store.Row{
		{Name: "www.example.com", Fields: map[string]string{store.ColIP: "192.0.2.10,192.0.2.11"}},
		{Name: "dead.example.com", Fields: map[string]string{}},
	}
	got := BuildServices(subs, []string{"192.0.2.11:443", "192.0.2.50:8080-8081", "garbage"})
	assert.Equal(t, []string{
		"www.example.com",
		"www.example.com:443",
		"192.0.2.50:8080", "192.0.2.50:8081",
	}, got)
}

func TestParseStatus(t *testing.T) {
	out := "http://www.example.com [200 OK] Country[UNITED STATES][US], HTTPServer[ECS (dcb/7EA3)], IP[93.184.216.34], Title[Example Domain]\n"
	assert.Equal(t, "200", ParseStatus(out))
	assert.Equal(t, StatusUnknown, ParseStatus("ERROR Opening: http://x - Connection refused\n"))
}

func TestArgs(t *testing.T) {
	f := New(storetest.New(t), nil, Options{UserAgent: "ua/1.0"})
	assert.Equal(t, []string{"--no-error", "--color=never", "--user-agent=ua/1.0", "www.example.com:443"},
		f.Args("www.example.com:443"))
}

func TestFingerprinterRun(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	storetest.Seed(t, st, store.SheetSubdomains, "www.example.com", "dead.example.com")
	storetest.Set(t, st, store.SheetSubdomains, store.ColIP, map[string]string{"www.example.com": "192.0.2.10"})
	storetest.Seed(t, st, store.SheetPorts, "192.0.2.10:8443", "192.0.2.99:22")

	var mu sync.Mutex
	var seen []string
	run := func(_ context.Context, _ string, args []string, _ *exec.Options) *exec.Result {
		target := args[len(args)-1]
		mu.Lock()
		seen = append(seen, target)
		mu.Unlock()
		switch target {
		case "www.example.com":
			return &exec.Result{Stdout: "http://www.example.com [301 Moved Permanently] RedirectLocation[https://www.example.com/]\nhttps://www.example.com/ [200 OK] Title[Example]\n"}
		case "192.0.2.99:22":
			return &exec.Result{Error: errors.New("signal: killed"), ExitCode: -1}
		}
		return &exec.Result{}
	}
	f := New(st, run, Options{Concurrency: 2})

	n, err := f.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"www.example.com", "www.example.com:8443", "192.0.2.99:22"}, seen)

	assert.Equal(t, map[string]string{
		"www.example.com":      "301",
		"www.example.com:8443": StatusUnknown,
		"192.0.2.99:22":        "Error: signal: killed",
	}, storetest.Column(t, st, store.SheetFingerprints, store.ColStatus))
	assert.Equal(t,
		"http://www.example.com [301 Moved Permanently] RedirectLocation[https://www.example.com/]",
		storetest.Column(t, st, store.SheetFingerprints, store.ColFingerprint)["www.example.com"])

	n, err = f.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
