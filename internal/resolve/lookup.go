package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/iprange"
)

// Record is one "name has address ip" answer.
type Record struct {
	Name string
	IP   string
}

// Answer is what a lookup returned for one subdomain.
type Answer struct {
	Records []Record
	// Alias is set when the name is a CNAME; its addresses belong to a
	// CDN or shared front and are not kept as hosts.
	Alias bool
}

// Addresses returns the distinct addresses of a, in answer order.
func (a *Answer) Addresses() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range a.Records {
		if !seen[r.IP] {
			seen[r.IP] = true
			out = append(out, r.IP)
		}
	}
	return out
}

// Canonical returns the first answer name that differs from name, or "".
func (a *Answer) Canonical(name string) string {
	for _, r := range a.Records {
		if !strings.EqualFold(r.Name, name) {
			return r.Name
		}
	}
	return ""
}

// Lookup resolves one subdomain.
type Lookup interface {
	Lookup(ctx context.Context, name string) (*Answer, error)
}

// HostLookup shells out to host(1).
type HostLookup struct {
	Run     exec.Runner
	Timeout time.Duration
}

func NewHostLookup(timeout time.Duration) *HostLookup {
	return &HostLookup{Run: exec.Run, Timeout: timeout}
}

func (h *HostLookup) Lookup(ctx context.Context, name string) (*Answer, error) {
	r := h.Run(ctx, "host", []string{name}, &exec.Options{Timeout: h.Timeout})
	// host exits 1 on NXDOMAIN, which is still an answer. No exit code
	// means it never ran or was killed.
	if r.Error != nil && r.ExitCode <= 0 {
		return nil, fmt.Errorf("host %s: %w", name, r.Error)
	}
	return ParseHost(r.Stdout), nil
}

// ParseHost extracts the address records from host(1) output. Any mention
// of "alias" anywhere marks the whole answer as an alias.
func ParseHost(out string) *Answer {
	a := &Answer{Alias: strings.Contains(strings.ToLower(out), "alias")}
	for _, line := range exec.Lines(out) {
		if !strings.Contains(strings.ToLower(line), "has address") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 4 {
			continue
		}
		ip, err := iprange.ParseAddress(f[len(f)-1])
		if err != nil {
			continue
		}
		a.Records = append(a.Records, Record{Name: strings.TrimSuffix(f[0], ":"), IP: ip.String()})
	}
	return a
}

// DNSLookup queries A records directly, trying each server in turn.
type DNSLookup struct {
	Client  *dns.Client
	Servers []string
}

func NewDNSLookup(servers []string, timeout time.Duration) *DNSLookup {
	return &DNSLookup{
		Client:  &dns.Client{Timeout: timeout},
		Servers: servers,
	}
}

func (d *DNSLookup) Lookup(ctx context.Context, name string) (*Answer, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, srv := range d.Servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := d.Client.ExchangeContext(ctx, msg, srv)
		if err != nil {
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return answerFromMsg(resp), nil
		case dns.RcodeNameError:
			return &Answer{}, nil
		default:
			lastErr = fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no dns servers configured")
	}
	return nil, fmt.Errorf("lookup %s: %w", name, lastErr)
}

func answerFromMsg(m *dns.Msg) *Answer {
	a := &Answer{}
	for _, rr := range m.Answer {
		switch rec := rr.(type) {
		case *dns.CNAME:
			a.Alias = true
		case *dns.A:
			a.Records = append(a.Records, Record{
				Name: strings.TrimSuffix(rec.Hdr.Name, "."),
				IP:   rec.A.String(),
			})
		}
	}
	return a
}
