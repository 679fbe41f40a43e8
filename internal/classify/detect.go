package classify

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/rootsploit/infoauto/internal/cloudrange"
	"github.com/rootsploit/infoauto/internal/exec"
)

// Verdict is what a detector decided about one address.
type Verdict struct {
	Cloud bool
	// Provider names the cloud, keyword or range that matched.
	Provider string
	// Source is the detector that produced the verdict.
	Source string
}

// Detector decides whether an address belongs to a cloud provider. An
// error means the detector could not tell.
type Detector interface {
	Name() string
	Detect(ctx context.Context, ip string) (Verdict, error)
}

// MatchKeyword returns the first keyword contained in text, ignoring case.
func MatchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

// RangeDetector matches published provider ranges.
type RangeDetector struct {
	Set *cloudrange.Set
}

func (d *RangeDetector) Name() string { return "ranges" }

func (d *RangeDetector) Detect(_ context.Context, ip string) (Verdict, error) {
	if p, ok := d.Set.Lookup(ip); ok {
		return Verdict{Cloud: true, Provider: p, Source: d.Name()}, nil
	}
	return Verdict{Source: d.Name()}, nil
}

// NaliDetector runs nali on the address and matches its location text
// against cloud keywords.
type NaliDetector struct {
	Run      exec.Runner
	Keywords []string
	Timeout  time.Duration
}

func (d *NaliDetector) Name() string { return "nali" }

func (d *NaliDetector) Detect(ctx context.Context, ip string) (Verdict, error) {
	r := d.Run(ctx, "nali", []string{ip}, &exec.Options{Timeout: d.Timeout})
	if !r.OK() {
		return Verdict{}, fmt.Errorf("nali %s: %w", ip, r.Error)
	}
	out := strings.TrimSpace(r.Stdout)
	if k, ok := MatchKeyword(out, d.Keywords); ok {
		return Verdict{Cloud: true, Provider: k, Source: d.Name()}, nil
	}
	return Verdict{Source: d.Name()}, nil
}

// ASNDetector matches the owning organisation from a GeoLite2-ASN
// database against cloud keywords.
type ASNDetector struct {
	Keywords []string
	org      func(ip net.IP) (string, error)
	closer   func() error
}

// OpenASN opens a GeoLite2-ASN .mmdb file.
func OpenASN(path string, keywords []string) (*ASNDetector, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asn db: %w", err)
	}
	return &ASNDetector{
		Keywords: keywords,
		org: func(ip net.IP) (string, error) {
			rec, err := db.ASN(ip)
			if err != nil {
				return "", err
			}
			return rec.AutonomousSystemOrganization, nil
		},
		closer: db.Close,
	}, nil
}

func (d *ASNDetector) Name() string { return "asn" }

func (d *ASNDetector) Detect(_ context.Context, ip string) (Verdict, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Verdict{}, fmt.Errorf("asn: bad address %q", ip)
	}
	org, err := d.org(parsed)
	if err != nil {
		return Verdict{}, fmt.Errorf("asn %s: %w", ip, err)
	}
	if _, ok := MatchKeyword(org, d.Keywords); ok {
		return Verdict{Cloud: true, Provider: org, Source: d.Name()}, nil
	}
	return Verdict{Source: d.Name()}, nil
}

func (d *ASNDetector) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
