// Package cloudrange downloads, caches and matches published cloud and CDN
// IPv4 ranges. The classify stage uses it to tell cloud-hosted addresses
// apart from directly hosted ones without shelling out per address.
package cloudrange

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

const awsRangesURL = "https://ip-ranges.amazonaws.com/ip-ranges.json"

// Cloud provider IP range sources from lord-alfred/ipranges
var cloudSources = map[string]string{
	"aws":          "https://raw.githubusercontent.com/lord-alfred/ipranges/main/amazon/ipv4_merged.txt",
	"azure":        "https://raw.githubusercontent.com/lord-alfred/ipranges/main/microsoft/ipv4_merged.txt",
	"gcp":          "https://raw.githubusercontent.com/lord-alfred/ipranges/main/google/ipv4_merged.txt",
	"oracle":       "https://raw.githubusercontent.com/lord-alfred/ipranges/main/oracle/ipv4_merged.txt",
	"digitalocean": "https://raw.githubusercontent.com/lord-alfred/ipranges/main/digitalocean/ipv4_merged.txt",
	"linode":       "https://raw.githubusercontent.com/lord-alfred/ipranges/main/linode/ipv4_merged.txt",
	"vultr":        "https://raw.githubusercontent.com/lord-alfred/ipranges/main/vultr/ipv4_merged.txt",
}

// CDN IP range sources from schniggie/cdn-ranges. CloudFront is read from
// the AWS JSON feed instead.
var cdnSources = map[string]string{
	"cloudflare": "https://raw.githubusercontent.com/schniggie/cdn-ranges/main/cloudflare/ipv4.txt",
	"cloudfront": awsRangesURL,
	"akamai":     "https://raw.githubusercontent.com/schniggie/cdn-ranges/main/akamai/ipv4.txt",
	"fastly":     "https://raw.githubusercontent.com/schniggie/cdn-ranges/main/fastly/ipv4.txt",
	"incapsula":  "https://raw.githubusercontent.com/schniggie/cdn-ranges/main/incapsula/ipv4.txt",
	"gcore":      "https://raw.githubusercontent.com/schniggie/cdn-ranges/main/gcore/ipv4.txt",
}

// Providers returns every known provider name, sorted.
func Providers() []string {
	out := make([]string, 0, len(cloudSources)+len(cdnSources))
	for p := range cloudSources {
		out = append(out, p)
	}
	for p := range cdnSources {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func sourceURL(provider string) (string, bool) {
	p := strings.ToLower(provider)
	if u, ok := cloudSources[p]; ok {
		return u, true
	}
	u, ok := cdnSources[p]
	return u, ok
}

// Fetcher downloads provider range lists.
type Fetcher struct {
	Client     *http.Client
	MaxRetries uint64
	// URLs overrides the built-in source for a provider.
	URLs map[string]string
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
	}
}

// Fetch returns the CIDR lines published for provider.
func (f *Fetcher) Fetch(ctx context.Context, provider string) ([]string, error) {
	url, ok := f.URLs[strings.ToLower(provider)]
	if !ok {
		url, ok = sourceURL(provider)
	}
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	var body []byte
	op := func() error {
		b, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", provider, err)
	}

	if strings.HasSuffix(url, ".json") {
		return ParseAWSRanges(body, strings.ToUpper(provider)), nil
	}
	return ParseRangeList(strings.NewReader(string(body)))
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// ParseRangeList reads one CIDR per line, skipping blanks and # comments.
func ParseRangeList(r io.Reader) ([]string, error) {
	var ranges []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			ranges = append(ranges, line)
		}
	}
	return ranges, scanner.Err()
}

// ParseAWSRanges extracts IPv4 prefixes for one service from the AWS
// ip-ranges.json feed.
func ParseAWSRanges(body []byte, service string) []string {
	var ranges []string
	gjson.GetBytes(body, "prefixes").ForEach(func(_, p gjson.Result) bool {
		if p.Get("service").String() == service {
			ranges = append(ranges, p.Get("ip_prefix").String())
		}
		return true
	})
	return ranges
}
