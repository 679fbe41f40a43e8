package fingerprint

import (
	"strconv"
	"strings"

	"github.com/rootsploit/infoauto/internal/store"
)

// maxPortSpan bounds how many services one "a-b" entry may expand to.
const maxPortSpan = 65535

// ExpandPorts turns a port entry ("80", "80-82" or "80,443") into
// host:port services. Malformed entries yield nothing.
func ExpandPorts(host, spec string) []string {
	spec = strings.TrimSpace(spec)
	var out []string
	switch {
	case strings.Contains(spec, "-"):
		lo, hi, _ := strings.Cut(spec, "-")
		a, err1 := strconv.Atoi(strings.TrimSpace(lo))
		b, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil || a > b || b-a > maxPortSpan {
			return nil
		}
		for p := a; p <= b; p++ {
			out = append(out, host+":"+strconv.Itoa(p))
		}
	case strings.Contains(spec, ","):
		for _, p := range strings.Split(spec, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, host+":"+p)
			}
		}
	case spec != "":
		out = append(out, host+":"+spec)
	}
	return out
}

// BuildServices lists what should be fingerprinted: every subdomain that
// resolved, and every open port with its address swapped for a subdomain
// that resolved to it.
func BuildServices(subdomains []store.Row, ports []string) []string {
	var out []string
	byIP := make(map[string]string)
	for _, r := range subdomains {
		ips := r.Get(store.ColIP)
		if ips == "" {
			continue
		}
		out = append(out, r.Name)
		for _, ip := range strings.Split(ips, ",") {
			byIP[strings.TrimSpace(ip)] = r.Name
		}
	}

	for _, entry := range ports {
		ip, spec, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		host := ip
		if name, ok := byIP[ip]; ok {
			host = name
		}
		out = append(out, ExpandPorts(host, spec)...)
	}
	return out
}
