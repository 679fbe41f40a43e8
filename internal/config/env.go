package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none
// are given) into the process environment. Variables already set win.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides settings from INFOAUTO_* variables. Unparseable
// numbers and booleans are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = n
		}
	}

	str("INFOAUTO_WORKBOOK", &c.Workbook.Path)
	str("INFOAUTO_BACKEND", &c.Workbook.Backend)
	str("INFOAUTO_RESOLVER", &c.Tools.Resolver)
	str("INFOAUTO_GEOIP_ASN_DB", &c.Tools.GeoIPASNDB)
	str("INFOAUTO_MASSCAN_ARGS", &c.Tools.MasscanArgs)
	str("INFOAUTO_CLOUD_RANGES_DIR", &c.Tools.CloudRangesDir)
	num("INFOAUTO_MASSCAN_RATE", &c.Tools.MasscanRate)
	num("INFOAUTO_MAX_GAP", &c.Consolidate.MaxGap)
	num("INFOAUTO_WORKERS", &c.Consolidate.Workers)

	if v := getenv("INFOAUTO_DNS_SERVERS"); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		c.Tools.DNSServers = servers
	}
	if b, err := strconv.ParseBool(getenv("INFOAUTO_DEBUG")); err == nil {
		c.Debug = b
	}
}
