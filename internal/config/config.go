package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rootsploit/infoauto/internal/iprange"
	"github.com/rootsploit/infoauto/internal/sysinfo"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for infoauto
type Config struct {
	Workbook    WorkbookConfig    `yaml:"workbook"`
	Consolidate ConsolidateConfig `yaml:"consolidate"`
	Tools       ToolsConfig       `yaml:"tools"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`

	// Debug shows detailed timing logs for each tool execution
	Debug bool `yaml:"debug"`
}

// WorkbookConfig selects where records are kept.
type WorkbookConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"` // xlsx or sqlite
}

// ConsolidateConfig mirrors iprange.Options.
type ConsolidateConfig struct {
	MaxGap          int   `yaml:"max_gap"`
	ForwardPad      int   `yaml:"forward_pad"`
	BackwardPad     int   `yaml:"backward_pad"`
	ExcludeSuffixes []int `yaml:"exclude_suffixes"`
	FilterPrivate   bool  `yaml:"filter_private"`
	Workers         int   `yaml:"workers"` // 0 = sized to the machine
}

// ToolsConfig holds external tool settings.
type ToolsConfig struct {
	MasscanRate      int      `yaml:"masscan_rate"`
	MasscanPorts     string   `yaml:"masscan_ports"`
	MasscanBatch     int      `yaml:"masscan_batch"`
	PortCap          int      `yaml:"port_cap"`         // hosts with this many open ports are dropped
	NaliConcurrency  int      `yaml:"nali_concurrency"` // 0 = sized to the machine
	HostConcurrency  int      `yaml:"host_concurrency"` // 0 = sized to the machine
	CloudKeywords    []string `yaml:"cloud_keywords"`
	CloudRangesDir   string   `yaml:"cloud_ranges_dir"`
	UserAgent        string   `yaml:"user_agent"`
	HostTimeout      int      `yaml:"host_timeout"`      // seconds
	NaliTimeout      int      `yaml:"nali_timeout"`      // seconds
	MasscanTimeout   int      `yaml:"masscan_timeout"`   // minutes
	WhatwebTimeout   int      `yaml:"whatweb_timeout"`   // seconds
	FingerprintBatch int      `yaml:"fingerprint_batch"`

	// Resolver picks the resolve backend: "host" shells out, "dns" queries
	// DNSServers directly.
	Resolver   string   `yaml:"resolver"`
	DNSServers []string `yaml:"dns_servers"`

	// GeoIPASNDB is an optional GeoLite2-ASN.mmdb used during classify.
	GeoIPASNDB string `yaml:"geoip_asn_db"`

	// MasscanArgs is appended to every masscan command line.
	MasscanArgs string `yaml:"masscan_args"`

	ResolveRate     int `yaml:"resolve_rate"`     // lookups per second, 0 = unlimited
	FingerprintRate int `yaml:"fingerprint_rate"` // whatweb runs per second, 0 = unlimited
}

// PipelineConfig controls the fixed-point driver.
type PipelineConfig struct {
	MaxIterations int `yaml:"max_iterations"` // 0 = until nothing is left
	Interval      int `yaml:"interval"`       // seconds between iterations
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".infoauto")
	if err != nil {
		baseDir = "./.infoauto"
	}

	return &Config{
		Workbook: WorkbookConfig{
			Path:    "infoauto.xlsx",
			Backend: "xlsx",
		},
		Consolidate: ConsolidateConfig{
			MaxGap:          8,
			ForwardPad:      10,
			BackwardPad:     10,
			ExcludeSuffixes: []int{0, 255},
			FilterPrivate:   true,
			Workers:         0,
		},
		Tools: ToolsConfig{
			MasscanRate:     1000,
			MasscanPorts:    "1-65535",
			MasscanBatch:    10,
			PortCap:         60,
			NaliConcurrency: 0,
			HostConcurrency: 0,
			CloudKeywords: []string{
				"腾讯云", "阿里云", "Amazon", "AWS", "Azure", "Google Cloud",
				"华为云", "百度云", "ucloud", "青云", "Cloud", "云",
			},
			CloudRangesDir:   filepath.Join(baseDir, "cloud-ranges"),
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			HostTimeout:      15,
			NaliTimeout:      15,
			MasscanTimeout:   60,
			WhatwebTimeout:   60,
			FingerprintBatch: 20,
			Resolver:         "host",
			DNSServers:       []string{"8.8.8.8:53", "114.114.114.114:53"},
			ResolveRate:      50,
			FingerprintRate:  5,
		},
		Pipeline: PipelineConfig{
			MaxIterations: 0,
			Interval:      5,
		},
	}
}

// DefaultPath returns ~/.infoauto/config.yaml
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".infoauto", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnv(os.Getenv)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	header := `# infoauto configuration
# Flags passed on the command line override these values

`
	return os.WriteFile(path, []byte(header+string(data)), 0600)
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Workbook.Backend) {
	case "xlsx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("workbook.backend: unknown backend %q", c.Workbook.Backend))
	}
	if c.Workbook.Path == "" {
		errs = append(errs, errors.New("workbook.path: must be set"))
	}

	cc := c.Consolidate
	if cc.MaxGap < 0 {
		errs = append(errs, fmt.Errorf("consolidate.max_gap: %d is negative", cc.MaxGap))
	}
	if cc.ForwardPad < 0 {
		errs = append(errs, fmt.Errorf("consolidate.forward_pad: %d is negative", cc.ForwardPad))
	}
	if cc.BackwardPad < 0 {
		errs = append(errs, fmt.Errorf("consolidate.backward_pad: %d is negative", cc.BackwardPad))
	}
	for _, s := range cc.ExcludeSuffixes {
		if s < 0 || s > 255 {
			errs = append(errs, fmt.Errorf("consolidate.exclude_suffixes: %d is not an octet", s))
		}
	}

	if c.Tools.MasscanBatch < 1 {
		errs = append(errs, fmt.Errorf("tools.masscan_batch: %d must be at least 1", c.Tools.MasscanBatch))
	}
	if c.Tools.PortCap < 1 {
		errs = append(errs, fmt.Errorf("tools.port_cap: %d must be at least 1", c.Tools.PortCap))
	}
	switch c.Tools.Resolver {
	case "host":
	case "dns":
		if len(c.Tools.DNSServers) == 0 {
			errs = append(errs, errors.New("tools.dns_servers: required when resolver is dns"))
		}
	default:
		errs = append(errs, fmt.Errorf("tools.resolver: unknown resolver %q", c.Tools.Resolver))
	}
	if c.Tools.ResolveRate < 0 || c.Tools.FingerprintRate < 0 {
		errs = append(errs, errors.New("tools: rates cannot be negative"))
	}
	if c.Pipeline.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations: %d is negative", c.Pipeline.MaxIterations))
	}
	if c.Pipeline.Interval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.interval: %d is negative", c.Pipeline.Interval))
	}

	return errors.Join(errs...)
}

// ApplySettings fills the pool sizes left at zero.
func (c *Config) ApplySettings(s sysinfo.Settings) {
	if c.Consolidate.Workers == 0 {
		c.Consolidate.Workers = s.Workers
	}
	if c.Tools.HostConcurrency == 0 {
		c.Tools.HostConcurrency = s.Lookups
	}
	if c.Tools.NaliConcurrency == 0 {
		c.Tools.NaliConcurrency = s.Detects
	}
}

// ConsolidateOptions converts the consolidate section for the engine.
// Call Validate first; out-of-range suffixes are ignored here.
func (c *Config) ConsolidateOptions() iprange.Options {
	cc := c.Consolidate
	suffixes := make([]uint8, 0, len(cc.ExcludeSuffixes))
	for _, s := range cc.ExcludeSuffixes {
		if s >= 0 && s <= 255 {
			suffixes = append(suffixes, uint8(s))
		}
	}

	opts := iprange.DefaultOptions()
	opts.MaxGap = cc.MaxGap
	opts.ForwardPad = cc.ForwardPad
	opts.BackwardPad = cc.BackwardPad
	opts.Exclude = iprange.NewExcludePolicy(suffixes...)
	opts.FilterPrivate = cc.FilterPrivate
	opts.Workers = cc.Workers
	return opts
}
