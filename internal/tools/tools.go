package tools

// Tool is an external binary a pipeline stage shells out to.
type Tool struct {
	Name        string
	Binary      string
	Stage       string
	VersionArgs []string
	Required    bool
	// Packages maps a package manager to the package providing the tool.
	Packages map[string]string
	// GoInstall is used when no system package exists.
	GoInstall string
}

type ToolStatus struct {
	Name, Version string
	Installed     bool
	Required      bool
}

// Tools lists every tool used by the pipeline, in stage order.
func Tools() []Tool {
	return []Tool{
		{
			Name:        "host",
			Binary:      "host",
			Stage:       "resolve",
			VersionArgs: []string{"-V"},
			Required:    true,
			Packages: map[string]string{
				"apt": "bind9-host", "apt-get": "bind9-host",
				"dnf": "bind-utils", "yum": "bind-utils",
				"pacman": "bind", "apk": "bind-tools", "brew": "bind",
			},
		},
		{
			Name:        "nali",
			Binary:      "nali",
			Stage:       "classify",
			VersionArgs: []string{"--version"},
			Required:    false,
			GoInstall:   "github.com/zu1k/nali@latest",
		},
		{
			Name:        "masscan",
			Binary:      "masscan",
			Stage:       "portscan",
			VersionArgs: []string{"--version"},
			Required:    true,
			Packages: map[string]string{
				"apt": "masscan", "apt-get": "masscan", "dnf": "masscan", "yum": "masscan",
				"pacman": "masscan", "brew": "masscan",
			},
		},
		{
			Name:        "whatweb",
			Binary:      "whatweb",
			Stage:       "fingerprint",
			VersionArgs: []string{"--version"},
			Required:    true,
			Packages: map[string]string{
				"apt": "whatweb", "apt-get": "whatweb", "pacman": "whatweb", "brew": "whatweb",
			},
		},
	}
}

// ByName returns the tool called name.
func ByName(name string) (Tool, bool) {
	for _, t := range Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
