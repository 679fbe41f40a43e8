package pipeline

import "context"

// Stage names, in the order the driver runs them.
const (
	StageResolve     = "resolve"
	StageClassify    = "classify"
	StagePortscan    = "portscan"
	StageFingerprint = "fingerprint"
)

// StageNumber maps stages to their display number
var StageNumber = map[string]int{
	StageResolve:     1,
	StageClassify:    2,
	StagePortscan:    3,
	StageFingerprint: 4,
}

// StageTitle maps stages to their display name
var StageTitle = map[string]string{
	StageResolve:     "DNS Resolution",
	StageClassify:    "Cloud/Direct Classification",
	StagePortscan:    "Port Scanning",
	StageFingerprint: "HTTP Fingerprinting",
}

// Stage is one step of the pipeline. Run consumes pending rows from the
// store and returns how many it consumed; zero means nothing was pending.
type Stage interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Title returns the display title of a stage, falling back to its name.
func Title(name string) string {
	if t, ok := StageTitle[name]; ok {
		return t
	}
	return name
}
