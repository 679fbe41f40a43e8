// Package debug prints opt-in timing lines for tool runs and pipeline stages
// and keeps them for an end-of-run summary.
package debug

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	enabled bool
	mu      sync.Mutex
	tools   []ToolEntry
	stages  []StageEntry
)

type ToolEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Tool      string        `json:"tool"`
	Args      string        `json:"args"`
	Duration  time.Duration `json:"duration"`
	Failed    bool          `json:"failed"`
	Lines     int           `json:"lines"`
}

type StageEntry struct {
	Stage     string        `json:"stage"`
	Iteration int           `json:"iteration"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
}

// Enable turns on debug logging
func Enable() {
	mu.Lock()
	enabled = true
	mu.Unlock()
}

// IsEnabled returns whether debug logging is enabled
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Reset drops everything recorded so far and disables logging.
func Reset() {
	mu.Lock()
	enabled = false
	tools = nil
	stages = nil
	mu.Unlock()
}

func stamp(t time.Time) string { return t.Format("15:04:05.000") }

// LogStart logs the start of a tool execution
func LogStart(tool string, args []string) time.Time {
	start := time.Now()
	if !IsEnabled() {
		return start
	}
	gray := color.New(color.FgHiBlack)
	gray.Printf("    [DEBUG %s] START: %s %s\n", stamp(start), tool, strings.Join(args, " "))
	return start
}

// LogEnd logs the completion of a tool execution
func LogEnd(tool string, args []string, start time.Time, err error, outputLines int) {
	if !IsEnabled() {
		return
	}
	end := time.Now()
	duration := end.Sub(start)

	status := "OK"
	statusColor := color.New(color.FgGreen)
	if err != nil {
		status = fmt.Sprintf("ERROR: %v", err)
		statusColor = color.New(color.FgRed)
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("    [DEBUG %s] END:   %s ", stamp(end), tool)
	statusColor.Printf("%s", status)
	gray.Printf(" (duration: %s, output: %d lines)\n", duration.Round(time.Millisecond), outputLines)

	mu.Lock()
	tools = append(tools, ToolEntry{
		Timestamp: end,
		Tool:      tool,
		Args:      strings.Join(args, " "),
		Duration:  duration,
		Failed:    err != nil,
		Lines:     outputLines,
	})
	mu.Unlock()
}

// LogStageStart logs the start of a pipeline stage
func LogStageStart(stage string, iteration int) time.Time {
	start := time.Now()
	if !IsEnabled() {
		return start
	}
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("    [DEBUG %s] STAGE START: %s (iteration %d)\n", stamp(start), stage, iteration)
	return start
}

// LogStageEnd logs the end of a pipeline stage
func LogStageEnd(stage string, iteration int, start time.Time, processed int) {
	if !IsEnabled() {
		return
	}
	duration := time.Since(start)
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Printf("    [DEBUG %s] STAGE END:   %s (processed: %d, total: %s)\n",
		stamp(time.Now()), stage, processed, duration.Round(time.Millisecond))

	mu.Lock()
	stages = append(stages, StageEntry{Stage: stage, Iteration: iteration, Duration: duration, Processed: processed})
	mu.Unlock()
}

// ToolStat aggregates every run of one tool.
type ToolStat struct {
	Tool     string
	Runs     int
	Failures int
	Total    time.Duration
}

// ToolStats groups recorded tool runs by tool, slowest first.
func ToolStats() []ToolStat {
	mu.Lock()
	defer mu.Unlock()

	byTool := make(map[string]*ToolStat)
	for _, e := range tools {
		st, ok := byTool[e.Tool]
		if !ok {
			st = &ToolStat{Tool: e.Tool}
			byTool[e.Tool] = st
		}
		st.Runs++
		st.Total += e.Duration
		if e.Failed {
			st.Failures++
		}
	}

	out := make([]ToolStat, 0, len(byTool))
	for _, st := range byTool {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// Summary prints a summary of all tool executions
func Summary() {
	if !IsEnabled() {
		return
	}
	stats := ToolStats()
	if len(stats) == 0 {
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("═══════════════════════════════════════════════════════")
	cyan.Println("                    DEBUG SUMMARY")
	cyan.Println("═══════════════════════════════════════════════════════")

	var total time.Duration
	runs := 0
	for _, st := range stats {
		status := "✓"
		if st.Failures > 0 {
			status = "✗"
		}
		fmt.Printf("  %s %-12s %5d runs %4d failed %10s\n", status, st.Tool, st.Runs, st.Failures, st.Total.Round(time.Millisecond))
		total += st.Total
		runs += st.Runs
	}

	fmt.Println("───────────────────────────────────────────────────────")
	fmt.Printf("  Total tool execution time: %s\n", total.Round(time.Millisecond))
	fmt.Printf("  Tools executed: %d\n", runs)
	cyan.Println("═══════════════════════════════════════════════════════")
}

// GetToolLogs returns all logged tool runs
func GetToolLogs() []ToolEntry {
	mu.Lock()
	defer mu.Unlock()
	return append([]ToolEntry{}, tools...)
}

// GetStageLogs returns all logged stage runs
func GetStageLogs() []StageEntry {
	mu.Lock()
	defer mu.Unlock()
	return append([]StageEntry{}, stages...)
}
