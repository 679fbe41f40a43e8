package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/rootsploit/infoauto/internal/debug"
)

// Status represents the execution status of a stage
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StopReason says why the driver stopped looping.
type StopReason string

const (
	StopDrained       StopReason = "drained"
	StopMaxIterations StopReason = "max_iterations"
	StopCanceled      StopReason = "canceled"
)

// StageResult represents the outcome of one stage in one iteration
type StageResult struct {
	Iteration int
	Stage     string
	Status    Status
	Processed int
	StartTime time.Time
	Duration  time.Duration
	Err       error
}

// Report summarises a driver run.
type Report struct {
	RunID      string
	StartTime  time.Time
	EndTime    time.Time
	Iterations int
	Processed  int
	StopReason StopReason
	Results    []StageResult
}

// Failures returns the results of stages that returned an error.
func (r *Report) Failures() []StageResult {
	var out []StageResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Driver runs its stages in order, over and over, until an iteration
// consumes nothing. A stage that fails is logged and the loop moves on.
type Driver struct {
	Stages []Stage

	// MaxIterations caps the loop; 0 means no cap.
	MaxIterations int

	// Interval is the pause between iterations.
	Interval time.Duration

	Logger *log.Logger

	// OnStage, when set, is called after every stage.
	OnStage func(StageResult)
}

// Run loops until the stages drain, MaxIterations is reached or ctx is
// done. The returned error is only ever the context's.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	report := &Report{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
	}
	logger = logger.With("run", report.RunID[:8])
	defer func() { report.EndTime = time.Now() }()

	for iteration := 1; ; iteration++ {
		report.Iterations = iteration
		sum := 0

		for _, stage := range d.Stages {
			if err := ctx.Err(); err != nil {
				report.StopReason = StopCanceled
				return report, err
			}

			res := d.runStage(ctx, stage, iteration, logger)
			report.Results = append(report.Results, res)
			if d.OnStage != nil {
				d.OnStage(res)
			}
			if res.Status == StatusCompleted {
				sum += res.Processed
			}
		}

		report.Processed += sum
		logger.Info("iteration finished", "iteration", iteration, "processed", sum)

		if sum == 0 {
			report.StopReason = StopDrained
			return report, nil
		}
		if d.MaxIterations > 0 && iteration >= d.MaxIterations {
			report.StopReason = StopMaxIterations
			return report, nil
		}

		if d.Interval > 0 {
			t := time.NewTimer(d.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				report.StopReason = StopCanceled
				return report, ctx.Err()
			case <-t.C:
			}
		}
	}
}

func (d *Driver) runStage(ctx context.Context, stage Stage, iteration int, logger *log.Logger) StageResult {
	name := stage.Name()
	start := debug.LogStageStart(name, iteration)

	n, err := stage.Run(ctx)
	res := StageResult{
		Iteration: iteration,
		Stage:     name,
		Status:    StatusCompleted,
		Processed: n,
		StartTime: start,
		Duration:  time.Since(start),
	}

	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Status = StatusSkipped
		res.Err = err
	case err != nil:
		res.Status = StatusFailed
		res.Err = err
		logger.Error("stage failed", "stage", name, "iteration", iteration, "err", err)
	default:
		logger.Debug("stage done", "stage", name, "processed", n, "took", res.Duration.Round(time.Millisecond))
	}

	debug.LogStageEnd(name, iteration, start, n)
	return res
}
