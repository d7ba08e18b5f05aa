// Package loop drives multi-step tasks that one retry-executor call
// cannot resolve (analyze, draft, refine). The loop is a finite state
// machine with exactly three terminal outcomes plus cancellation, and
// it never spins past the iteration cap even if the step function
// always asks to continue.
package loop

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// Directive is a step function's instruction to the loop.
type Directive string

const (
	// Continue runs another iteration.
	Continue Directive = "continue"

	// Complete ends the loop successfully.
	Complete Directive = "complete"

	// Fail ends the loop as a failure.
	Fail Directive = "fail"
)

// ReasonIterationCap is recorded when the cap forces a failure.
const ReasonIterationCap = "iteration_cap_exceeded"

// StepResult is one iteration's outcome.
type StepResult struct {
	Directive Directive

	// Body, when non-empty, replaces the task payload (a drafted or
	// refined version of the work in progress).
	Body string

	// Detail describes what the step did, for the audit trail.
	Detail string
}

// StepFunc performs one iteration of work on the task. Steps that call
// external actions do so through the retry executor.
type StepFunc func(ctx context.Context, t *task.Task) (StepResult, error)

// Termination labels how a loop ended.
type Termination string

const (
	TerminatedComplete Termination = "complete"
	TerminatedFailed   Termination = "failed"
	TerminatedCanceled Termination = "canceled"
)

// Outcome is the loop's terminal result.
type Outcome struct {
	Termination Termination

	// Iterations is the total consumed, mirrored on the task.
	Iterations int

	// Reason explains a failure (step detail, error text, or
	// ReasonIterationCap).
	Reason string
}

// Config bounds the loop.
type Config struct {
	// MaxIterations caps step calls per task. Default 10.
	MaxIterations int `koanf:"max_iterations"`
}

// DefaultConfig returns the stock iteration cap.
func DefaultConfig() Config {
	return Config{MaxIterations: 10}
}

// Loop runs step functions under an iteration cap.
type Loop struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a loop runner.
func New(cfg Config, logger *zap.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{cfg: cfg, logger: logger.Named("loop")}
}

// Run drives the task until a terminal directive, the iteration cap,
// or cancellation. The task's IterationCount is incremented once per
// step call; the caller persists it.
func (l *Loop) Run(ctx context.Context, t *task.Task, step StepFunc) Outcome {
	for {
		select {
		case <-ctx.Done():
			// Cancellation leaves the task resumable, never dropped.
			return Outcome{Termination: TerminatedCanceled, Iterations: t.IterationCount, Reason: ctx.Err().Error()}
		default:
		}

		if t.IterationCount >= l.cfg.MaxIterations {
			l.logger.Warn("iteration cap exceeded",
				zap.String("task_id", t.ID),
				zap.Int("cap", l.cfg.MaxIterations),
			)
			return Outcome{Termination: TerminatedFailed, Iterations: t.IterationCount, Reason: ReasonIterationCap}
		}
		t.IterationCount++

		res, err := step(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Termination: TerminatedCanceled, Iterations: t.IterationCount, Reason: ctx.Err().Error()}
			}
			return Outcome{Termination: TerminatedFailed, Iterations: t.IterationCount, Reason: err.Error()}
		}
		if res.Body != "" {
			t.Body = res.Body
		}

		switch res.Directive {
		case Continue:
			continue
		case Complete:
			return Outcome{Termination: TerminatedComplete, Iterations: t.IterationCount, Reason: res.Detail}
		case Fail:
			reason := res.Detail
			if reason == "" {
				reason = "step requested failure"
			}
			return Outcome{Termination: TerminatedFailed, Iterations: t.IterationCount, Reason: reason}
		default:
			return Outcome{Termination: TerminatedFailed, Iterations: t.IterationCount,
				Reason: "invalid step directive " + string(res.Directive)}
		}
	}
}
