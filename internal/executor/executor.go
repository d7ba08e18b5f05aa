// Package executor wraps a single external action invocation with
// bounded retries and exponential backoff. It decides transient versus
// permanent failure and reports every attempt to the audit log before
// returning control.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// Class is the retry disposition of an execution error.
type Class int

const (
	// ClassTransient errors (network, timeout, rate limit) are retried
	// with backoff until attempts run out.
	ClassTransient Class = iota

	// ClassPermanent errors (auth, permission, not found) fail
	// immediately with no further attempts.
	ClassPermanent
)

// Classifier decides the class of an execution error. Callers extend
// it per external collaborator; it is configuration, not a fixed enum.
type Classifier func(err error) Class

// Response is what an external action script returns per invocation.
type Response struct {
	Success bool
	Detail  string
}

// Invoker abstracts the external action scripts. The core never talks
// to the network itself; it only calls this interface.
type Invoker interface {
	Invoke(ctx context.Context, action string, payload string) (Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, action string, payload string) (Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, action string, payload string) (Response, error) {
	return f(ctx, action, payload)
}

// Request identifies one action invocation on behalf of a task.
type Request struct {
	TaskID  string
	Action  string
	Payload string
}

// Result is the terminal outcome of an Execute call.
type Result struct {
	// Success is true when an attempt succeeded.
	Success bool

	// Attempts is how many invocations were made.
	Attempts int

	// Detail carries the final response detail or error text.
	Detail string

	// Permanent is true when a permanent error cut retries short.
	Permanent bool

	// Canceled is true when the context ended during backoff or an
	// attempt; the task should be released, not failed.
	Canceled bool

	// Err is the terminal error when Success is false.
	Err error
}

// AuditSink receives execution events. Satisfied by *audit.Log.
type AuditSink interface {
	Record(e audit.Entry) error
}

// Config bounds the retry behavior.
type Config struct {
	// MaxAttempts is the total invocation budget. Default 3.
	MaxAttempts int `koanf:"max_attempts"`

	// BaseDelay seeds the exponential backoff: base * 2^(attempt-1).
	// Default 2s, yielding a 2s/4s/8s schedule.
	BaseDelay time.Duration `koanf:"base_delay"`
}

// DefaultConfig returns the stock retry bounds.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
}

// Executor runs actions with bounded retries.
type Executor struct {
	cfg      Config
	classify Classifier
	sink     AuditSink
	logger   *zap.Logger

	// sleep is swappable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor. A nil classifier uses DefaultClassifier.
func New(cfg Config, classify Classifier, sink AuditSink, logger *zap.Logger) *Executor {
	cfg.applyDefaults()
	if classify == nil {
		classify = DefaultClassifier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		classify: classify,
		sink:     sink,
		logger:   logger.Named("executor"),
		sleep:    sleepCtx,
	}
}

// Execute invokes the action until success, a permanent error,
// exhausted attempts, or cancellation. The backoff sleep is scoped to
// the calling goroutine, so other tasks keep making progress.
func (e *Executor) Execute(ctx context.Context, inv Invoker, req Request) Result {
	var lastErr error
	var lastDetail string

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.record(req.TaskID, audit.EventAttempt,
			fmt.Sprintf("attempt %d/%d action=%s", attempt, e.cfg.MaxAttempts, req.Action))

		resp, err := inv.Invoke(ctx, req.Action, req.Payload)
		if err == nil && resp.Success {
			e.record(req.TaskID, audit.EventSuccess,
				fmt.Sprintf("action=%s attempts=%d detail=%s", req.Action, attempt, resp.Detail))
			return Result{Success: true, Attempts: attempt, Detail: resp.Detail}
		}

		if err == nil {
			err = fmt.Errorf("action %s reported failure: %s", req.Action, resp.Detail)
		}
		lastErr = err
		lastDetail = resp.Detail
		if lastDetail == "" {
			lastDetail = err.Error()
		}

		if ctx.Err() != nil {
			return Result{Attempts: attempt, Detail: lastDetail, Canceled: true, Err: ctx.Err()}
		}

		if e.classify(err) == ClassPermanent {
			e.record(req.TaskID, audit.EventFailure,
				fmt.Sprintf("permanent error after attempt %d: %v", attempt, err))
			return Result{Attempts: attempt, Detail: lastDetail, Permanent: true, Err: err}
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.cfg.BaseDelay << (attempt - 1)
		e.record(req.TaskID, audit.EventRetry,
			fmt.Sprintf("transient error, retrying in %s: %v", delay, err))
		if err := e.sleep(ctx, delay); err != nil {
			return Result{Attempts: attempt, Detail: lastDetail, Canceled: true, Err: err}
		}
	}

	e.record(req.TaskID, audit.EventFailure,
		fmt.Sprintf("attempts exhausted (%d): %v", e.cfg.MaxAttempts, lastErr))
	return Result{Attempts: e.cfg.MaxAttempts, Detail: lastDetail, Err: lastErr}
}

func (e *Executor) record(taskID string, event audit.EventType, detail string) {
	if e.sink == nil {
		return
	}
	err := e.sink.Record(audit.Entry{
		TaskID:      taskID,
		Event:       event,
		StatusAfter: task.StatusInProgress,
		Detail:      detail,
	})
	if err != nil {
		e.logger.Error("audit record failed",
			zap.String("task_id", taskID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
