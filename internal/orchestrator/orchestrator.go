// Package orchestrator coordinates the full task lifecycle: intake
// scanning, classification, the approval gate, dispatch to a worker
// pool, and terminal bookkeeping. It is the only component that moves
// tasks between store partitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vaultd/internal/approval"
	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/classify"
	"github.com/fyrsmithlabs/vaultd/internal/config"
	"github.com/fyrsmithlabs/vaultd/internal/executor"
	"github.com/fyrsmithlabs/vaultd/internal/loop"
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
	"github.com/fyrsmithlabs/vaultd/internal/telemetry"
	"github.com/fyrsmithlabs/vaultd/internal/watch"
)

// Options wires the orchestrator's collaborators.
type Options struct {
	Store      *store.Store
	Audit      *audit.Log
	Metrics    *telemetry.Metrics
	Classifier *classify.Classifier
	Policy     Gate
	Executor   *executor.Executor
	Loop       *loop.Loop

	// Invoker runs external actions. Required unless Step is set.
	Invoker executor.Invoker

	// Step overrides the default single-action step for multi-step
	// workflows. When nil, each iteration executes the task's action
	// through the retry executor and completes on success.
	Step loop.StepFunc

	// Watcher feeds intake kicks. Optional; polling alone works.
	Watcher *watch.Watcher

	Config config.OrchestratorConfig
	Logger *zap.Logger
}

// Gate is the approval policy surface the orchestrator needs.
// Satisfied by *approval.Policy.
type Gate interface {
	Evaluate(t *task.Task) approval.Evaluation
}

// Orchestrator runs the processing pipeline until its context ends.
type Orchestrator struct {
	store      *store.Store
	audit      *audit.Log
	metrics    *telemetry.Metrics
	classifier *classify.Classifier
	policy     Gate
	exec       *executor.Executor
	loop       *loop.Loop
	invoker    executor.Invoker
	step       loop.StepFunc
	watcher    *watch.Watcher
	limiter    *rate.Limiter
	cfg        config.OrchestratorConfig
	logger     *zap.Logger

	kicks    chan struct{}
	dispatch chan string

	mu       sync.Mutex
	inflight map[string]bool

	wg sync.WaitGroup
}

// New assembles an orchestrator. Run must be called to start it.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Audit == nil {
		return nil, errors.New("orchestrator requires a store and an audit log")
	}
	if opts.Invoker == nil && opts.Step == nil {
		return nil, errors.New("orchestrator requires an invoker or a step function")
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New(classify.DefaultRules())
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config.Workers <= 0 {
		opts.Config.Workers = 1
	}

	limit := rate.Inf
	if opts.Config.DispatchRate > 0 {
		limit = rate.Limit(opts.Config.DispatchRate)
	}
	burst := opts.Config.DispatchBurst
	if burst <= 0 {
		burst = 1
	}

	return &Orchestrator{
		store:      opts.Store,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		classifier: opts.Classifier,
		policy:     opts.Policy,
		exec:       opts.Executor,
		loop:       opts.Loop,
		invoker:    opts.Invoker,
		step:       opts.Step,
		watcher:    opts.Watcher,
		limiter:    rate.NewLimiter(limit, burst),
		cfg:        opts.Config,
		logger:     opts.Logger.Named("orchestrator"),
		kicks:      make(chan struct{}, 1),
		dispatch:   make(chan string),
		inflight:   make(map[string]bool),
	}, nil
}

// Run starts the workers and the scan loop and blocks until ctx ends.
// In-flight tasks are released back to resumable states on shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.watcher != nil {
		o.watcher.Start(ctx)
		defer o.watcher.Stop()
	}

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	poll := o.cfg.PollInterval.Duration()
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	o.scan(ctx)
	for {
		var watcherKicks <-chan struct{}
		if o.watcher != nil {
			watcherKicks = o.watcher.Kicks()
		}
		select {
		case <-ctx.Done():
			close(o.dispatch)
			o.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			o.scan(ctx)
		case <-o.kicks:
			o.scan(ctx)
		case <-watcherKicks:
			o.scan(ctx)
		}
	}
}

// Kick requests an out-of-band rescan, coalescing with any pending one.
func (o *Orchestrator) Kick() {
	select {
	case o.kicks <- struct{}{}:
	default:
	}
}

// Enqueue adds a task to the intake partition and triggers a scan.
func (o *Orchestrator) Enqueue(t *task.Task) error {
	if err := o.store.Enqueue(t); err != nil {
		return err
	}
	o.Kick()
	return nil
}

// Approve records a human grant for a held task and triggers a scan.
func (o *Orchestrator) Approve(id string) error {
	return o.decide(id, true)
}

// Deny records a human denial for a held task and triggers a scan.
func (o *Orchestrator) Deny(id string) error {
	return o.decide(id, false)
}

func (o *Orchestrator) decide(id string, approved bool) error {
	if err := o.store.SetApproval(id, approved); err != nil {
		return err
	}
	o.Kick()
	return nil
}

// scan walks the intake and held partitions, advancing every task that
// can move and queuing claimable ones for the workers.
func (o *Orchestrator) scan(ctx context.Context) {
	o.quarantineMalformed()

	for _, t := range o.listOrEmpty(task.StatusNew) {
		if ctx.Err() != nil {
			return
		}
		o.advanceNew(ctx, t)
	}
	for _, t := range o.listOrEmpty(task.StatusNeedsAction) {
		if ctx.Err() != nil {
			return
		}
		o.advanceHeld(ctx, t)
	}

	o.updateDepthGauges()
}

func (o *Orchestrator) listOrEmpty(status task.Status) []*task.Task {
	tasks, err := o.store.List(status)
	if err != nil {
		o.logger.Error("partition scan failed", zap.String("status", string(status)), zap.Error(err))
		return nil
	}
	return tasks
}

// advanceNew takes an intake task through creation bookkeeping,
// classification, and the approval gate.
func (o *Orchestrator) advanceNew(ctx context.Context, t *task.Task) {
	if !t.CreatedLogged {
		o.record(t.ID, audit.EventCreated, t.Status, "source="+t.Source)
		t.CreatedLogged = true
		if err := o.store.Update(t); err != nil {
			o.logger.Error("persist intake marker failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
	}

	if !t.Classified() {
		res := o.classifier.Classify(t.Source, t.Body)
		t.Domain = res.Domain
		t.Intent = res.Intent
		t.Priority = res.Priority
		if t.Action == "" {
			t.Action = actionFor(t.Intent)
		}
		if err := o.store.Update(t); err != nil {
			o.logger.Error("persist classification failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
		o.record(t.ID, audit.EventClassified, t.Status,
			fmt.Sprintf("domain=%s intent=%s priority=%s", t.Domain, t.Intent, t.Priority))
	}

	if o.policy != nil && !t.RequiresApproval && t.Approved == nil {
		ev := o.policy.Evaluate(t)
		switch {
		case ev.Require:
			t.RequiresApproval = true
			if err := o.store.Update(t); err != nil {
				o.logger.Error("persist approval hold failed", zap.String("task_id", t.ID), zap.Error(err))
				return
			}
			if err := o.store.Hold(t.ID); err != nil {
				o.logger.Error("hold failed", zap.String("task_id", t.ID), zap.Error(err))
				return
			}
			o.record(t.ID, audit.EventApprovalRequested, task.StatusNeedsAction, "rule="+ev.Rule)
			o.countDecision("requested")
			return
		case ev.Overridden:
			// The override bypasses the gate; the trail must say so.
			if !t.GrantLogged {
				o.record(t.ID, audit.EventApprovalGranted, t.Status, "rule="+ev.Rule)
				o.countDecision("overridden")
				t.GrantLogged = true
				if err := o.store.Update(t); err != nil {
					o.logger.Error("persist grant marker failed", zap.String("task_id", t.ID), zap.Error(err))
					return
				}
			}
		}
	}

	o.queue(ctx, t.ID)
}

// advanceHeld reacts to human decisions on held tasks. Undecided tasks
// stay where they are.
func (o *Orchestrator) advanceHeld(ctx context.Context, t *task.Task) {
	if t.Approved == nil {
		return
	}
	if !*t.Approved {
		o.record(t.ID, audit.EventApprovalDenied, task.StatusFailed, "denied by operator")
		o.countDecision("denied")
		if err := o.store.Fail(t.ID, "approval_denied"); err != nil {
			o.logger.Error("fail denied task", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
		o.countProcessed(task.StatusFailed, t.Domain)
		return
	}

	if !t.GrantLogged {
		o.record(t.ID, audit.EventApprovalGranted, t.Status, "granted by operator")
		o.countDecision("granted")
		t.GrantLogged = true
		if err := o.store.Update(t); err != nil {
			o.logger.Error("persist grant marker failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
	}
	o.queue(ctx, t.ID)
}

// queue hands a task id to the worker pool, pacing dispatches with the
// rate limiter and skipping tasks already in flight.
func (o *Orchestrator) queue(ctx context.Context, id string) {
	o.mu.Lock()
	if o.inflight[id] {
		o.mu.Unlock()
		return
	}
	o.inflight[id] = true
	o.mu.Unlock()

	if err := o.limiter.Wait(ctx); err != nil {
		o.clearInflight(id)
		return
	}
	select {
	case o.dispatch <- id:
	case <-ctx.Done():
		o.clearInflight(id)
	}
}

func (o *Orchestrator) clearInflight(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) worker(ctx context.Context, n int) {
	defer o.wg.Done()
	log := o.logger.With(zap.Int("worker", n))
	for id := range o.dispatch {
		o.process(ctx, id, log)
		o.clearInflight(id)
	}
}

// process claims one task and drives it to a terminal state or a
// resumable release.
func (o *Orchestrator) process(ctx context.Context, id string, log *zap.Logger) {
	t, err := o.store.Claim(id)
	if err != nil {
		// Lost the race or the gate closed between scan and claim.
		if !errors.Is(err, store.ErrNotClaimable) && !errors.Is(err, store.ErrApprovalRequired) && !errors.Is(err, store.ErrNotFound) {
			log.Error("claim failed", zap.String("task_id", id), zap.Error(err))
		}
		return
	}

	step := o.step
	if step == nil {
		step = o.executeStep
	}
	outcome := o.loop.Run(ctx, t, step)

	// Persist loop progress before any partition move.
	if err := o.store.Update(t); err != nil {
		log.Error("persist loop progress", zap.String("task_id", t.ID), zap.Error(err))
	}

	switch outcome.Termination {
	case loop.TerminatedComplete:
		if err := o.store.Complete(t.ID); err != nil {
			log.Error("complete failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
		o.record(t.ID, audit.EventMoved, task.StatusDone,
			fmt.Sprintf("iterations=%d", outcome.Iterations))
		o.countProcessed(task.StatusDone, t.Domain)

	case loop.TerminatedFailed:
		if outcome.Reason == loop.ReasonIterationCap {
			o.record(t.ID, audit.EventFailure, task.StatusInProgress, loop.ReasonIterationCap)
		}
		if err := o.store.Fail(t.ID, outcome.Reason); err != nil {
			log.Error("fail transition failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
		o.record(t.ID, audit.EventMoved, task.StatusFailed, outcome.Reason)
		o.countProcessed(task.StatusFailed, t.Domain)

	case loop.TerminatedCanceled:
		if err := o.store.Release(t.ID); err != nil {
			log.Error("release failed", zap.String("task_id", t.ID), zap.Error(err))
			return
		}
		log.Info("task released on shutdown", zap.String("task_id", t.ID))
	}
}

// executeStep is the default loop body: one external action through
// the retry executor.
func (o *Orchestrator) executeStep(ctx context.Context, t *task.Task) (loop.StepResult, error) {
	res := o.exec.Execute(ctx, o.invoker, executor.Request{
		TaskID:  t.ID,
		Action:  t.Action,
		Payload: t.Body,
	})
	// Attempts accumulate across loop iterations and survive via the
	// loop caller's store.Update.
	t.RetryCount += res.Attempts
	if o.metrics != nil {
		o.metrics.RetryAttempts.Add(float64(res.Attempts))
	}
	if res.Canceled {
		return loop.StepResult{}, res.Err
	}
	if res.Success {
		return loop.StepResult{Directive: loop.Complete, Detail: res.Detail}, nil
	}
	return loop.StepResult{Directive: loop.Fail, Detail: res.Detail}, nil
}

// quarantineMalformed moves unparseable intake documents aside so one
// bad file never wedges the queue.
func (o *Orchestrator) quarantineMalformed() {
	dir := o.store.PartitionDir(task.StatusNew)
	entries, err := os.ReadDir(dir)
	if err != nil {
		o.logger.Error("intake scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if _, err := task.Decode(data); err != nil {
			if qerr := o.store.Quarantine(path, err); qerr != nil {
				o.logger.Error("quarantine failed", zap.String("file", name), zap.Error(qerr))
			}
		}
	}
}

func (o *Orchestrator) updateDepthGauges() {
	if o.metrics == nil {
		return
	}
	counts, err := o.store.Counts()
	if err != nil {
		return
	}
	for status, n := range counts {
		o.metrics.PartitionDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (o *Orchestrator) record(taskID string, event audit.EventType, status task.Status, detail string) {
	err := o.audit.Record(audit.Entry{
		TaskID:      taskID,
		Event:       event,
		StatusAfter: status,
		Detail:      detail,
	})
	if err != nil {
		o.logger.Error("audit record failed",
			zap.String("task_id", taskID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) countDecision(decision string) {
	if o.metrics != nil {
		o.metrics.ApprovalDecisions.WithLabelValues(decision).Inc()
	}
}

func (o *Orchestrator) countProcessed(status task.Status, domain task.Domain) {
	if o.metrics != nil {
		o.metrics.TasksProcessed.WithLabelValues(string(status), string(domain)).Inc()
	}
}

// actionFor maps a classified intent to the default external action.
func actionFor(intent task.Intent) string {
	switch intent {
	case task.IntentPost:
		return "publish_post"
	case task.IntentQuestion, task.IntentRequest:
		return "send_reply"
	default:
		return "record_update"
	}
}
