package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

func TestRunCompletes(t *testing.T) {
	l := New(Config{MaxIterations: 10}, nil)
	tk := &task.Task{ID: "t1"}

	steps := 0
	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		steps++
		if steps < 3 {
			return StepResult{Directive: Continue, Body: "draft " + string(rune('0'+steps))}, nil
		}
		return StepResult{Directive: Complete, Detail: "final"}, nil
	})

	assert.Equal(t, TerminatedComplete, out.Termination)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, 3, tk.IterationCount)
	assert.Equal(t, "draft 2", tk.Body, "payload updates carry between iterations")
}

func TestRunFailDirective(t *testing.T) {
	l := New(Config{}, nil)
	tk := &task.Task{ID: "t1"}

	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		return StepResult{Directive: Fail, Detail: "upstream rejected draft"}, nil
	})

	assert.Equal(t, TerminatedFailed, out.Termination)
	assert.Equal(t, "upstream rejected draft", out.Reason)
	assert.Equal(t, 1, out.Iterations)
}

func TestRunStepError(t *testing.T) {
	l := New(Config{}, nil)
	tk := &task.Task{ID: "t1"}

	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		return StepResult{}, errors.New("boom")
	})

	assert.Equal(t, TerminatedFailed, out.Termination)
	assert.Equal(t, "boom", out.Reason)
}

func TestRunNeverSpinsPastCap(t *testing.T) {
	l := New(Config{MaxIterations: 10}, nil)
	tk := &task.Task{ID: "t1"}

	calls := 0
	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		calls++
		return StepResult{Directive: Continue}, nil
	})

	assert.Equal(t, TerminatedFailed, out.Termination)
	assert.Equal(t, ReasonIterationCap, out.Reason)
	assert.Equal(t, 10, calls, "step called exactly cap times")
	assert.Equal(t, 10, tk.IterationCount)
}

func TestRunResumedTaskKeepsConsumedIterations(t *testing.T) {
	l := New(Config{MaxIterations: 5}, nil)
	tk := &task.Task{ID: "t1", IterationCount: 4}

	calls := 0
	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		calls++
		return StepResult{Directive: Continue}, nil
	})

	assert.Equal(t, ReasonIterationCap, out.Reason)
	assert.Equal(t, 1, calls, "only the remaining budget is spent")
}

func TestRunCancellation(t *testing.T) {
	l := New(Config{MaxIterations: 10}, nil)
	tk := &task.Task{ID: "t1"}

	ctx, cancel := context.WithCancel(context.Background())
	out := l.Run(ctx, tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		cancel()
		return StepResult{Directive: Continue}, nil
	})

	assert.Equal(t, TerminatedCanceled, out.Termination)
	assert.Equal(t, 1, out.Iterations)
}

func TestRunInvalidDirective(t *testing.T) {
	l := New(Config{}, nil)
	tk := &task.Task{ID: "t1"}

	out := l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		return StepResult{Directive: "shrug"}, nil
	})

	assert.Equal(t, TerminatedFailed, out.Termination)
	assert.Contains(t, out.Reason, "invalid step directive")
}

func TestDefaultCap(t *testing.T) {
	l := New(Config{}, nil)
	tk := &task.Task{ID: "t1"}

	calls := 0
	l.Run(context.Background(), tk, func(ctx context.Context, t *task.Task) (StepResult, error) {
		calls++
		return StepResult{Directive: Continue}, nil
	})
	assert.Equal(t, 10, calls)
}
