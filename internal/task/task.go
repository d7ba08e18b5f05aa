// Package task defines the unit of work flowing through the vault and
// its on-disk document format.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task. It always matches the name
// of the store partition the task document lives in.
type Status string

const (
	StatusNew         Status = "new"
	StatusNeedsAction Status = "needs_action"
	StatusInProgress  Status = "in_progress"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// AllStatuses returns every valid status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusNew, StatusNeedsAction, StatusInProgress, StatusDone, StatusFailed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusNeedsAction, StatusInProgress, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Domain is the coarse routing classification of a task.
type Domain string

const (
	DomainPersonal Domain = "personal"
	DomainBusiness Domain = "business"
)

// Priority is informational ordering metadata. The store is not a
// priority queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Intent tags the requested action type.
type Intent string

const (
	IntentQuestion Intent = "question"
	IntentRequest  Intent = "request"
	IntentPost     Intent = "post"
	IntentUpdate   Intent = "update"
)

// Task is a unit of routed work. The YAML tags define the document
// front matter written by the store.
type Task struct {
	ID               string    `yaml:"id"`
	Source           string    `yaml:"source"`
	Domain           Domain    `yaml:"domain,omitempty"`
	Intent           Intent    `yaml:"intent,omitempty"`
	Priority         Priority  `yaml:"priority,omitempty"`
	Status           Status    `yaml:"status"`
	Action           string    `yaml:"action,omitempty"`
	MediaRef         string    `yaml:"media_ref,omitempty"`
	Contact          string    `yaml:"contact,omitempty"`
	BatchSize        int       `yaml:"batch_size,omitempty"`
	RetryCount       int       `yaml:"retry_count"`
	IterationCount   int       `yaml:"iteration_count"`
	RequiresApproval bool      `yaml:"requires_approval"`
	Approved         *bool     `yaml:"approved,omitempty"`

	// CreatedLogged and GrantLogged mark ledger entries already written
	// for this task. The markers live in the front matter so rescans and
	// daemon restarts never duplicate them.
	CreatedLogged bool `yaml:"created_logged,omitempty"`
	GrantLogged   bool `yaml:"grant_logged,omitempty"`

	FailureReason string    `yaml:"failure_reason,omitempty"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`

	// Body is the free-form document body below the front matter.
	Body string `yaml:"-"`
}

// NewID derives a task identifier from creation time, source, and a
// random suffix. IDs sort roughly chronologically.
func NewID(createdAt time.Time, source string) string {
	return fmt.Sprintf("%d-%s-%s", createdAt.UTC().Unix(), source, uuid.NewString()[:8])
}

// Filename encodes creation timestamp, source, and a short slug of the
// body so partition listings sort chronologically. The id's random
// fragment keeps same-second documents from colliding.
func (t *Task) Filename() string {
	ts := t.CreatedAt.UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s_%s_%s", ts, t.Source, Slug(t.Body))
	if i := strings.LastIndexByte(t.ID, '-'); i >= 0 && i+1 < len(t.ID) {
		name += "-" + t.ID[i+1:]
	}
	return name + ".md"
}

// Validate checks the invariants a task document must satisfy before
// it enters the store.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Source == "" {
		return fmt.Errorf("task source is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative")
	}
	if t.IterationCount < 0 {
		return fmt.Errorf("iteration_count cannot be negative")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Classified reports whether the classifier has assigned a domain.
func (t *Task) Classified() bool {
	return t.Domain != ""
}

// ApprovalPending reports whether the task is waiting on a human
// decision. Pending approval is an expected steady state, not an
// error.
func (t *Task) ApprovalPending() bool {
	return t.RequiresApproval && t.Approved == nil
}

// ApprovalGranted reports whether execution may proceed past the gate.
func (t *Task) ApprovalGranted() bool {
	return !t.RequiresApproval || (t.Approved != nil && *t.Approved)
}

// Clone returns a deep copy. The store hands out clones so callers
// cannot mutate persisted state behind its back.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Approved != nil {
		v := *t.Approved
		cp.Approved = &v
	}
	return &cp
}

const maxSlugLen = 40

// Slug reduces free-form text to a short filename-safe fragment.
func Slug(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimLeft(line, "# ")

	var b strings.Builder
	for _, r := range strings.ToLower(line) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "task"
	}
	return s
}
