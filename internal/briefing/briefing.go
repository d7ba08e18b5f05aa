// Package briefing implements the weekly aggregator: a stateless batch
// job that scans the task store and audit log for a time window and
// emits a summarized briefing document. It is strictly read-only with
// respect to task state.
package briefing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// Config tunes the aggregator.
type Config struct {
	// StaleAfter marks a needs_action task as stuck once it has waited
	// this long by the end of the window.
	StaleAfter time.Duration
}

// StaleTask identifies a task stuck in needs_action.
type StaleTask struct {
	ID      string        `json:"id"`
	Source  string        `json:"source"`
	Waiting time.Duration `json:"waiting"`
}

// Failure pairs a failed task with its recorded reason.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Summary is the aggregation result for one window. It is also the
// briefing API response body.
type Summary struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	ByStatus map[task.Status]int `json:"by_status"`
	ByDomain map[task.Domain]int `json:"by_domain"`
	BySource map[string]int      `json:"by_source"`

	Stale    []StaleTask `json:"stale,omitempty"`
	Failures []Failure   `json:"failures,omitempty"`

	// Revenue and Bottlenecks are keyword-matched highlights from
	// task bodies touched in the window.
	Revenue     []string `json:"revenue,omitempty"`
	Bottlenecks []string `json:"bottlenecks,omitempty"`

	// AuditEvents is the number of ledger entries in the window.
	AuditEvents int `json:"audit_events"`
}

var revenueKeywords = []string{"payment", "revenue", "sale", "income", "invoice", "$"}
var bottleneckKeywords = []string{"blocked", "stuck", "waiting", "error", "failed", "delay"}

// Aggregator produces weekly summaries.
type Aggregator struct {
	store  *store.Store
	log    *audit.Log
	cfg    Config
	logger *zap.Logger
}

// New creates an aggregator over a store and audit log.
func New(st *store.Store, log *audit.Log, cfg Config, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: st, log: log, cfg: cfg, logger: logger.Named("briefing")}
}

// Run aggregates the window [from, to), writes the briefing document,
// and appends one audit entry recording the run.
func (a *Aggregator) Run(ctx context.Context, from, to time.Time) (*Summary, error) {
	s, err := a.summarize(ctx, from, to)
	if err != nil {
		return nil, err
	}

	path := a.DocumentPath(to)
	if err := os.WriteFile(path, []byte(Render(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write briefing document: %w", err)
	}

	err = a.log.Record(audit.Entry{
		TaskID: "weekly-briefing",
		Event:  audit.EventSuccess,
		Detail: fmt.Sprintf("briefing %s..%s done=%d failed=%d stale=%d",
			from.Format(time.DateOnly), to.Format(time.DateOnly),
			s.ByStatus[task.StatusDone], s.ByStatus[task.StatusFailed], len(s.Stale)),
	})
	if err != nil {
		return nil, fmt.Errorf("record briefing run: %w", err)
	}

	a.logger.Info("briefing generated",
		zap.String("path", path),
		zap.Int("done", s.ByStatus[task.StatusDone]),
		zap.Int("failed", s.ByStatus[task.StatusFailed]),
		zap.Int("stale", len(s.Stale)),
	)
	return s, nil
}

// DocumentPath returns where the briefing for a window ending at `to`
// is written.
func (a *Aggregator) DocumentPath(to time.Time) string {
	name := fmt.Sprintf("CEO_Briefing_%s.md", to.UTC().Format(time.DateOnly))
	return filepath.Join(a.store.Root(), "Briefings", name)
}

func (a *Aggregator) summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	s := &Summary{
		PeriodStart: from,
		PeriodEnd:   to,
		ByStatus:    make(map[task.Status]int),
		ByDomain:    make(map[task.Domain]int),
		BySource:    make(map[string]int),
	}

	for _, status := range task.AllStatuses() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tasks, err := a.store.List(status)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", status, err)
		}
		for _, t := range tasks {
			// Staleness covers the whole partition, not just the
			// window. A hold can predate the window start.
			if status == task.StatusNeedsAction {
				if waiting := to.Sub(t.UpdatedAt); waiting >= a.cfg.StaleAfter {
					s.Stale = append(s.Stale, StaleTask{ID: t.ID, Source: t.Source, Waiting: waiting})
				}
			}
			if t.UpdatedAt.Before(from) || !t.UpdatedAt.Before(to) {
				continue
			}
			s.ByStatus[status]++
			if t.Domain != "" {
				s.ByDomain[t.Domain]++
			}
			s.BySource[t.Source]++

			lower := strings.ToLower(t.Body)
			if containsAny(lower, revenueKeywords) {
				s.Revenue = append(s.Revenue, t.ID)
			}
			if containsAny(lower, bottleneckKeywords) {
				s.Bottlenecks = append(s.Bottlenecks, t.ID)
			}
			if status == task.StatusFailed {
				s.Failures = append(s.Failures, Failure{ID: t.ID, Reason: t.FailureReason})
			}
		}
	}

	sort.Slice(s.Stale, func(i, j int) bool { return s.Stale[i].Waiting > s.Stale[j].Waiting })

	entries, err := a.log.Scan(from, to)
	if err != nil {
		return nil, err
	}
	s.AuditEvents = len(entries)
	return s, nil
}

// Render formats a summary as the briefing markdown document.
func Render(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# CEO Briefing\n\n")
	fmt.Fprintf(&b, "Period: %s to %s\n\n", s.PeriodStart.UTC().Format(time.DateOnly), s.PeriodEnd.UTC().Format(time.DateOnly))

	fmt.Fprintf(&b, "## Task counts\n\n")
	for _, status := range task.AllStatuses() {
		if n := s.ByStatus[status]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", status, n)
		}
	}
	if len(s.ByStatus) == 0 {
		b.WriteString("- no task activity in this period\n")
	}

	if len(s.ByDomain) > 0 {
		fmt.Fprintf(&b, "\n## By domain\n\n")
		for _, d := range []task.Domain{task.DomainPersonal, task.DomainBusiness} {
			if n := s.ByDomain[d]; n > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", d, n)
			}
		}
	}

	if len(s.BySource) > 0 {
		fmt.Fprintf(&b, "\n## By source\n\n")
		sources := make([]string, 0, len(s.BySource))
		for src := range s.BySource {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(&b, "- %s: %d\n", src, s.BySource[src])
		}
	}

	if len(s.Stale) > 0 {
		fmt.Fprintf(&b, "\n## Stuck awaiting approval\n\n")
		for _, st := range s.Stale {
			fmt.Fprintf(&b, "- %s (%s, waiting %s)\n", st.ID, st.Source, st.Waiting.Round(time.Hour))
		}
	}

	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "\n## Failures\n\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "- %s: %s\n", f.ID, f.Reason)
		}
	}

	if len(s.Revenue) > 0 {
		fmt.Fprintf(&b, "\n## Revenue mentions\n\n")
		for _, id := range s.Revenue {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	if len(s.Bottlenecks) > 0 {
		fmt.Fprintf(&b, "\n## Bottlenecks\n\n")
		for _, id := range s.Bottlenecks {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	fmt.Fprintf(&b, "\n---\n%d audit events in period.\n", s.AuditEvents)
	return b.String()
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
