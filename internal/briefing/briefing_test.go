package briefing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// plant writes a task document directly into the partition for its
// status so tests control UpdatedAt exactly.
func plant(t *testing.T, st *store.Store, tk *task.Task) {
	t.Helper()
	if tk.CreatedAt.IsZero() {
		tk.CreatedAt = tk.UpdatedAt
	}
	if tk.ID == "" {
		tk.ID = task.NewID(tk.CreatedAt, tk.Source)
	}
	data, err := task.Encode(tk)
	require.NoError(t, err)
	path := filepath.Join(st.PartitionDir(tk.Status), tk.Filename())
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newFixture(t *testing.T, cfg Config) (*Aggregator, *store.Store, *audit.Log) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(root, nil)
	require.NoError(t, err)
	log, err := audit.Open(filepath.Join(root, "Logs", "Audit_Log.md"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return New(st, log, cfg, nil), st, log
}

func TestRunCountsByStatus(t *testing.T) {
	agg, st, _ := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)
	inside := to.Add(-24 * time.Hour)

	for i := 0; i < 10; i++ {
		plant(t, st, &task.Task{
			Source: "gmail", Status: task.StatusDone, Domain: task.DomainBusiness,
			CreatedAt: from.Add(time.Duration(i) * time.Minute),
			UpdatedAt: inside.Add(time.Duration(i) * time.Minute),
			Body:      fmt.Sprintf("done item %d", i),
		})
	}
	for i := 0; i < 2; i++ {
		plant(t, st, &task.Task{
			Source: "whatsapp", Status: task.StatusFailed, Domain: task.DomainPersonal,
			FailureReason: "upstream timeout",
			CreatedAt:     from.Add(time.Duration(i) * time.Second),
			UpdatedAt:     inside,
			Body:          "failed item",
		})
	}
	for i := 0; i < 3; i++ {
		plant(t, st, &task.Task{
			Source: "linkedin", Status: task.StatusNeedsAction, Domain: task.DomainBusiness,
			RequiresApproval: true,
			CreatedAt:        from.Add(time.Duration(i) * time.Second),
			UpdatedAt:        from.Add(time.Hour),
			Body:             "awaiting approval",
		})
	}
	// Outside the window on both sides.
	plant(t, st, &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: from.Add(-time.Hour), Body: "too old"})
	plant(t, st, &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: to.Add(time.Hour), Body: "too new"})

	s, err := agg.Run(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, 10, s.ByStatus[task.StatusDone])
	assert.Equal(t, 2, s.ByStatus[task.StatusFailed])
	assert.Equal(t, 3, s.ByStatus[task.StatusNeedsAction])
	assert.Equal(t, 13, s.ByDomain[task.DomainBusiness]+s.ByDomain[task.DomainPersonal])
	assert.Equal(t, 10, s.BySource["gmail"])

	require.Len(t, s.Failures, 2)
	assert.Equal(t, "upstream timeout", s.Failures[0].Reason)
}

func TestRunFlagsStaleTasks(t *testing.T) {
	agg, st, _ := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)

	stale := &task.Task{
		Source: "facebook", Status: task.StatusNeedsAction, RequiresApproval: true,
		UpdatedAt: to.Add(-72 * time.Hour), Body: "old request",
	}
	fresh := &task.Task{
		Source: "facebook", Status: task.StatusNeedsAction, RequiresApproval: true,
		UpdatedAt: to.Add(-2 * time.Hour), Body: "new request",
	}
	plant(t, st, stale)
	plant(t, st, fresh)

	s, err := agg.Run(context.Background(), from, to)
	require.NoError(t, err)

	require.Len(t, s.Stale, 1)
	assert.Equal(t, stale.ID, s.Stale[0].ID)
	assert.Equal(t, 72*time.Hour, s.Stale[0].Waiting)
}

func TestRunFlagsStaleTasksOlderThanWindow(t *testing.T) {
	agg, st, _ := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)

	// Held since before the window even started.
	ancient := &task.Task{
		Source: "linkedin", Status: task.StatusNeedsAction, RequiresApproval: true,
		UpdatedAt: to.Add(-10 * 24 * time.Hour), Body: "forgotten request",
	}
	plant(t, st, ancient)

	s, err := agg.Run(context.Background(), from, to)
	require.NoError(t, err)

	require.Len(t, s.Stale, 1)
	assert.Equal(t, ancient.ID, s.Stale[0].ID)
	assert.Equal(t, 10*24*time.Hour, s.Stale[0].Waiting)
	// The window counts still exclude it.
	assert.Equal(t, 0, s.ByStatus[task.StatusNeedsAction])
}

func TestRunHighlightsKeywords(t *testing.T) {
	agg, st, _ := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)

	rev := &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: from.Add(time.Hour), Body: "Invoice paid, revenue up this week"}
	bot := &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: from.Add(time.Hour), Body: "Shipment is blocked at customs"}
	plain := &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: from.Add(time.Hour), Body: "Routine update"}
	plant(t, st, rev)
	plant(t, st, bot)
	plant(t, st, plain)

	s, err := agg.Run(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, []string{rev.ID}, s.Revenue)
	assert.Equal(t, []string{bot.ID}, s.Bottlenecks)
}

func TestRunWritesDocumentAndAuditEntry(t *testing.T) {
	agg, st, log := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	now := time.Now().UTC()
	to := now.Add(time.Minute)
	from := to.AddDate(0, 0, -7)

	plant(t, st, &task.Task{Source: "gmail", Status: task.StatusDone, Domain: task.DomainBusiness, UpdatedAt: now, Body: "shipped"})

	s, err := agg.Run(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ByStatus[task.StatusDone])

	data, err := os.ReadFile(agg.DocumentPath(to))
	require.NoError(t, err)
	doc := string(data)
	assert.Contains(t, doc, "# CEO Briefing")
	assert.Contains(t, doc, "done: 1")
	assert.Contains(t, doc, "gmail: 1")

	entries, err := log.TaskEntries("weekly-briefing")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventSuccess, entries[0].Event)
	assert.Contains(t, entries[0].Detail, "done=1")
}

func TestRunIsReadOnlyOverTasks(t *testing.T) {
	agg, st, _ := newFixture(t, Config{StaleAfter: 48 * time.Hour})

	now := time.Now().UTC()
	tk := &task.Task{Source: "gmail", Status: task.StatusDone, UpdatedAt: now, Body: "shipped"}
	plant(t, st, tk)

	_, err := agg.Run(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	got, err := st.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)
	assert.True(t, got.UpdatedAt.Equal(now))
}

func TestRenderEmptyWindow(t *testing.T) {
	s := &Summary{
		PeriodStart: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		ByStatus:    map[task.Status]int{},
		ByDomain:    map[task.Domain]int{},
		BySource:    map[string]int{},
	}
	doc := Render(s)
	assert.Contains(t, doc, "no task activity in this period")
	assert.Contains(t, doc, "2026-08-21 to 2026-08-28")
}
