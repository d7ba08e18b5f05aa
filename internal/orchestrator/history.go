package orchestrator

import (
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// History answers the first-action-on-platform approval rule from the
// done partition.
type History struct {
	Store *store.Store
}

// HasSucceeded reports whether a task with this source and action has
// ever completed.
func (h History) HasSucceeded(source, action string) bool {
	done, err := h.Store.List(task.StatusDone)
	if err != nil {
		// Unreadable history reads as empty, which errs toward
		// requiring approval.
		return false
	}
	for _, t := range done {
		if t.Source == source && t.Action == action {
			return true
		}
	}
	return false
}
