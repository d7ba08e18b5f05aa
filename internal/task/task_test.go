package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, Status("pending").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusNeedsAction.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func TestNewID(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id1 := NewID(created, "gmail")
	id2 := NewID(created, "gmail")

	assert.True(t, strings.HasPrefix(id1, "1772366400-gmail-"))
	assert.NotEqual(t, id1, id2, "suffix must disambiguate same-second ids")
}

func TestFilenameSortsChronologically(t *testing.T) {
	early := &Task{Source: "gmail", Body: "# First message", CreatedAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
	late := &Task{Source: "gmail", Body: "# Second message", CreatedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}

	assert.Less(t, early.Filename(), late.Filename())
	assert.Equal(t, "20260102T090000Z_gmail_first-message.md", early.Filename())
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"heading", "# Can you post our launch?", "can-you-post-our-launch"},
		{"multiline", "subject line\nrest of body", "subject-line"},
		{"empty", "", "task"},
		{"symbols only", "!!! ???", "task"},
		{"truncated", strings.Repeat("verylongword", 20), strings.Repeat("verylongword", 20)[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Task {
		return &Task{
			ID:        "1-gmail-abcd1234",
			Source:    "gmail",
			Status:    StatusNew,
			CreatedAt: time.Now(),
		}
	}

	require.NoError(t, valid().Validate())

	noID := valid()
	noID.ID = ""
	assert.Error(t, noID.Validate())

	badStatus := valid()
	badStatus.Status = "archived"
	assert.Error(t, badStatus.Validate())

	negRetry := valid()
	negRetry.RetryCount = -1
	assert.Error(t, negRetry.Validate())
}

func TestApprovalState(t *testing.T) {
	tk := &Task{RequiresApproval: true}
	assert.True(t, tk.ApprovalPending())
	assert.False(t, tk.ApprovalGranted())

	granted := true
	tk.Approved = &granted
	assert.False(t, tk.ApprovalPending())
	assert.True(t, tk.ApprovalGranted())

	denied := false
	tk.Approved = &denied
	assert.False(t, tk.ApprovalPending())
	assert.False(t, tk.ApprovalGranted())

	auto := &Task{RequiresApproval: false}
	assert.False(t, auto.ApprovalPending())
	assert.True(t, auto.ApprovalGranted())
}

func TestCloneIsDeep(t *testing.T) {
	granted := true
	orig := &Task{ID: "x", Approved: &granted}
	cp := orig.Clone()

	*cp.Approved = false
	assert.True(t, *orig.Approved, "clone must not share the approved pointer")
}
