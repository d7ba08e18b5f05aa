package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTask(source, body string) *task.Task {
	created := time.Now().UTC()
	return &task.Task{
		ID:        task.NewID(created, source),
		Source:    source,
		Status:    task.StatusNew,
		CreatedAt: created,
		Body:      body,
	}
}

func TestOpenCreatesVaultLayout(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	for _, dir := range []string{"Inbox", "Needs_Action", "In_Progress", "Done", "Failed", "Logs", "Briefings"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "# Hello")

	require.NoError(t, s.Enqueue(tk))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNew, got.Status)
	assert.Equal(t, "gmail", got.Source)

	// Document sits in exactly the intake partition.
	names, err := s.docNames(task.StatusNew)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestEnqueueAssignsID(t *testing.T) {
	s := newTestStore(t)
	tk := &task.Task{Source: "whatsapp", Status: task.StatusNew, Body: "hi"}

	require.NoError(t, s.Enqueue(tk))
	assert.NotEmpty(t, tk.ID)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestEnqueueDuplicateID(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "first")
	require.NoError(t, s.Enqueue(tk))

	dup := newTask("gmail", "second")
	dup.ID = tk.ID
	err := s.Enqueue(dup)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestClaimHappyPath(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))

	claimed, err := s.Claim(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, claimed.Status)

	// Moved out of the intake partition.
	inbox, err := s.List(task.StatusNew)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	inProgress, err := s.List(task.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, tk.ID, inProgress[0].ID)
}

func TestClaimRequiresApproval(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("linkedin", "post this")
	tk.RequiresApproval = true
	require.NoError(t, s.Enqueue(tk))

	_, err := s.Claim(tk.ID)
	assert.ErrorIs(t, err, ErrApprovalRequired)

	require.NoError(t, s.SetApproval(tk.ID, true))
	claimed, err := s.Claim(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, claimed.Status)
}

func TestClaimDeniedApprovalStillBlocked(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("linkedin", "post this")
	tk.RequiresApproval = true
	require.NoError(t, s.Enqueue(tk))
	require.NoError(t, s.SetApproval(tk.ID, false))

	_, err := s.Claim(tk.ID)
	assert.ErrorIs(t, err, ErrApprovalRequired)
}

func TestClaimConcurrentExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "contested")
	require.NoError(t, s.Enqueue(tk))

	const claimers = 8
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Claim(tk.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrNotClaimable)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestCompleteAndTerminalGuards(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))
	_, err := s.Claim(tk.ID)
	require.NoError(t, err)

	require.NoError(t, s.Complete(tk.ID))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)

	// No transitions leave a terminal state.
	assert.ErrorIs(t, s.Fail(tk.ID, "nope"), ErrTerminal)
	_, err = s.Claim(tk.ID)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestFailRecordsReason(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("twitter", "body")
	require.NoError(t, s.Enqueue(tk))

	require.NoError(t, s.Fail(tk.ID, "approval_denied"))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "approval_denied", got.FailureReason)
}

func TestFailedTaskCannotBeReclaimed(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))
	require.NoError(t, s.Fail(tk.ID, "boom"))

	_, err := s.Claim(tk.ID)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestCompleteRequiresInProgress(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))

	err := s.Complete(tk.ID)
	assert.Error(t, err)
}

func TestReleaseLeavesResumableState(t *testing.T) {
	s := newTestStore(t)

	plain := newTask("gmail", "plain")
	require.NoError(t, s.Enqueue(plain))
	_, err := s.Claim(plain.ID)
	require.NoError(t, err)
	require.NoError(t, s.Release(plain.ID))
	got, err := s.Get(plain.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNew, got.Status)

	gated := newTask("linkedin", "gated")
	gated.RequiresApproval = true
	require.NoError(t, s.Enqueue(gated))
	require.NoError(t, s.SetApproval(gated.ID, true))
	_, err = s.Claim(gated.ID)
	require.NoError(t, err)
	require.NoError(t, s.Release(gated.ID))
	got, err = s.Get(gated.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNeedsAction, got.Status)
}

func TestHold(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("linkedin", "needs a human")
	tk.RequiresApproval = true
	require.NoError(t, s.Enqueue(tk))

	require.NoError(t, s.Hold(tk.ID))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusNeedsAction, got.Status)
}

func TestUpdateRejectsStatusChange(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	got.Status = task.StatusDone
	assert.Error(t, s.Update(got))
}

func TestUpdateRewritesInPlace(t *testing.T) {
	s := newTestStore(t)
	tk := newTask("gmail", "body")
	require.NoError(t, s.Enqueue(tk))

	got, err := s.Get(tk.ID)
	require.NoError(t, err)
	got.Domain = task.DomainPersonal
	got.Intent = task.IntentQuestion
	got.Priority = task.PriorityLow
	require.NoError(t, s.Update(got))

	reread, err := s.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.DomainPersonal, reread.Domain)
}

func TestQuarantineMalformedDocument(t *testing.T) {
	s := newTestStore(t)

	bad := filepath.Join(s.PartitionDir(task.StatusNew), "20260301T000000Z_gmail_bad.md")
	require.NoError(t, os.WriteFile(bad, []byte("not a task document"), 0o644))

	_, decodeErr := task.Decode([]byte("not a task document"))
	require.Error(t, decodeErr)
	require.NoError(t, s.Quarantine(bad, decodeErr))

	_, err := os.Stat(bad)
	assert.True(t, os.IsNotExist(err), "source must be removed")

	data, err := os.ReadFile(filepath.Join(s.PartitionDir(task.StatusFailed), "ERROR_20260301T000000Z_gmail_bad.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "quarantined")
	assert.Contains(t, string(data), "not a task document")
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(newTask("gmail", "msg")))
	}
	done := newTask("twitter", "done one")
	require.NoError(t, s.Enqueue(done))
	_, err := s.Claim(done.ID)
	require.NoError(t, err)
	require.NoError(t, s.Complete(done.ID))

	counts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, counts[task.StatusNew])
	assert.Equal(t, 1, counts[task.StatusDone])
	assert.Equal(t, 0, counts[task.StatusInProgress])
}

func TestOpenReconcilesInterruptedMove(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	// Simulate a crash between the destination write and the source
	// unlink: the same id sits in two partitions.
	tk := newTask("gmail", "body")
	tk.UpdatedAt = tk.CreatedAt
	stale, err := task.Encode(tk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.PartitionDir(task.StatusNew), tk.Filename()), stale, 0o644))

	moved := tk.Clone()
	moved.Status = task.StatusDone
	moved.UpdatedAt = tk.CreatedAt.Add(time.Minute)
	committed, err := task.Encode(moved)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.PartitionDir(task.StatusDone), moved.Filename()), committed, 0o644))

	reopened, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	got, err := reopened.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)

	names, err := reopened.docNames(task.StatusNew)
	require.NoError(t, err)
	assert.Empty(t, names, "stale intake copy must be dropped")
}

func TestOpenRealignsStatusWithPartition(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	// A claim interrupted after the rename leaves an intake-status
	// document inside the in_progress partition.
	tk := newTask("gmail", "body")
	tk.UpdatedAt = tk.CreatedAt
	data, err := task.Encode(tk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.PartitionDir(task.StatusInProgress), tk.Filename()), data, 0o644))

	reopened, err := Open(root, zap.NewNop())
	require.NoError(t, err)

	got, err := reopened.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
}
