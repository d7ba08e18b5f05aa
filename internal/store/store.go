// Package store implements the directory-partitioned task store. Each
// status owns one partition directory under the vault root; a task
// document lives in exactly the partition matching its status, and
// every transition moves the document with an atomic rename.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

var (
	// ErrNotFound indicates no task document exists for the id.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateID indicates an enqueue with an id already in the store.
	ErrDuplicateID = errors.New("duplicate task id")

	// ErrNotClaimable indicates the task is not in a claimable state or
	// was claimed by another worker first.
	ErrNotClaimable = errors.New("task not claimable")

	// ErrApprovalRequired indicates a claim attempt on a task whose
	// approval gate has not been satisfied.
	ErrApprovalRequired = errors.New("approval not granted")

	// ErrTerminal indicates a transition out of done or failed.
	ErrTerminal = errors.New("task is in a terminal state")
)

// Partition directory names preserved from the original vault layout.
var partitionDirs = map[task.Status]string{
	task.StatusNew:         "Inbox",
	task.StatusNeedsAction: "Needs_Action",
	task.StatusInProgress:  "In_Progress",
	task.StatusDone:        "Done",
	task.StatusFailed:      "Failed",
}

// Store is a durable task collection rooted at a vault directory.
// Multi-step transitions are serialized in-process; the cross-process
// commit point for every partition move is rename(2).
type Store struct {
	root   string
	logger *zap.Logger

	mu sync.Mutex
}

// Open creates the partition layout under root if needed and returns
// a store. The vault root must be on a single filesystem so renames
// stay atomic.
func Open(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range partitionDirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create partition %s: %w", dir, err)
		}
	}
	for _, dir := range []string{"Logs", "Briefings"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s := &Store{root: root, logger: logger.Named("store")}
	if err := s.reconcile(); err != nil {
		return nil, err
	}
	return s, nil
}

// reconcile repairs the aftermath of a crash mid-transition. A
// transition writes the destination before unlinking the source, so a
// crash between the two leaves the same id in two partitions; the copy
// with the newest UpdatedAt is the committed one and the rest are
// dropped. A document whose front-matter status disagrees with its
// partition is rewritten to match, since the rename is the commit
// point for every move.
func (s *Store) reconcile() error {
	type located struct {
		t         *task.Task
		path      string
		partition task.Status
	}
	byID := make(map[string][]located)
	for _, status := range task.AllStatuses() {
		names, err := s.docNames(status)
		if err != nil {
			return err
		}
		for _, name := range names {
			path := filepath.Join(s.PartitionDir(status), name)
			t, err := s.readDoc(path)
			if err != nil {
				continue // malformed intake is quarantined by the scan loop
			}
			byID[t.ID] = append(byID[t.ID], located{t: t, path: path, partition: status})
		}
	}

	for id, copies := range byID {
		sort.Slice(copies, func(i, j int) bool {
			return copies[i].t.UpdatedAt.After(copies[j].t.UpdatedAt)
		})
		for _, stale := range copies[1:] {
			if err := os.Remove(stale.path); err != nil {
				return fmt.Errorf("reconcile %s: drop stale copy: %w", id, err)
			}
			s.logger.Warn("dropped stale duplicate after interrupted move",
				zap.String("task_id", id),
				zap.String("partition", string(stale.partition)),
			)
		}
		keep := copies[0]
		if keep.t.Status != keep.partition {
			keep.t.Status = keep.partition
			if err := s.writeDoc(keep.path, keep.t); err != nil {
				return fmt.Errorf("reconcile %s: %w", id, err)
			}
			s.logger.Warn("realigned document status with its partition",
				zap.String("task_id", id),
				zap.String("partition", string(keep.partition)),
			)
		}
	}
	return nil
}

// Root returns the vault root directory.
func (s *Store) Root() string {
	return s.root
}

// PartitionDir returns the absolute directory backing a status.
func (s *Store) PartitionDir(status task.Status) string {
	return filepath.Join(s.root, partitionDirs[status])
}

// Enqueue writes a new task document into the intake partition. An id
// collision fails without touching the existing document.
func (s *Store) Enqueue(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ID == "" {
		t.ID = task.NewID(t.CreatedAt, t.Source)
	}
	t.Status = task.StatusNew
	t.UpdatedAt = now

	if err := t.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if _, _, err := s.locate(t.ID); err == nil {
		return fmt.Errorf("enqueue %s: %w", t.ID, ErrDuplicateID)
	}

	path := filepath.Join(s.PartitionDir(task.StatusNew), t.Filename())
	if err := s.writeDoc(path, t); err != nil {
		return err
	}
	s.logger.Debug("task enqueued", zap.String("task_id", t.ID), zap.String("source", t.Source))
	return nil
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// List returns all tasks in a partition, ordered by filename (and
// therefore by creation time).
func (s *Store) List(status task.Status) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(status)
}

// Counts returns the number of documents per partition.
func (s *Store) Counts() (map[task.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[task.Status]int, len(partitionDirs))
	for status := range partitionDirs {
		names, err := s.docNames(status)
		if err != nil {
			return nil, err
		}
		counts[status] = len(names)
	}
	return counts, nil
}

// Claim transitions a task from new or needs_action into in_progress.
// The rename into the in_progress partition is the commit point: when
// two claimers race, exactly one rename succeeds and the loser gets
// ErrNotClaimable.
func (s *Store) Claim(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, path, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusNew && t.Status != task.StatusNeedsAction {
		return nil, fmt.Errorf("claim %s from %s: %w", id, t.Status, ErrNotClaimable)
	}
	if !t.ApprovalGranted() {
		return nil, fmt.Errorf("claim %s: %w", id, ErrApprovalRequired)
	}

	dst := filepath.Join(s.PartitionDir(task.StatusInProgress), filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("claim %s: %w", id, ErrNotClaimable)
		}
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}

	t.Status = task.StatusInProgress
	t.UpdatedAt = time.Now().UTC()
	if err := s.writeDoc(dst, t); err != nil {
		return nil, err
	}
	s.logger.Debug("task claimed", zap.String("task_id", id))
	return t.Clone(), nil
}

// Complete transitions in_progress to done.
func (s *Store) Complete(id string) error {
	return s.transition(id, []task.Status{task.StatusInProgress}, task.StatusDone, func(t *task.Task) {})
}

// Fail transitions any non-terminal state to failed and records the
// reason on the document.
func (s *Store) Fail(id, reason string) error {
	nonTerminal := []task.Status{task.StatusNew, task.StatusNeedsAction, task.StatusInProgress}
	return s.transition(id, nonTerminal, task.StatusFailed, func(t *task.Task) {
		t.FailureReason = reason
	})
}

// Hold moves a claimed task to needs_action to wait for approval.
func (s *Store) Hold(id string) error {
	return s.transition(id, []task.Status{task.StatusNew, task.StatusInProgress}, task.StatusNeedsAction, func(t *task.Task) {})
}

// Release returns an in-flight task to a resumable state after
// cancellation: needs_action when it is gated on approval, otherwise
// back to the intake partition.
func (s *Store) Release(id string) error {
	s.mu.Lock()
	t, _, err := s.locate(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	dest := task.StatusNew
	if t.RequiresApproval {
		dest = task.StatusNeedsAction
	}
	return s.transition(id, []task.Status{task.StatusInProgress}, dest, func(t *task.Task) {})
}

// Update rewrites a task document in place within its current
// partition. Status changes must go through the transition operations.
func (s *Store) Update(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, path, err := s.locate(t.ID)
	if err != nil {
		return err
	}
	if cur.Status != t.Status {
		return fmt.Errorf("update %s: status change %s -> %s must use a transition", t.ID, cur.Status, t.Status)
	}
	t.UpdatedAt = time.Now().UTC()
	return s.writeDoc(path, t)
}

// SetApproval records a human approval decision on a needs_action
// task. It does not move the task; the orchestrator reacts to the
// recorded decision.
func (s *Store) SetApproval(id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, path, err := s.locate(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("approve %s: %w", id, ErrTerminal)
	}
	t.Approved = &approved
	t.UpdatedAt = time.Now().UTC()
	return s.writeDoc(path, t)
}

// Quarantine moves a document that failed to parse into the failed
// partition, preserving the raw content with the parse error noted.
// Malformed intake is never silently dropped.
func (s *Store) Quarantine(path string, parseErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("quarantine read: %w", err)
	}

	name := "ERROR_" + filepath.Base(path)
	dst := filepath.Join(s.PartitionDir(task.StatusFailed), name)
	note := fmt.Sprintf("<!-- quarantined: %v -->\n", parseErr)
	if err := writeFileAtomic(dst, append([]byte(note), raw...)); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("quarantine remove source: %w", err)
	}
	s.logger.Warn("document quarantined",
		zap.String("file", filepath.Base(path)),
		zap.Error(parseErr),
	)
	return nil
}

// transition moves a task between partitions: the destination write
// happens first and the source unlink second, so a crash can leave a
// duplicate (cleaned up by reconcile at Open) but never lose the task.
func (s *Store) transition(id string, from []task.Status, to task.Status, mutate func(*task.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, path, err := s.locate(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("transition %s from %s: %w", id, t.Status, ErrTerminal)
	}
	eligible := false
	for _, st := range from {
		if t.Status == st {
			eligible = true
			break
		}
	}
	if !eligible {
		return fmt.Errorf("transition %s: cannot move %s -> %s", id, t.Status, to)
	}

	mutate(t)
	t.Status = to
	t.UpdatedAt = time.Now().UTC()

	dst := filepath.Join(s.PartitionDir(to), filepath.Base(path))
	if err := s.writeDoc(dst, t); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("transition %s: remove source: %w", id, err)
	}
	s.logger.Debug("task moved",
		zap.String("task_id", id),
		zap.String("to", string(to)),
	)
	return nil
}

// locate scans partitions for the document holding id. Callers hold mu.
func (s *Store) locate(id string) (*task.Task, string, error) {
	for _, status := range task.AllStatuses() {
		names, err := s.docNames(status)
		if err != nil {
			return nil, "", err
		}
		for _, name := range names {
			path := filepath.Join(s.PartitionDir(status), name)
			t, err := s.readDoc(path)
			if err != nil {
				continue // quarantine candidates are handled at intake
			}
			if t.ID == id {
				return t, path, nil
			}
		}
	}
	return nil, "", fmt.Errorf("locate %s: %w", id, ErrNotFound)
}

func (s *Store) listLocked(status task.Status) ([]*task.Task, error) {
	names, err := s.docNames(status)
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(names))
	for _, name := range names {
		t, err := s.readDoc(filepath.Join(s.PartitionDir(status), name))
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// docNames returns task document filenames in a partition, sorted.
func (s *Store) docNames(status task.Status) ([]string, error) {
	entries, err := os.ReadDir(s.PartitionDir(status))
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", status, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) readDoc(path string) (*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return task.Decode(data)
}

func (s *Store) writeDoc(path string, t *task.Task) error {
	data, err := task.Encode(t)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes via a hidden temp file in the destination
// directory and renames into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
