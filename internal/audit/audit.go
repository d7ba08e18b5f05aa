// Package audit provides the append-only ledger of orchestration
// events. All writes funnel through a single goroutine so concurrent
// workers never interleave partial lines, and no entry is ever
// modified or deleted.
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/task"
)

// EventType identifies what happened.
type EventType string

const (
	EventCreated           EventType = "created"
	EventClassified        EventType = "classified"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"
	EventAttempt           EventType = "attempt"
	EventRetry             EventType = "retry"
	EventSuccess           EventType = "success"
	EventFailure           EventType = "failure"
	EventMoved             EventType = "moved"
)

// Entry is one immutable audit record.
type Entry struct {
	Timestamp   time.Time
	TaskID      string
	Event       EventType
	StatusAfter task.Status
	Detail      string
}

// ErrClosed indicates a write after Close.
var ErrClosed = errors.New("audit log closed")

type writeReq struct {
	entry Entry
	errCh chan error
}

// Log is an append-only audit ledger backed by one file.
type Log struct {
	path   string
	logger *zap.Logger

	writeCh chan writeReq

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

// Open starts the writer goroutine for the ledger at path.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &Log{
		path:    path,
		logger:  logger.Named("audit"),
		writeCh: make(chan writeReq),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go l.writer(f)
	return l, nil
}

// Record appends one entry and waits for the write to land before
// returning. A zero timestamp is filled with the current time.
func (l *Log) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	req := writeReq{entry: e, errCh: make(chan error, 1)}
	select {
	case l.writeCh <- req:
		return <-req.errCh
	case <-l.closed:
		return ErrClosed
	}
}

// Close stops the writer and flushes the file.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	<-l.drained
	return nil
}

func (l *Log) writer(f *os.File) {
	defer close(l.drained)
	defer f.Close()
	for {
		select {
		case req := <-l.writeCh:
			_, err := f.WriteString(formatLine(req.entry))
			if err == nil {
				err = f.Sync()
			}
			if err != nil {
				l.logger.Error("audit write failed", zap.Error(err))
			}
			req.errCh <- err
		case <-l.closed:
			return
		}
	}
}

// Scan returns all entries with from <= Timestamp < to, in file order.
// Entries within one task are therefore in write order.
func (l *Log) Scan(from, to time.Time) ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open audit log for scan: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		e, err := parseLine(scanner.Text())
		if err != nil {
			l.logger.Warn("skipping unparsable audit line", zap.Error(err))
			continue
		}
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return entries, nil
}

// TaskEntries returns all entries for one task in write order.
func (l *Log) TaskEntries(taskID string) ([]Entry, error) {
	all, err := l.Scan(time.Time{}, time.Now().UTC().Add(time.Hour))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// formatLine renders one entry as a single line:
//
//	2026-03-01T12:00:00Z task=<id> event=<type> status=<status> detail="..."
func formatLine(e Entry) string {
	return fmt.Sprintf("%s task=%s event=%s status=%s detail=%s\n",
		e.Timestamp.UTC().Format(time.RFC3339),
		e.TaskID,
		e.Event,
		e.StatusAfter,
		strconv.Quote(e.Detail),
	)
}

func parseLine(line string) (Entry, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, fmt.Errorf("empty line")
	}

	tsRaw, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Entry{}, fmt.Errorf("malformed audit line")
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp: %w", err)
	}

	e := Entry{Timestamp: ts}
	for _, key := range []string{"task=", "event=", "status="} {
		if !strings.HasPrefix(rest, key) {
			return Entry{}, fmt.Errorf("missing %q field", key)
		}
		val, tail, ok := strings.Cut(rest[len(key):], " ")
		if !ok {
			return Entry{}, fmt.Errorf("truncated after %q", key)
		}
		switch key {
		case "task=":
			e.TaskID = val
		case "event=":
			e.Event = EventType(val)
		case "status=":
			e.StatusAfter = task.Status(val)
		}
		rest = tail
	}

	detailRaw, ok := strings.CutPrefix(rest, "detail=")
	if !ok {
		return Entry{}, fmt.Errorf("missing detail field")
	}
	detail, err := strconv.Unquote(detailRaw)
	if err != nil {
		return Entry{}, fmt.Errorf("bad detail: %w", err)
	}
	e.Detail = detail
	return e, nil
}
