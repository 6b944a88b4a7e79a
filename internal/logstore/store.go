// Package logstore keeps the per-task stdout/stderr capture files C3 writes
// and C5/C6 read (spec.md §4.2). Each stream is a plain append-only file;
// there is no in-memory ring buffer, since output must survive the task
// outliving any particular client connection.
package logstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pueued/pueued/internal/metrics"
)

// Stream selects which of a task's two output files to operate on.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) suffix() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Store roots every task's log files under a single directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(taskID int, stream Stream) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.%s", taskID, stream.suffix()))
}

// Create opens (creating it if needed) a task's stream file for append-only
// writing by the supervisor; existing content is kept, not truncated. The
// returned writer reports each write's size to the
// pueued_logstore_bytes_written_total metric.
func (s *Store) Create(taskID int, stream Stream) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.path(taskID, stream), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file for task %d: %w", taskID, err)
	}
	return &countingWriteCloser{f: f, stream: stream.suffix()}, nil
}

// countingWriteCloser wraps a stream file so every write the supervisor
// makes is reflected in the logstore byte-written counter.
type countingWriteCloser struct {
	f      *os.File
	stream string
}

func (c *countingWriteCloser) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	if n > 0 {
		metrics.RecordLogStoreWrite(c.stream, float64(n))
	}
	return n, err
}

func (c *countingWriteCloser) Close() error {
	return c.f.Close()
}

// Read returns the full contents of a task's stream. A missing file is
// equivalent to empty output (spec.md §3 LogHandle).
func (s *Store) Read(taskID int, stream Stream) ([]byte, error) {
	data, err := os.ReadFile(s.path(taskID, stream))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log file for task %d: %w", taskID, err)
	}
	return data, nil
}

// Tail returns up to the last n bytes of a task's stream.
func (s *Store) Tail(taskID int, stream Stream, n int64) ([]byte, error) {
	f, err := os.Open(s.path(taskID, stream))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file for task %d: %w", taskID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file for task %d: %w", taskID, err)
	}
	start := info.Size() - n
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file for task %d: %w", taskID, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read tail of log file for task %d: %w", taskID, err)
	}
	return data, nil
}

// TailLines returns the last n newline-delimited lines of a task's stream,
// for the `Log(ids, lines?)` request's "lines" form (spec.md §4.5). It reads
// the whole file; log files are not expected to be large enough to warrant
// a reverse-scan optimization.
func (s *Store) TailLines(taskID int, stream Stream, n int) ([]byte, error) {
	data, err := s.Read(taskID, stream)
	if err != nil || data == nil {
		return data, err
	}
	trimmed := data
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '\n' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	lines := splitLines(trimmed)
	if n <= 0 || n >= len(lines) {
		return data, nil
	}
	kept := lines[len(lines)-n:]
	out := make([]byte, 0, len(data))
	for _, line := range kept {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	lines = append(lines, data[start:])
	return lines
}

// Truncate empties a task's stream file in place without destroying the
// file handle's identity. (`clean` deletes log files with Remove instead.)
func (s *Store) Truncate(taskID int, stream Stream) error {
	path := s.path(taskID, stream)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("truncate log file for task %d: %w", taskID, err)
	}
	return nil
}

// Remove deletes both of a task's stream files, used when the task itself
// is removed.
func (s *Store) Remove(taskID int) error {
	var firstErr error
	for _, stream := range []Stream{Stdout, Stderr} {
		if err := os.Remove(s.path(taskID, stream)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("remove log files for task %d: %w", taskID, firstErr)
	}
	return nil
}

// Purge removes every log file in the store, used by `reset`.
func (s *Store) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read log store dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("purge log file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// IsDoneFunc reports whether a task has reached a terminal status; Follow
// uses it to decide when to emit a final chunk and stop.
type IsDoneFunc func(taskID int) bool

// followPollInterval bounds how often Follow re-checks for new bytes once it
// has caught up to EOF.
const followPollInterval = 100 * time.Millisecond

// Follow streams new bytes appended to a task's stream to fn as they arrive,
// polling for growth, until isDone reports the task has finished — at which
// point it emits any final bytes and returns. Follow also returns when the
// cancel channel is closed, whichever comes first.
func (s *Store) Follow(taskID int, stream Stream, isDone IsDoneFunc, cancel <-chan struct{}, fn func([]byte)) error {
	path := s.path(taskID, stream)

	var f *os.File
	for f == nil {
		opened, err := os.Open(path)
		switch {
		case err == nil:
			f = opened
		case os.IsNotExist(err):
			if isDone(taskID) {
				return nil
			}
			select {
			case <-cancel:
				return nil
			case <-time.After(followPollInterval):
			}
		default:
			return fmt.Errorf("open log file for task %d: %w", taskID, err)
		}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err == io.EOF {
			if isDone(taskID) {
				return nil
			}
			select {
			case <-cancel:
				return nil
			case <-time.After(followPollInterval):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("follow log file for task %d: %w", taskID, err)
		}
	}
}
