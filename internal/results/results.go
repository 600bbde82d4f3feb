// Package results names, writes and queues profiling result records.
package results

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const filePrefix = "profiler_"

// Kind tells how a result was produced.
type Kind string

const (
	KindNormal  Kind = "normal"
	KindPseudo  Kind = "pseudo"
	KindUnknown Kind = "unknown"
)

// Record is one finished profiling run.
type Record struct {
	Kind    Kind
	Label   string
	Path    string
	Backend string
	Text    string
	Created time.Time
}

// Dir hands out strictly increasing result indices for one directory.
type Dir struct {
	mu   sync.Mutex
	path string
	next int64
}

// Open scans path for existing result files and returns a Dir whose next
// index is one past the highest found.
func Open(path string) (*Dir, error) {
	if path == "" {
		path = "."
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	maxIdx, err := ScanMaxIndex(path)
	if err != nil {
		return nil, err
	}
	return &Dir{path: path, next: maxIdx + 1}, nil
}

// ScanMaxIndex returns the highest index among profiler_<backend>.<index>
// files in dir, or zero when there are none.
func ScanMaxIndex(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan results dir: %w", err)
	}
	var maxIdx int64
	for _, e := range entries {
		if idx, ok := parseIndex(e.Name()); ok && idx > maxIdx {
			maxIdx = idx
		}
	}
	return maxIdx, nil
}

func parseIndex(name string) (int64, bool) {
	if !strings.HasPrefix(name, filePrefix) {
		return 0, false
	}
	dot := strings.LastIndexByte(name, '.')
	if dot <= len(filePrefix) || dot == len(name)-1 {
		return 0, false
	}
	idx, err := strconv.ParseInt(name[dot+1:], 10, 64)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// FileName builds the result file name for backend and index.
func FileName(backend string, index int64) string {
	return filePrefix + backend + "." + strconv.FormatInt(index, 10)
}

// Path returns the directory.
func (d *Dir) Path() string { return d.path }

// Next returns the index the next Write will try first.
func (d *Dir) Next() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// Write stores text as the next result file. A non-empty label is appended
// as a footer. Files are created exclusively; an index taken by another
// writer is skipped.
func (d *Dir) Write(backend, text, label string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	body := text
	if label != "" {
		body = WithLabel(text, label)
	}
	for attempts := 0; attempts < 1000; attempts++ {
		path := filepath.Join(d.path, FileName(backend, d.next))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			d.next++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create result file: %w", err)
		}
		d.next++
		if _, err := f.WriteString(body); err != nil {
			f.Close()
			return path, fmt.Errorf("write result file: %w", err)
		}
		if err := f.Close(); err != nil {
			return path, fmt.Errorf("close result file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free result index in %s", d.path)
}

// WithLabel appends the label footer to a report.
func WithLabel(text, label string) string {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + "\nLabel: " + label + "\n"
}

// PseudoReport renders the elapsed-time-only report of a pseudo session.
func PseudoReport(label string, elapsed time.Duration) string {
	return fmt.Sprintf("pseudo profiling (elapsed time only)\nelapsed: %s\nLabel: %s\n", elapsed, label)
}

// Queue holds records until the controller drains them.
type Queue struct {
	mu    sync.Mutex
	items []Record
}

// Push appends a record.
func (q *Queue) Push(r Record) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// Drain returns and clears all queued records.
func (q *Queue) Drain() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len reports the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
