package file

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/pkg/retry"
)

// File is the handle a Wrapper writes through. *os.File satisfies it.
type File interface {
	io.Writer
	Sync() error
	Close() error
}

// OpenFunc creates or truncates the file at path.
type OpenFunc func(path string) (File, error)

// OpenTruncate is the default OpenFunc. It creates missing directories.
func OpenTruncate(path string) (File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// Wrapper is one output file guarded by an exclusive lock. Writes to the
// same wrapper are totally ordered by lock acquisition; different wrappers
// never contend.
type Wrapper struct {
	index   int
	open    OpenFunc
	maxSize int64
	onOpen  func(path string)
	logger  *slog.Logger

	mu   sync.Mutex
	file File
	base string // path given to ChangeFileName
	path string // path currently open
	part int

	// readable without the lock
	size   atomic.Int64
	writes atomic.Uint64
}

// WrapperOption configures a Wrapper.
type WrapperOption func(*Wrapper)

// WithOpener replaces how files are opened.
func WithOpener(open OpenFunc) WrapperOption {
	return func(w *Wrapper) {
		if open != nil {
			w.open = open
		}
	}
}

// WithMaxSize rolls the file over to a numbered sibling once a write would
// take it past maxSize bytes. Zero disables rollover.
func WithMaxSize(maxSize int64) WrapperOption {
	return func(w *Wrapper) {
		w.maxSize = maxSize
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WrapperOption {
	return func(w *Wrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func withOpenHook(fn func(path string)) WrapperOption {
	return func(w *Wrapper) {
		w.onOpen = fn
	}
}

// NewWrapper creates a wrapper for file index. No file is open until
// ChangeFileName.
func NewWrapper(index int, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{
		index:  index,
		open:   OpenTruncate,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Index returns the file index.
func (w *Wrapper) Index() int {
	return w.index
}

// Write appends p to the open file.
func (w *Wrapper) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errors.WrapFatal(errors.ErrFileNotOpen, "Wrapper", "Write",
			fmt.Sprintf("write file %d", w.index))
	}

	if w.maxSize > 0 && w.size.Load() > 0 && w.size.Load()+int64(len(p)) > w.maxSize {
		if err := w.rolloverLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size.Add(int64(n))
	if err != nil {
		if n > 0 {
			// the stream now holds a truncated record; a retry would duplicate it
			return n, errors.WrapFatal(retry.NonRetryable(
				fmt.Errorf("%w: partial write of %d/%d bytes: %v", errors.ErrDataCorrupted, n, len(p), err)),
				"Wrapper", "Write", fmt.Sprintf("write %s", w.path))
		}
		return 0, errors.WrapIO(err, "Wrapper", "Write", fmt.Sprintf("write %s", w.path))
	}
	w.writes.Add(1)
	return n, nil
}

// ChangeFileName closes the current file and creates path in its place,
// resetting the counters. Pending writes on this wrapper serialize around
// it; other wrappers are unaffected.
func (w *Wrapper) ChangeFileName(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeLocked(); err != nil {
		w.logger.Warn("failed to close output file",
			"file", w.index,
			"path", w.path,
			"error", err)
	}

	w.base = path
	w.part = 0
	return w.openLocked(path)
}

func (w *Wrapper) rolloverLocked() error {
	if err := w.closeLocked(); err != nil {
		return errors.WrapIO(err, "Wrapper", "rollover", fmt.Sprintf("close %s", w.path))
	}
	w.part++
	next := partPath(w.base, w.part)
	w.logger.Info("rolling over output file",
		"file", w.index,
		"path", next,
		"max_size", w.maxSize)
	return w.openLocked(next)
}

func (w *Wrapper) openLocked(path string) error {
	f, err := w.open(path)
	if err != nil {
		return errors.WrapIO(err, "Wrapper", "ChangeFileName", fmt.Sprintf("open %s", path))
	}
	w.file = f
	w.path = path
	w.size.Store(0)
	w.writes.Store(0)
	if w.onOpen != nil {
		w.onOpen(path)
	}
	return nil
}

func (w *Wrapper) closeLocked() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return err
	}
	return syncErr
}

// Close flushes and closes the open file. The wrapper can be reopened with
// ChangeFileName.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.closeLocked(); err != nil {
		return errors.WrapIO(err, "Wrapper", "Close", fmt.Sprintf("close %s", w.path))
	}
	return nil
}

// Path returns the path currently open, or "" when closed.
func (w *Wrapper) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.path
}

// Size returns the bytes written to the current file.
func (w *Wrapper) Size() int64 {
	return w.size.Load()
}

// WriteCount returns the writes committed to the current file.
func (w *Wrapper) WriteCount() uint64 {
	return w.writes.Load()
}

// partPath inserts a part number before the extension:
// run.dat, run.001.dat, run.002.dat.
func partPath(base string, part int) string {
	if part == 0 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s.%03d%s", strings.TrimSuffix(base, ext), part, ext)
}
