package file

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/status"
)

// Collection is the indexed set of output files of one acquisition.
type Collection struct {
	wrappers []*Wrapper
	logger   *slog.Logger
}

// NewCollection creates n wrappers. When files is non-nil every open and
// rollover is published to the matching status entry.
func NewCollection(n int, files *status.FileData, logger *slog.Logger, opts ...WrapperOption) (*Collection, error) {
	if n <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d files", errors.ErrInvalidConfig, n),
			"Collection", "NewCollection", "create output files")
	}
	if files != nil && files.Len() != n {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: status tracks %d files, collection has %d", errors.ErrInvalidConfig, files.Len(), n),
			"Collection", "NewCollection", "create output files")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "output-files")

	c := &Collection{wrappers: make([]*Wrapper, n), logger: logger}
	for i := range c.wrappers {
		wopts := append([]WrapperOption{WithLogger(logger)}, opts...)
		if files != nil {
			entry := files.File(i)
			wopts = append(wopts, withOpenHook(entry.Opened))
		}
		c.wrappers[i] = NewWrapper(i, wopts...)
	}
	return c, nil
}

// Len returns the number of files.
func (c *Collection) Len() int {
	return len(c.wrappers)
}

// Get returns the wrapper of file i.
func (c *Collection) Get(i int) (*Wrapper, error) {
	if i < 0 || i >= len(c.wrappers) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d not in [0,%d)", errors.ErrInvalidFileID, i, len(c.wrappers)),
			"Collection", "Get", "resolve file")
	}
	return c.wrappers[i], nil
}

// Write appends p to file i.
func (c *Collection) Write(i int, p []byte) (int, error) {
	w, err := c.Get(i)
	if err != nil {
		return 0, err
	}
	return w.Write(p)
}

// ChangeFileName reopens file i at path.
func (c *Collection) ChangeFileName(i int, path string) error {
	w, err := c.Get(i)
	if err != nil {
		return err
	}
	return w.ChangeFileName(path)
}

// OpenRun points every file at the paths of a new run and returns them.
func (c *Collection) OpenRun(dir, title string, number int) ([]string, error) {
	paths := make([]string, len(c.wrappers))
	for i, w := range c.wrappers {
		paths[i] = filepath.Join(dir, RunFileName(title, number, i))
		if err := w.ChangeFileName(paths[i]); err != nil {
			return nil, err
		}
	}
	c.logger.Info("opened run files",
		"directory", dir,
		"title", title,
		"run_number", number,
		"files", len(paths))
	return paths, nil
}

// Close closes every file and returns the combined error.
func (c *Collection) Close() error {
	var errs []error
	for _, w := range c.wrappers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// RunFileName names file index of a run: <title>_run<number>_f<index>.dat.
// Characters outside [A-Za-z0-9_-] in the title become underscores.
func RunFileName(title string, number, index int) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, title)
	if clean == "" {
		clean = "run"
	}
	return fmt.Sprintf("%s_run%04d_f%02d.dat", clean, number, index)
}
