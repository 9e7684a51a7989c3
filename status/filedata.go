package status

import (
	"sync/atomic"
)

// FileEntry is the live state of one output file.
type FileEntry struct {
	Name *Cell[string]

	size      atomic.Int64
	writes    atomic.Uint64
	errors    atomic.Uint64
	abandoned atomic.Uint64
	errored   atomic.Bool
}

// FileData holds one FileEntry per output file index.
type FileData struct {
	files []*FileEntry
}

// NewFileData creates entries for n files.
func NewFileData(n int) *FileData {
	fd := &FileData{files: make([]*FileEntry, n)}
	for i := range fd.files {
		fd.files[i] = &FileEntry{Name: NewCell("")}
	}
	return fd
}

// Len returns the number of files.
func (f *FileData) Len() int {
	return len(f.files)
}

// File returns the entry of file i, or nil when out of range.
func (f *FileData) File(i int) *FileEntry {
	if i < 0 || i >= len(f.files) {
		return nil
	}
	return f.files[i]
}

// Opened records a new path for the file and resets its size.
func (e *FileEntry) Opened(name string) {
	e.Name.Set(name)
	e.size.Store(0)
}

// AddWrite counts a committed write of n bytes.
func (e *FileEntry) AddWrite(n int) {
	e.writes.Add(1)
	e.size.Add(int64(n))
}

// AddError counts a write that failed after retries.
func (e *FileEntry) AddError() {
	e.errors.Add(1)
}

// AddAbandoned counts a job dropped because the file is errored or the
// writer pool shut down before reaching it.
func (e *FileEntry) AddAbandoned() {
	e.abandoned.Add(1)
}

// MarkErrored stops further routing to the file until ClearErrored.
func (e *FileEntry) MarkErrored() {
	e.errored.Store(true)
}

// ClearErrored re-enables the file, typically when a new run opens it.
func (e *FileEntry) ClearErrored() {
	e.errored.Store(false)
}

// Errored reports whether the file has been marked errored.
func (e *FileEntry) Errored() bool {
	return e.errored.Load()
}

// Size returns the bytes written since the file was opened.
func (e *FileEntry) Size() int64 { return e.size.Load() }

// Writes returns the number of committed writes.
func (e *FileEntry) Writes() uint64 { return e.writes.Load() }

// Errors returns the number of failed writes.
func (e *FileEntry) Errors() uint64 { return e.errors.Load() }

// Abandoned returns the number of jobs never written.
func (e *FileEntry) Abandoned() uint64 { return e.abandoned.Load() }

// FileSnapshot is a display copy of one FileEntry.
type FileSnapshot struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Writes    uint64 `json:"writes"`
	Errors    uint64 `json:"errors"`
	Abandoned uint64 `json:"abandoned"`
	Errored   bool   `json:"errored"`
}

// Snapshot copies every entry without clearing dirty flags.
func (f *FileData) Snapshot() []FileSnapshot {
	out := make([]FileSnapshot, len(f.files))
	for i, e := range f.files {
		out[i] = FileSnapshot{
			Index:     i,
			Name:      e.Name.Peek(),
			Size:      e.Size(),
			Writes:    e.Writes(),
			Errors:    e.Errors(),
			Abandoned: e.Abandoned(),
			Errored:   e.Errored(),
		}
	}
	return out
}
