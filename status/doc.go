// Package status holds the live statistics shared between acquisition
// goroutines and the UI.
//
// Rarely written values (run title, file names, slow-controls readings)
// live in a Cell: an RWMutex-guarded value with a version number and a
// dirty flag. Get clears the dirty flag and therefore serves exactly one
// consumer, the UI reporter. Any other reader uses Peek, or GetIfNewer with
// its own remembered version.
//
// Counters (triggers, bytes, buffers, write errors) are plain atomics:
// they only ever accumulate and are read for display, so no ordering
// beyond eventual visibility is needed.
package status
