// Package orchid is the data-acquisition backbone of the ORCHID detector
// readout.
//
// Digitizer boards fill fixed-size buffers drawn from per-board pools.
// A single processing goroutine fans those buffers in, validates and counts
// the event records, and packs them into write jobs for a bounded
// multi-file queue drained by a pool of writer goroutines. A slow-controls
// poller reads the detector power supplies on its own cadence. Every role
// is steered by a threadstate.Machine, and every observable quantity lives
// in the status package where the console reporter reads it.
//
// # Packages
//
//   - pkg/threadstate: Stopped/Running/Terminate state machine shared by a role
//   - pkg/buffer, pkg/bufferpool: bounded rings, buffer arenas and fan-in
//   - pkg/retry: bounded retry used by the file writers
//   - event: on-disk record codec
//   - input/digitizer, input/slowcontrols: hardware boundaries and their readers
//   - processor/router: validation, accounting and routing of records
//   - output/file: file wrappers, write queue and writer pool
//   - control: per-role controllers
//   - status: operator-visible state with dirty flags
//   - engine: wiring of all roles into one acquisition
//   - config, errors, metric, health: configuration, classified errors,
//     Prometheus metrics and health reporting
//
// The orchid binary lives in cmd/orchid.
package orchid
