// Package digitizer reads event buffers from acquisition boards into
// buffer pools.
//
// A Digitizer fills a caller-provided byte slice with packed event records
// and reports how many bytes it wrote. Register programming and readout
// protocols stay behind that interface. Two implementations ship here:
// Simulated, a deterministic generator for bench runs and tests, and UDP,
// for boards that stream records as datagrams.
//
// One Reader runs per board. Each iteration it waits for run permission,
// acquires a free buffer (blocking when processing falls behind), fills
// it, stamps an event.BufferInfo and publishes it.
package digitizer
