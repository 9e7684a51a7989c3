// Package control holds the per-role controllers. Each composes a
// threadstate.Machine with the wake conditions its role needs: the
// processing controller interrupts the fan-in wait and asks for a flush on
// stop, the slow-controls controller adds a poll cadence, and the
// acquisition and file-output controllers know how to wait for their
// workers to quiesce.
package control
