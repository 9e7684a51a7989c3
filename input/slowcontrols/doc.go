// Package slowcontrols polls the detector power supplies.
//
// A Reader is the boundary to the supply hardware (SNMP on the real
// crates). The Poller runs under a control.SlowControls controller, reads
// every measurement at the controller cadence and publishes the readings
// into status.SlowControlsData cells for the display loop.
package slowcontrols
