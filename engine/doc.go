// Package engine assembles the acquisition pipeline from a config.Config
// and drives its run lifecycle.
//
// The pipeline is:
//
//	digitizer readers -> board pools -> fan-in -> router -> output pool
//	                                                     -> write queue -> writer pool -> files
//	slow-controls poller -> status cells
//
// Every role runs under its own control machine. StartRun opens the run's
// files and releases the roles from the back of the pipeline to the front;
// StopRun pauses them front to back, so when it returns every event read
// during the run is on disk:
//
//  1. acquisition stops and every reader acknowledges
//  2. processing drains the boards, flushes and acknowledges
//  3. file output waits for the write queue to empty, then stops
//
// Shutdown terminates the roles in the same order, closes the pools so no
// goroutine stays blocked, and waits for the goroutine group.
//
// A reader whose board fails is logged, counted and reported unhealthy; the
// remaining boards keep acquiring.
package engine
