// Package threadstate provides the tri-state lifecycle shared by every
// acquisition role (digitizer readers, processing, writers, slow controls).
//
// A Machine starts Stopped. Only a controlling goroutine moves it between
// Stopped and Running with RequestRun and RequestStop; Terminate is
// absorbing. Every transition broadcasts, so each blocked worker observes
// it.
//
// Worker loops look like this:
//
//	for {
//		if m.WaitForRunPermission() == threadstate.Terminate {
//			return
//		}
//		doOneUnitOfWork()
//		// Stop and Terminate are re-checked at the top of the loop.
//	}
//
// WaitForRunPermission acknowledges the stop once before it blocks, which
// lets a controller wait with WaitStopAcknowledged until all of its workers
// have actually quiesced.
package threadstate
