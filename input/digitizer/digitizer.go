package digitizer

import (
	"context"
)

// Digitizer is one acquisition board.
type Digitizer interface {
	// Board returns the board id stamped on every record.
	Board() int

	// Fill writes whole records into p and returns the bytes written.
	// Returning 0 with a nil error means no data was ready; the caller
	// re-checks its run state and calls again.
	Fill(ctx context.Context, p []byte) (int, error)

	// Close releases the device.
	Close() error
}
