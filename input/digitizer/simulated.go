package digitizer

import (
	"context"
	"sync"
	"time"

	"github.com/c360/orchid/event"
)

// SimulatedConfig configures a Simulated board.
type SimulatedConfig struct {
	Board       int
	Channels    int
	PayloadSize int

	// RecordsPerFill caps records per buffer; zero fills the buffer.
	RecordsPerFill int

	// MaxEvents stops generation after that many records; zero is
	// unlimited.
	MaxEvents uint64

	// Interval paces fills; zero fills as fast as the caller asks.
	Interval time.Duration
}

// Simulated generates sequentially numbered records, cycling through the
// channels.
type Simulated struct {
	cfg     SimulatedConfig
	start   time.Time
	payload []byte

	mu   sync.Mutex
	next uint64
}

// NewSimulated creates a simulated board.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.PayloadSize < 0 {
		cfg.PayloadSize = 0
	}
	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	return &Simulated{cfg: cfg, start: time.Now(), payload: payload}
}

// Board returns the board id.
func (s *Simulated) Board() int {
	return s.cfg.Board
}

// Generated returns how many records have been produced.
func (s *Simulated) Generated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Fill packs as many records as fit into p.
func (s *Simulated) Fill(ctx context.Context, p []byte) (int, error) {
	if err := s.pace(ctx); err != nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := event.HeaderSize + len(s.payload)
	written, records := 0, 0
	for len(p)-written >= size {
		if s.cfg.MaxEvents > 0 && s.next >= s.cfg.MaxEvents {
			break
		}
		if s.cfg.RecordsPerFill > 0 && records >= s.cfg.RecordsPerFill {
			break
		}
		n, err := event.Encode(p[written:], event.Record{
			Board:     uint16(s.cfg.Board),
			Channel:   uint16(s.next % uint64(s.cfg.Channels)),
			Sequence:  s.next,
			Timestamp: uint64(time.Since(s.start).Nanoseconds()),
			Payload:   s.payload,
		})
		if err != nil {
			return written, err
		}
		written += n
		records++
		s.next++
	}

	if written == 0 && s.cfg.MaxEvents > 0 && s.next >= s.cfg.MaxEvents {
		// exhausted: idle instead of spinning the reader
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
	}
	return written, nil
}

func (s *Simulated) pace(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close is a no-op.
func (s *Simulated) Close() error {
	return nil
}
