package digitizer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/orchid/errors"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/retry"
)

// udpMetrics holds Prometheus metrics for one UDP board.
type udpMetrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  prometheus.Counter
	socketErrors    prometheus.Counter
}

func newUDPMetrics(registry *metric.MetricsRegistry, board int) (*udpMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"board": fmt.Sprint(board)}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &udpMetrics{
		packetsReceived: counter("packets_received_total", "Total UDP datagrams received"),
		bytesReceived:   counter("bytes_received_total", "Total bytes received from UDP"),
		packetsDropped:  counter("packets_dropped_total", "Datagrams dropped because they did not fit a buffer"),
		socketErrors:    counter("socket_errors_total", "Socket read errors"),
	}

	component := fmt.Sprintf("udp_board_%d", board)
	for name, c := range map[string]prometheus.Counter{
		"packets_received": m.packetsReceived,
		"bytes_received":   m.bytesReceived,
		"packets_dropped":  m.packetsDropped,
		"socket_errors":    m.socketErrors,
	} {
		if err := registry.RegisterCounter(component, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UDPConfig configures a UDP board.
type UDPConfig struct {
	Board int
	Bind  string // default 0.0.0.0
	Port  int    // 0 picks a free port

	// ReadTimeout bounds each socket read so the reader re-checks its run
	// state; default 100ms.
	ReadTimeout time.Duration
}

// UDP receives records from a board that streams one or more packed
// records per datagram.
type UDP struct {
	cfg     UDPConfig
	logger  *slog.Logger
	metrics *udpMetrics

	mu   sync.RWMutex
	conn *net.UDPConn

	packets atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64
	errs    atomic.Int64
}

// NewUDP binds the socket, retrying transient bind failures.
func NewUDP(ctx context.Context, cfg UDPConfig, registry *metric.MetricsRegistry, logger *slog.Logger) (*UDP, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: port %d", errors.ErrInvalidConfig, cfg.Port),
			"UDP", "NewUDP", "port validation")
	}
	if cfg.Bind == "" {
		cfg.Bind = "0.0.0.0"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newUDPMetrics(registry, cfg.Board)
	if err != nil {
		return nil, errors.Wrap(err, "UDP", "NewUDP", "register metrics")
	}

	u := &UDP{
		cfg:     cfg,
		logger:  logger.With("component", "udp-digitizer", "board", cfg.Board),
		metrics: m,
	}

	rc := retry.DefaultConfig()
	if err := retry.Do(ctx, rc, u.bindSocket); err != nil {
		return nil, errors.WrapTransient(err, "UDP", "NewUDP", "socket binding")
	}
	return u, nil
}

func (u *UDP) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.cfg.Bind, u.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s:%d: %w", u.cfg.Bind, u.cfg.Port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", u.cfg.Port, err)
	}

	const socketBufferSize = 8 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		u.logger.Warn("could not set UDP buffer size",
			"buffer_size", socketBufferSize,
			"error", err)
	}

	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()
	return nil
}

// Board returns the board id.
func (u *UDP) Board() int {
	return u.cfg.Board
}

// Addr returns the bound address.
func (u *UDP) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Fill reads one datagram into p. A read timeout returns 0 bytes so the
// reader can poll its run state. A datagram larger than p is dropped and
// counted.
func (u *UDP) Fill(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil
	}

	u.mu.RLock()
	conn := u.conn
	u.mu.RUnlock()
	if conn == nil {
		return 0, errors.WrapFatal(errors.ErrClosed, "UDP", "Fill", "read datagram")
	}

	_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
	n, _, flags, _, err := conn.ReadMsgUDP(p, nil)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil
		}
		u.errs.Add(1)
		if u.metrics != nil {
			u.metrics.socketErrors.Inc()
		}
		return 0, errors.WrapIO(err, "UDP", "Fill", "read datagram")
	}

	if flags&msgTrunc != 0 {
		u.dropped.Add(1)
		if u.metrics != nil {
			u.metrics.packetsDropped.Inc()
		}
		u.logger.Warn("dropped datagram larger than buffer", "buffer_size", len(p))
		return 0, nil
	}

	u.packets.Add(1)
	u.bytes.Add(int64(n))
	if u.metrics != nil {
		u.metrics.packetsReceived.Inc()
		u.metrics.bytesReceived.Add(float64(n))
	}
	return n, nil
}

// UDPStats are the board's receive counters.
type UDPStats struct {
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
	Dropped int64 `json:"dropped"`
	Errors  int64 `json:"errors"`
}

// Stats returns receive counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		Packets: u.packets.Load(),
		Bytes:   u.bytes.Load(),
		Dropped: u.dropped.Load(),
		Errors:  u.errs.Load(),
	}
}

// Close closes the socket.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
