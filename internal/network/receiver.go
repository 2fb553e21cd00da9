// Package network implements the two concurrent paths of the client: the
// UDP receive path that prints forwarded messages, and the send path that
// forwards operator commands to the game.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/protocol"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// ErrReceiverNotStarted is returned by Run when Start has not succeeded.
var ErrReceiverNotStarted = errors.New("receiver not bound")

// MessageHandler is called for every datagram that passes the allow-list.
type MessageHandler func(from *net.UDPAddr, at time.Time, dg protocol.Datagram)

// ReceiverConfig holds the settings of the receive path.
type ReceiverConfig struct {
	ListenPort int
	Timeout    time.Duration
	BufferSize int
	Filter     protocol.TagFilter
}

// Receiver reads forwarded messages from the listen socket. Each read waits
// at most Timeout so a stop request is noticed promptly.
type Receiver struct {
	cfg     ReceiverConfig
	metrics *metrics.Metrics
	handler MessageHandler
	logger  zerolog.Logger

	mu        sync.Mutex
	conn      *net.UDPConn
	bound     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewReceiver creates a receiver. handler may be nil.
func NewReceiver(cfg ReceiverConfig, m *metrics.Metrics, handler MessageHandler) *Receiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = protocol.MaxDatagramSize
	}
	if m == nil {
		m = metrics.New()
	}
	return &Receiver{
		cfg:     cfg,
		metrics: m,
		handler: handler,
		logger:  util.ComponentLogger("receiver"),
		bound:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the listen socket on all IPv4 interfaces.
func (r *Receiver) Start(ctx context.Context) error {
	addr := &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: r.cfg.ListenPort,
	}

	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return fmt.Errorf("failed to bind listener on port %d: %w", r.cfg.ListenPort, err)
	}

	r.mu.Lock()
	r.conn = pc.(*net.UDPConn)
	r.mu.Unlock()
	close(r.bound)

	r.logger.Info().
		Str("addr", pc.LocalAddr().String()).
		Dur("timeout", r.cfg.Timeout).
		Bool("all_tags", r.cfg.Filter.Empty()).
		Msg("listening for forwarded messages")
	return nil
}

// Bound is closed once Start succeeds.
func (r *Receiver) Bound() <-chan struct{} {
	return r.bound
}

// Done is closed when Run returns after a successful Start.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// LocalAddr returns the bound address, or nil before Start.
func (r *Receiver) LocalAddr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads datagrams until ctx is cancelled, then releases the socket.
func (r *Receiver) Run(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrReceiverNotStarted
	}

	defer close(r.done)
	defer r.Close()

	buf := make([]byte, r.cfg.BufferSize)
	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.Timeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn().Err(err).Msg("failed to set read deadline")
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			r.metrics.ObserveReceiveError()
			r.logger.Error().Err(err).Msg("receive error")
			continue
		}

		r.process(from, buf[:n])
	}

	r.logger.Debug().Msg("receive path stopped")
	return nil
}

func (r *Receiver) process(from *net.UDPAddr, data []byte) {
	dg, err := protocol.ParseDatagram(data)
	if err != nil {
		r.metrics.ObserveEmpty()
		return
	}

	if !r.cfg.Filter.Allows(dg.Tag) {
		r.metrics.ObserveFiltered(dg.Tag)
		return
	}

	if r.handler != nil {
		r.handler(from, time.Now(), dg)
	}
	r.metrics.ObserveReceived(dg.Tag, len(dg.Payload))

	r.logger.Trace().
		Str("from", from.String()).
		Str("tag", dg.Tag.String()).
		Int("bytes", len(data)).
		Msg("datagram received")
}

// Close releases the listen socket. A blocked read returns immediately.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
