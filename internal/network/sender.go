package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// Command sources recorded in metrics and events.
const (
	SourceConsole = "console"
	SourceAPI     = "api"
	SourceMQTT    = "mqtt"
)

// Sender forwards command lines to the game's listener as single datagrams.
// It is safe for concurrent use.
type Sender struct {
	remote  *net.UDPAddr
	conn    *net.UDPConn
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.RWMutex
	bus     *events.Bus
	session string

	closeOnce sync.Once
}

// NewSender resolves remoteAddr and opens an unbound send socket. A positive
// interval paces consecutive sends at least that far apart.
func NewSender(remoteAddr string, interval time.Duration, m *metrics.Metrics) (*Sender, error) {
	remote, err := net.ResolveUDPAddr("udp4", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid remote address %s: %w", remoteAddr, err)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open send socket: %w", err)
	}

	if m == nil {
		m = metrics.New()
	}

	s := &Sender{
		remote:  remote,
		conn:    conn,
		metrics: m,
		logger:  util.ComponentLogger("sender").With().Str("remote", remote.String()).Logger(),
	}
	if interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return s, nil
}

// SetEvents makes the sender emit a CommandSent event for every attempt.
func (s *Sender) SetEvents(bus *events.Bus, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
	s.session = session
}

// Remote returns the destination address.
func (s *Sender) Remote() *net.UDPAddr {
	return s.remote
}

// Send transmits text unmodified as one datagram.
func (s *Sender) Send(ctx context.Context, source, text string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send cancelled: %w", err)
		}
	}

	_, err := s.conn.WriteToUDP([]byte(text), s.remote)
	if err != nil {
		s.metrics.ObserveSendError()
		s.emit(ctx, source, text, err)
		return fmt.Errorf("failed to send to %s: %w", s.remote, err)
	}

	s.metrics.ObserveSent(source)
	s.emit(ctx, source, text, nil)

	s.logger.Debug().
		Str("source", source).
		Int("bytes", len(text)).
		Msg("command sent")
	return nil
}

func (s *Sender) emit(ctx context.Context, source, text string, sendErr error) {
	s.mu.RLock()
	bus, session := s.bus, s.session
	s.mu.RUnlock()
	if bus == nil {
		return
	}

	payload := events.CommandSent{
		SessionID: session,
		SentAt:    time.Now(),
		Source:    source,
		Command:   text,
	}
	if sendErr != nil {
		payload.Error = sendErr.Error()
	}

	bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    events.EventCommandSent,
		Source:  source,
		Payload: payload,
	})
}

// Close releases the send socket.
func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
