package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/display"
	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/protocol"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// Options configures a Loop.
type Options struct {
	Network   config.NetworkConfig
	Printer   *display.Printer
	Metrics   *metrics.Metrics
	Bus       *events.Bus
	SessionID string
}

// Loop runs the receive path and the console concurrently. They share only
// the stop signal and the printer.
type Loop struct {
	cfg       config.NetworkConfig
	printer   *display.Printer
	metrics   *metrics.Metrics
	bus       *events.Bus
	session   string
	receiver  *Receiver
	sender    *Sender
	console   *Console
	logger    zerolog.Logger
	mu        sync.Mutex
	cancel    context.CancelFunc
	receiving bool
	stopOnce  sync.Once
}

// NewLoop resolves the target and opens the send socket. The listen socket
// is opened by Run.
func NewLoop(opts Options) (*Loop, error) {
	filter, err := opts.Network.Filter()
	if err != nil {
		return nil, err
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Printer == nil {
		return nil, fmt.Errorf("printer is required")
	}

	sender, err := NewSender(opts.Network.RemoteAddr(), opts.Network.SendInterval(), opts.Metrics)
	if err != nil {
		return nil, err
	}
	if opts.Bus != nil {
		sender.SetEvents(opts.Bus, opts.SessionID)
	}

	l := &Loop{
		cfg:     opts.Network,
		printer: opts.Printer,
		metrics: opts.Metrics,
		bus:     opts.Bus,
		session: opts.SessionID,
		sender:  sender,
		logger:  util.ComponentLogger("loop"),
	}

	l.receiver = NewReceiver(ReceiverConfig{
		ListenPort: opts.Network.ListenPort,
		Timeout:    opts.Network.ReceiveTimeout(),
		BufferSize: opts.Network.ReceiveBufferSize,
		Filter:     filter,
	}, opts.Metrics, l.handleDatagram)
	l.console = NewConsole(sender)

	return l, nil
}

// Sender returns the send path, shared with the remote command sources.
func (l *Loop) Sender() *Sender {
	return l.sender
}

// Receiver returns the receive path.
func (l *Loop) Receiver() *Receiver {
	return l.receiver
}

// Run starts the receive path and then reads commands from in. It returns
// when the console stops or ctx is cancelled, after shutting down. A bind
// failure leaves the client in send-only mode unless ExitOnBindFailure is
// set, in which case the error is returned.
func (l *Loop) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer l.Shutdown()

	if err := l.receiver.Start(ctx); err != nil {
		l.logger.Error().Err(err).Msg("failed to bind listener")
		if l.cfg.ExitOnBindFailure {
			return err
		}
		l.logger.Warn().Msg("receive path disabled, commands are still sent")
	} else {
		l.mu.Lock()
		l.receiving = true
		l.mu.Unlock()

		go func() {
			if err := l.receiver.Run(ctx); err != nil {
				l.logger.Error().Err(err).Msg("receive path failed")
			}
		}()
	}

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- l.console.Run(ctx, in)
	}()

	select {
	case err := <-consoleDone:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	case <-ctx.Done():
		l.logger.Info().Msg("interrupted")
		return nil
	}
}

// Shutdown signals both paths to stop, waits up to the configured grace for
// the receive path to release its socket, then closes the send socket. It is
// safe to call more than once and from any goroutine.
func (l *Loop) Shutdown() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		cancel, receiving := l.cancel, l.receiving
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if receiving {
			grace := l.cfg.ShutdownGrace()
			if grace <= 0 {
				grace = 2 * time.Second
			}
			select {
			case <-l.receiver.Done():
			case <-time.After(grace):
				l.logger.Warn().Dur("grace", grace).Msg("receive path did not stop in time, closing socket")
				l.receiver.Close()
			}
		}

		if err := l.sender.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("send socket close")
		}

		if l.bus != nil {
			l.bus.Emit(context.Background(), events.Event{
				Type:   events.EventShutdown,
				Source: "loop",
			})
		}
		l.logger.Info().Msg("network loop stopped")
	})
}

func (l *Loop) handleDatagram(from *net.UDPAddr, at time.Time, dg protocol.Datagram) {
	if err := l.printer.Println(display.FormatLine(at, dg)); err != nil {
		l.logger.Warn().Err(err).Msg("failed to print message")
	}

	if l.bus != nil {
		l.bus.Emit(context.Background(), events.Event{
			Type:    events.EventMessageReceived,
			Source:  "receiver",
			Payload: events.NewMessageReceived(l.session, from.String(), at, dg),
		})
	}
}
