package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/display"
	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/metrics"
	"github.com/energizer-project/chatforwarder/internal/protocol"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newGame opens a socket standing in for the game: it receives commands and
// forwards messages to the client.
func newGame(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readCommand(t *testing.T, game *net.UDPConn) string {
	t.Helper()
	require.NoError(t, game.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := game.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func testNetwork(game *net.UDPConn) config.NetworkConfig {
	return config.NetworkConfig{
		ServerIP:          "127.0.0.1",
		SendPort:          game.LocalAddr().(*net.UDPAddr).Port,
		ListenPort:        0,
		ReceiveTimeoutMS:  100,
		ReceiveBufferSize: 4096,
		ShutdownGraceMS:   1000,
	}
}

type harness struct {
	loop    *Loop
	game    *net.UDPConn
	out     *syncBuffer
	metrics *metrics.Metrics
	stdin   *io.PipeWriter
	cancel  context.CancelFunc
	done    chan error
}

func startLoop(t *testing.T, mutate func(*config.NetworkConfig)) *harness {
	t.Helper()

	game := newGame(t)
	netCfg := testNetwork(game)
	if mutate != nil {
		mutate(&netCfg)
	}

	h := &harness{
		game:    game,
		out:     &syncBuffer{},
		metrics: metrics.New(),
		done:    make(chan error, 1),
	}

	loop, err := NewLoop(Options{
		Network:   netCfg,
		Printer:   display.NewPrinter(h.out),
		Metrics:   h.metrics,
		SessionID: "test-session",
	})
	require.NoError(t, err)
	h.loop = loop

	pr, pw := io.Pipe()
	h.stdin = pw
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() { h.done <- loop.Run(ctx, pr) }()
	return h
}

func (h *harness) waitBound(t *testing.T) *net.UDPAddr {
	t.Helper()
	select {
	case <-h.loop.Receiver().Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not bind")
	}
	addr := h.loop.Receiver().LocalAddr()
	require.NotNil(t, addr)
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
}

func (h *harness) forward(t *testing.T, to *net.UDPAddr, b []byte) {
	t.Helper()
	_, err := h.game.WriteToUDP(b, to)
	require.NoError(t, err)
}

func (h *harness) typeLine(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.stdin, line+"\n")
	require.NoError(t, err)
}

func (h *harness) waitStopped(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop")
		return nil
	}
}

func TestLoop_PrintsForwardedMessage(t *testing.T) {
	h := startLoop(t, nil)
	to := h.waitBound(t)

	h.forward(t, to, append([]byte{byte(protocol.TagChat)}, "\x02Player\x01: hi"...))

	want := "[CHAT] " + protocol.StyleName + "Player" + protocol.StyleReset + ": hi" + protocol.StyleReset + "\n"
	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), want)
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, strings.HasPrefix(h.out.String(), protocol.StyleTimestamp+"["))
	assert.Equal(t, 1, strings.Count(h.out.String(), "\n"))

	h.typeLine(t, "quit")
	assert.NoError(t, h.waitStopped(t))
}

func TestLoop_EmptyAndUnknownDatagrams(t *testing.T) {
	h := startLoop(t, nil)
	to := h.waitBound(t)

	h.forward(t, to, []byte{})
	require.Eventually(t, func() bool {
		return h.metrics.Snapshot().Empty == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.out.String())

	h.forward(t, to, []byte{0x99, 'x'})
	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "[UNK:0x99] x"+protocol.StyleReset)
	}, 2*time.Second, 10*time.Millisecond)

	h.cancel()
	assert.NoError(t, h.waitStopped(t))
}

func TestLoop_AllowListDropsOtherTags(t *testing.T) {
	h := startLoop(t, func(n *config.NetworkConfig) {
		n.ShowTypes = []string{"chat"}
	})
	to := h.waitBound(t)

	h.forward(t, to, append([]byte{byte(protocol.TagSys)}, "boot"...))
	h.forward(t, to, append([]byte{byte(protocol.TagChat)}, "hello"...))

	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "hello")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.metrics.Snapshot().Filtered == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, h.out.String(), "boot")

	h.cancel()
	assert.NoError(t, h.waitStopped(t))
}

func TestLoop_ConsoleSendsAndQuits(t *testing.T) {
	h := startLoop(t, nil)
	h.waitBound(t)

	h.typeLine(t, "say hello")
	assert.Equal(t, "say hello", readCommand(t, h.game))

	h.typeLine(t, "   ")
	h.typeLine(t, "echo ü")
	assert.Equal(t, "echo ü", readCommand(t, h.game))

	h.typeLine(t, "  QUIT ")
	start := time.Now()
	require.NoError(t, h.waitStopped(t))
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-h.loop.Receiver().Done():
	default:
		t.Fatal("receive path still running after Run returned")
	}
	assert.Equal(t, uint64(2), h.metrics.Snapshot().Sent)

	assert.Error(t, h.loop.Sender().Send(context.Background(), SourceConsole, "late"))
}

func TestLoop_OversizedLineKeepsRunning(t *testing.T) {
	h := startLoop(t, nil)
	h.waitBound(t)

	// Too large for one datagram: the send fails and the console carries on.
	h.typeLine(t, "say "+strings.Repeat("y", 70*1024))
	h.typeLine(t, "say after")
	assert.Equal(t, "say after", readCommand(t, h.game))

	select {
	case err := <-h.done:
		t.Fatalf("loop stopped early: %v", err)
	default:
	}
	assert.Equal(t, uint64(1), h.metrics.Snapshot().SendErrors)

	h.typeLine(t, "quit")
	require.NoError(t, h.waitStopped(t))
}

func TestLoop_InterruptStopsPromptly(t *testing.T) {
	h := startLoop(t, nil)
	h.waitBound(t)

	start := time.Now()
	h.cancel()
	require.NoError(t, h.waitStopped(t))
	assert.Less(t, time.Since(start), time.Second)

	// Shutdown is idempotent.
	h.loop.Shutdown()
	h.loop.Shutdown()
}

func occupyPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestLoop_BindFailureFatalWhenConfigured(t *testing.T) {
	port := occupyPort(t)
	h := startLoop(t, func(n *config.NetworkConfig) {
		n.ListenPort = port
		n.ExitOnBindFailure = true
	})

	err := h.waitStopped(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind listener")
}

func TestLoop_BindFailureRunsSendOnly(t *testing.T) {
	port := occupyPort(t)
	h := startLoop(t, func(n *config.NetworkConfig) {
		n.ListenPort = port
	})

	h.typeLine(t, "status")
	assert.Equal(t, "status", readCommand(t, h.game))

	h.typeLine(t, "exit")
	assert.NoError(t, h.waitStopped(t))
}

func TestLoop_EmitsMessageEvents(t *testing.T) {
	game := newGame(t)
	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	got := make(chan events.MessageReceived, 1)
	bus.Subscribe(events.EventMessageReceived, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.MessageReceived)
		return nil
	})

	loop, err := NewLoop(Options{
		Network:   testNetwork(game),
		Printer:   display.NewPrinter(io.Discard),
		Bus:       bus,
		SessionID: "s-1",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pr, pw := io.Pipe()
	defer pw.Close()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, pr) }()

	<-loop.Receiver().Bound()
	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: loop.Receiver().LocalAddr().Port}
	_, err = game.WriteToUDP([]byte{byte(protocol.TagGame), 0x03, 'r', 'e', 'd'}, to)
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, "s-1", msg.SessionID)
		assert.Equal(t, protocol.TagGame, msg.Tag)
		assert.Equal(t, "[GAME]", msg.Label)
		assert.Equal(t, "red", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no message event")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewLoop_InvalidShowTypes(t *testing.T) {
	game := newGame(t)
	netCfg := testNetwork(game)
	netCfg.ShowTypes = []string{"bogus"}

	_, err := NewLoop(Options{Network: netCfg, Printer: display.NewPrinter(io.Discard)})
	assert.Error(t, err)
}
