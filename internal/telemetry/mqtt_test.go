package telemetry

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/network"
	"github.com/energizer-project/chatforwarder/internal/protocol"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingSender struct {
	mu      sync.Mutex
	sources []string
	sent    []string
}

func (r *recordingSender) Send(ctx context.Context, source, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
	r.sent = append(r.sent, text)
	return nil
}

func enabledConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:      true,
		BrokerURL:    "localhost",
		Port:         1883,
		TopicPrefix:  "chatforwarder",
		CommandTopic: "chatforwarder/commands/in",
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "chatforwarder/messages/chat", MessageTopic("chatforwarder", protocol.TagChat))
	assert.Equal(t, "cf/messages/unknown", MessageTopic("cf/", protocol.Tag(0x99)))
	assert.Equal(t, "messages/stuff", MessageTopic("", protocol.TagStuff))
	assert.Equal(t, "chatforwarder/commands", CommandLogTopic("chatforwarder"))
	assert.Equal(t, "chatforwarder/status", StatusTopic("chatforwarder"))
}

func TestBrokerURL(t *testing.T) {
	cfg := enabledConfig()
	assert.Equal(t, "tcp://localhost:1883", BrokerURL(cfg))

	cfg.UseTLS = true
	cfg.Port = 8883
	assert.Equal(t, "ssl://localhost:8883", BrokerURL(cfg))
}

func TestNewRelay_Disabled(t *testing.T) {
	_, err := NewRelay(config.MQTTConfig{}, events.NewBus(), nil, "s")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNewRelay_MissingCertificate(t *testing.T) {
	cfg := enabledConfig()
	cfg.UseTLS = true
	cfg.CertFile = filepath.Join(t.TempDir(), "client.crt")
	cfg.KeyFile = filepath.Join(t.TempDir(), "client.key")

	_, err := NewRelay(cfg, events.NewBus(), nil, "s")
	assert.Error(t, err)
}

func TestRelay_BuildMessage(t *testing.T) {
	r, err := NewRelay(enabledConfig(), events.NewBus(), nil, "session-1")
	require.NoError(t, err)

	msg := events.NewMessageReceived("session-1", "127.0.0.1:26001", time.Now(),
		protocol.Datagram{Tag: protocol.TagChat, Payload: []byte("\x02Bob\x01: gg")})

	data, err := json.Marshal(r.buildMessage(msg))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "session-1", decoded["session_id"])
	assert.Contains(t, decoded, "timestamp")
	assert.Contains(t, decoded, "hostname")

	payload := decoded["payload"].(map[string]interface{})
	assert.Equal(t, "[CHAT]", payload["label"])
	assert.Equal(t, "Bob: gg", payload["text"])
	assert.NotContains(t, payload, "Raw")
}

func TestRelay_PublishWithoutConnectionIsNoop(t *testing.T) {
	r, err := NewRelay(enabledConfig(), events.NewBus(), nil, "s")
	require.NoError(t, err)

	err = r.onMessage(context.Background(), events.Event{
		Type:    events.EventMessageReceived,
		Payload: events.MessageReceived{Tag: protocol.TagSys},
	})
	assert.NoError(t, err)

	err = r.onMessage(context.Background(), events.Event{Type: events.EventMessageReceived, Payload: "wrong"})
	assert.Error(t, err)
}

func TestRelay_RemoteCommandsForwarded(t *testing.T) {
	rec := &recordingSender{}
	r, err := NewRelay(enabledConfig(), events.NewBus(), rec, "s")
	require.NoError(t, err)

	r.onRemoteCommand(nil, fakeMessage{topic: "chatforwarder/commands/in", payload: []byte("say from mqtt")})
	r.onRemoteCommand(nil, fakeMessage{topic: "chatforwarder/commands/in", payload: []byte("   ")})
	r.onRemoteCommand(nil, fakeMessage{topic: "chatforwarder/commands/in", payload: []byte("quit")})

	assert.Equal(t, []string{"say from mqtt", "quit"}, rec.sent)
	assert.Equal(t, []string{network.SourceMQTT, network.SourceMQTT}, rec.sources)
}
