// Package telemetry relays received messages to an MQTT broker and accepts
// remote commands from a command topic.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/chatforwarder/internal/config"
	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/network"
	"github.com/energizer-project/chatforwarder/internal/protocol"
	"github.com/energizer-project/chatforwarder/internal/util"
)

// ErrDisabled is returned by NewRelay when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// MessageTopic returns the topic a message with the given tag is published on.
func MessageTopic(prefix string, tag protocol.Tag) string {
	return joinTopic(prefix, "messages/"+tag.Name())
}

// CommandLogTopic returns the topic sent commands are published on.
func CommandLogTopic(prefix string) string {
	return joinTopic(prefix, "commands")
}

// StatusTopic returns the topic for client lifecycle messages.
func StatusTopic(prefix string) string {
	return joinTopic(prefix, "status")
}

func joinTopic(prefix, suffix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// BrokerURL builds the broker address, ssl:// when TLS is enabled.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

// Relay publishes bus events to MQTT and forwards command topic messages to
// the game.
type Relay struct {
	mu sync.Mutex

	cfg     config.MQTTConfig
	bus     *events.Bus
	sender  network.CommandSender
	client  mqtt.Client
	session string
	ctx     context.Context

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewRelay creates a relay. sender may be nil when remote commands are not
// wanted.
func NewRelay(cfg config.MQTTConfig, bus *events.Bus, sender network.CommandSender, session string) (*Relay, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	r := &Relay{
		cfg:     cfg,
		bus:     bus,
		sender:  sender,
		session: session,
		ctx:     context.Background(),
		metadata: map[string]interface{}{
			"hostname":   sysInfo.Hostname,
			"platform":   sysInfo.Platform,
			"session_id": session,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("cfclient-" + session)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		r.subscribeCommands(client)
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	r.client = mqtt.NewClient(opts)
	return r, nil
}

// Start connects to the broker and relays events until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	log.Info().
		Str("broker", BrokerURL(r.cfg)).
		Str("prefix", r.cfg.TopicPrefix).
		Msg("connecting to MQTT broker")

	token := r.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	r.bus.Subscribe(events.EventMessageReceived, "mqtt.message", r.onMessage)
	r.bus.Subscribe(events.EventCommandSent, "mqtt.command", r.onCommandSent)
	r.publish(StatusTopic(r.cfg.TopicPrefix), map[string]interface{}{"event": "online"})

	<-ctx.Done()

	r.publish(StatusTopic(r.cfg.TopicPrefix), map[string]interface{}{"event": "offline"})
	r.client.Disconnect(1000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

func (r *Relay) subscribeCommands(client mqtt.Client) {
	if r.cfg.CommandTopic == "" || r.sender == nil {
		return
	}

	token := client.Subscribe(r.cfg.CommandTopic, 1, r.onRemoteCommand)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", r.cfg.CommandTopic).Msg("MQTT subscribe failed")
			return
		}
		log.Info().Str("topic", r.cfg.CommandTopic).Msg("accepting remote commands")
	}()
}

// onRemoteCommand forwards a command topic message exactly like a console
// line. Blank messages are ignored.
func (r *Relay) onRemoteCommand(_ mqtt.Client, msg mqtt.Message) {
	text := string(msg.Payload())
	if strings.TrimSpace(text) == "" {
		return
	}

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	if err := r.sender.Send(ctx, network.SourceMQTT, text); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic()).Msg("send failed")
	}
}

// publish sends a JSON message to an MQTT topic.
func (r *Relay) publish(topic string, payload interface{}) {
	if !r.client.IsConnected() {
		return
	}

	data, err := json.Marshal(r.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := r.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (r *Relay) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(r.metadata)+2)
	for k, v := range r.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (r *Relay) onMessage(ctx context.Context, event events.Event) error {
	m, ok := event.Payload.(events.MessageReceived)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	r.publish(MessageTopic(r.cfg.TopicPrefix, m.Tag), m)
	return nil
}

func (r *Relay) onCommandSent(ctx context.Context, event events.Event) error {
	r.publish(CommandLogTopic(r.cfg.TopicPrefix), event.Payload)
	return nil
}
