// Package metrics tracks per-session traffic counters and exposes them as
// Prometheus collectors.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/chatforwarder/internal/protocol"
)

// Metrics holds the counters of one client run. Each instance has its own
// registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	datagramsReceived *prometheus.CounterVec
	datagramsFiltered *prometheus.CounterVec
	datagramsEmpty    prometheus.Counter
	receiveErrors     prometheus.Counter
	commandsSent      *prometheus.CounterVec
	sendErrors        prometheus.Counter
	bytesReceived     prometheus.Counter

	mu       sync.Mutex
	started  time.Time
	received map[protocol.Tag]uint64
	filtered map[protocol.Tag]uint64
	empty    uint64
	recvErrs uint64
	sent     uint64
	sendErrs uint64
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		datagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cf_datagrams_received_total",
			Help: "Datagrams decoded and printed, by tag",
		}, []string{"tag"}),
		datagramsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cf_datagrams_filtered_total",
			Help: "Datagrams dropped by the tag allow-list, by tag",
		}, []string{"tag"}),
		datagramsEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "cf_datagrams_empty_total",
			Help: "Zero-length datagrams discarded",
		}),
		receiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cf_receive_errors_total",
			Help: "Socket read errors other than timeouts",
		}),
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cf_commands_sent_total",
			Help: "Commands sent to the game, by source",
		}, []string{"source"}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cf_send_errors_total",
			Help: "Commands that failed to send",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "cf_payload_bytes_received_total",
			Help: "Payload bytes of printed datagrams",
		}),
		started:  time.Now(),
		received: make(map[protocol.Tag]uint64),
		filtered: make(map[protocol.Tag]uint64),
	}
}

// ObserveReceived records a datagram that was decoded and printed.
func (m *Metrics) ObserveReceived(tag protocol.Tag, payloadLen int) {
	m.datagramsReceived.WithLabelValues(tag.Name()).Inc()
	m.bytesReceived.Add(float64(payloadLen))

	m.mu.Lock()
	m.received[tag]++
	m.mu.Unlock()
}

// ObserveFiltered records a datagram dropped by the allow-list.
func (m *Metrics) ObserveFiltered(tag protocol.Tag) {
	m.datagramsFiltered.WithLabelValues(tag.Name()).Inc()

	m.mu.Lock()
	m.filtered[tag]++
	m.mu.Unlock()
}

// ObserveEmpty records a zero-length datagram.
func (m *Metrics) ObserveEmpty() {
	m.datagramsEmpty.Inc()

	m.mu.Lock()
	m.empty++
	m.mu.Unlock()
}

// ObserveReceiveError records a read error.
func (m *Metrics) ObserveReceiveError() {
	m.receiveErrors.Inc()

	m.mu.Lock()
	m.recvErrs++
	m.mu.Unlock()
}

// ObserveSent records a command handed to the socket.
func (m *Metrics) ObserveSent(source string) {
	m.commandsSent.WithLabelValues(source).Inc()

	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
}

// ObserveSendError records a failed send.
func (m *Metrics) ObserveSendError() {
	m.sendErrors.Inc()

	m.mu.Lock()
	m.sendErrs++
	m.mu.Unlock()
}

// TagCount is the traffic seen for one tag.
type TagCount struct {
	Tag      protocol.Tag `json:"-"`
	Label    string       `json:"label"`
	Received uint64       `json:"received"`
	Filtered uint64       `json:"filtered"`
}

// Snapshot is a point-in-time copy of the session counters.
type Snapshot struct {
	StartedAt     time.Time  `json:"started_at"`
	Uptime        string     `json:"uptime"`
	Tags          []TagCount `json:"tags"`
	Received      uint64     `json:"received"`
	Filtered      uint64     `json:"filtered"`
	Empty         uint64     `json:"empty"`
	ReceiveErrors uint64     `json:"receive_errors"`
	Sent          uint64     `json:"sent"`
	SendErrors    uint64     `json:"send_errors"`
}

// Snapshot returns the current counters with tags in ascending order.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		StartedAt:     m.started,
		Uptime:        time.Since(m.started).Truncate(time.Second).String(),
		Empty:         m.empty,
		ReceiveErrors: m.recvErrs,
		Sent:          m.sent,
		SendErrors:    m.sendErrs,
	}

	seen := make(map[protocol.Tag]struct{})
	for tag := range m.received {
		seen[tag] = struct{}{}
	}
	for tag := range m.filtered {
		seen[tag] = struct{}{}
	}

	tags := make([]protocol.Tag, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	for _, tag := range tags {
		tc := TagCount{
			Tag:      tag,
			Label:    tag.Label(),
			Received: m.received[tag],
			Filtered: m.filtered[tag],
		}
		snap.Received += tc.Received
		snap.Filtered += tc.Filtered
		snap.Tags = append(snap.Tags, tc)
	}

	return snap
}

// Registry returns the Prometheus registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
