package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/chatforwarder/internal/events"
	"github.com/energizer-project/chatforwarder/internal/protocol"
)

func openTestTranscript(t *testing.T) *Transcript {
	t.Helper()
	tr, err := OpenTranscript(filepath.Join(t.TempDir(), "data", "transcript.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTranscript_RoundTrip(t *testing.T) {
	tr := openTestTranscript(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 30, 45, 123, time.UTC)

	msg := events.NewMessageReceived("s-1", "127.0.0.1:26001", at,
		protocol.Datagram{Tag: protocol.TagChat, Payload: []byte("\x02Ann\x01: hi")})
	require.NoError(t, tr.RecordMessage(ctx, msg))

	require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{
		SessionID: "s-1",
		SentAt:    at.Add(time.Second),
		Source:    "console",
		Command:   "say hello",
	}))
	require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{
		SessionID: "s-1",
		SentAt:    at.Add(2 * time.Second),
		Source:    "api",
		Command:   "kick bot",
		Error:     "network unreachable",
	}))

	entries, err := tr.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, KindMessage, first.Kind)
	assert.Equal(t, "s-1", first.SessionID)
	assert.True(t, at.Equal(first.At))
	assert.Equal(t, "127.0.0.1:26001", first.Peer)
	require.NotNil(t, first.Tag)
	assert.Equal(t, int(protocol.TagChat), *first.Tag)
	assert.Equal(t, "[CHAT]", first.Label)
	assert.Equal(t, "Ann: hi", first.Text)

	assert.Equal(t, KindCommand, entries[1].Kind)
	assert.Nil(t, entries[1].Tag)
	assert.Equal(t, "console", entries[1].Peer)
	assert.Equal(t, "say hello", entries[1].Text)
	assert.Equal(t, "network unreachable", entries[2].Error)

	n, err := tr.Count(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTranscript_RecentLimit(t *testing.T) {
	tr := openTestTranscript(t)
	ctx := context.Background()

	for _, cmd := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{SessionID: "s", SentAt: time.Now(), Command: cmd}))
	}

	entries, err := tr.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Text)
	assert.Equal(t, "d", entries[1].Text)

	entries, err = tr.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscript_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	tr, err := OpenTranscript(path)
	require.NoError(t, err)
	require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{SessionID: "s", SentAt: time.Now(), Command: "x"}))
	require.NoError(t, tr.Close())

	tr, err = OpenTranscript(path)
	require.NoError(t, err)
	defer tr.Close()

	n, err := tr.Count(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTranscript_SubscribeRecordsBusEvents(t *testing.T) {
	tr := openTestTranscript(t)
	bus := events.NewBus()
	tr.Subscribe(bus)

	ctx := context.Background()
	bus.Emit(ctx, events.Event{
		Type: events.EventMessageReceived,
		Payload: events.NewMessageReceived("s-2", "10.0.0.1:26001", time.Now(),
			protocol.Datagram{Tag: protocol.TagNet, Payload: []byte("up")}),
	})
	bus.Emit(ctx, events.Event{
		Type:    events.EventCommandSent,
		Payload: events.CommandSent{SessionID: "s-2", SentAt: time.Now(), Source: "mqtt", Command: "status"},
	})
	bus.Stop()

	n, err := tr.Count(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTranscript_Prune(t *testing.T) {
	tr := openTestTranscript(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{SessionID: "s", SentAt: now.Add(-48 * time.Hour), Command: "old"}))
	require.NoError(t, tr.RecordCommand(ctx, events.CommandSent{SessionID: "s", SentAt: now, Command: "new"}))

	removed, err := tr.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := tr.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Text)
}
