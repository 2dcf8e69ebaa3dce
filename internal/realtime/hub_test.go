package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-game-server/internal/game"
	"chat-game-server/internal/ledger"
	"chat-game-server/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	h.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func recv(t *testing.T, c *Client) *Outbound {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send queue closed")
		var out Outbound
		require.NoError(t, json.Unmarshal(data, &out))
		return &out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoomBroadcast(t *testing.T) {
	h := startHub(t)
	a := NewClient("r1", 1, "alice")
	b := NewClient("r1", 2, "bob")
	other := NewClient("r2", 3, "carol")
	h.Register(a)
	h.Register(b)
	h.Register(other)

	h.BroadcastChat(&model.ChatMessage{
		ID: "m1", RoomID: "r1", Username: "alice", Text: "hi",
		CreatedAt: time.UnixMilli(42),
	})

	for _, c := range []*Client{a, b} {
		out := recv(t, c)
		assert.Equal(t, TypeMessage, out.Type)
		assert.Equal(t, MessageTypeChat, out.MessageType)
		assert.Equal(t, "hi", out.Message)
		assert.Equal(t, int64(42), out.Timestamp)
	}
	assertSilent(t, other)
}

func TestHubAnnounceKeepsOrder(t *testing.T) {
	h := startHub(t)
	c := NewClient("r1", 1, "alice")
	h.Register(c)

	h.Announce("r1", model.GameDice,
		game.Event{Kind: "game:round", Text: "Round 1"},
		game.Event{Kind: "game:action", Text: "alice rolled"},
	)
	h.Announce("r1", model.GameDice, game.Event{Kind: "game:tally", Text: "tally"})

	var kinds []string
	for range 3 {
		out := recv(t, c)
		assert.Equal(t, MessageTypeBot, out.MessageType)
		assert.Equal(t, "dice", out.BotType)
		assert.Equal(t, "DiceBot", out.Username)
		assert.NotEmpty(t, out.ID)
		assert.Equal(t, int64(1_700_000_000_000), out.Timestamp)
		kinds = append(kinds, out.Event)
	}
	assert.Equal(t, []string{"game:round", "game:action", "game:tally"}, kinds)
}

func TestHubPrivateChannels(t *testing.T) {
	h := startHub(t)
	a1 := NewClient("r1", 1, "alice")
	a2 := NewClient("r2", 1, "alice")
	b := NewClient("r1", 2, "bob")
	h.Register(a1)
	h.Register(a2)
	h.Register(b)

	h.NotifyBalance(1, ledger.Balances{Main: 900, Tagged: 5})
	for _, c := range []*Client{a1, a2} {
		out := recv(t, c)
		assert.Equal(t, TypeCreditsUpdated, out.Type)
		require.NotNil(t, out.Balance)
		assert.Equal(t, int64(900), *out.Balance)
		assert.Equal(t, int64(5), *out.Tagged)
	}
	assertSilent(t, b)

	h.Notify(1, "r2", "Insufficient credits.")
	out := recv(t, a2)
	assert.Equal(t, TypeNotice, out.Type)
	assert.Equal(t, "Insufficient credits.", out.Message)
	assertSilent(t, a1)
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	h := startHub(t)
	c := NewClient("r1", 1, "alice")
	h.Register(c)
	require.Equal(t, 1, h.RoomSize("r1"))

	h.Unregister(c)
	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Zero(t, h.RoomSize("r1"))

	h.Unregister(c)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := startHub(t)
	slow := &Client{RoomID: "r1", UserID: 1, Send: make(chan []byte, 1)}
	fast := NewClient("r1", 2, "bob")
	h.Register(slow)
	h.Register(fast)

	h.Broadcast("r1", &Outbound{Type: TypeMessage, Message: "one"})
	h.Broadcast("r1", &Outbound{Type: TypeMessage, Message: "two"})
	marker := NewClient("r2", 3, "carol")
	h.Register(marker)
	h.Broadcast("r2", &Outbound{Type: TypeMessage, Message: "done"})
	assert.Equal(t, "done", recv(t, marker).Message)

	assert.Equal(t, "one", recv(t, fast).Message)
	assert.Equal(t, "two", recv(t, fast).Message)
	assert.Equal(t, "one", recv(t, slow).Message)
	assertSilent(t, slow)
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := NewClient("r1", 1, "alice")
	h.Register(c)
	cancel()
	<-stopped

	_, ok := <-c.Send
	assert.False(t, ok)

	late := NewClient("r1", 2, "bob")
	h.Register(late)
	_, ok = <-late.Send
	assert.False(t, ok)
	h.Broadcast("r1", &Outbound{Type: TypeMessage})
}
