package runtime

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"hybridchat/domain"
)

func TestBroadcaster_Delivers_To_All_Open_Sessions(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)

	alice := newFakeConn()
	bob := newFakeConn()
	registry.CreateSession("alice", alice)
	registry.CreateSession("bob", bob)

	msg := domain.Message{ID: "m1", Type: domain.TypeText, SenderID: "alice", Content: "hello", Timestamp: 1}

	// When broadcasting without exclusion
	delivered := broadcaster.Broadcast(msg, nil)

	// Then every session received the same payload
	req.Equal(2, delivered)
	req.Len(alice.sentFrames(t), 1)
	req.Len(bob.sentFrames(t), 1)
	req.Equal("hello", bob.sentFrames(t)[0]["content"])
}

func TestBroadcaster_Excludes_One_Connection(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)

	alice := newFakeConn()
	bob := newFakeConn()
	registry.CreateSession("alice", alice)
	registry.CreateSession("bob", bob)

	delivered := broadcaster.Broadcast(domain.Message{ID: "m1", Type: domain.TypeText, Content: "x"}, alice)

	req.Equal(1, delivered)
	req.Empty(alice.sentFrames(t))
	req.Len(bob.sentFrames(t), 1)
}

func TestBroadcaster_Skips_Broken_And_Closed_Connections(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)

	healthy := newFakeConn()
	broken := newFakeConn()
	broken.failSend = true
	closed := newFakeConn()
	_ = closed.Close()

	registry.CreateSession("healthy", healthy)
	registry.CreateSession("broken", broken)
	registry.CreateSession("closed", closed)

	// When one recipient fails and one is already closed
	delivered := broadcaster.Broadcast(domain.Message{ID: "m1", Type: domain.TypeText, Content: "x"}, nil)

	// Then the healthy recipient is unaffected
	req.Equal(1, delivered)
	req.Len(healthy.sentFrames(t), 1)
	req.Empty(broken.sentFrames(t))
	req.Empty(closed.sentFrames(t))
}
