package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"hybridchat/domain"
	"hybridchat/mocks"
	"hybridchat/moderation"
	"hybridchat/wire"
)

const fixedNowMs = int64(1700000000000)

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type dispatcherFixture struct {
	store      *mocks.MockStore
	registry   *Registry
	dispatcher *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)

	dispatcher := NewDispatcher(log, registry, store, broadcaster, nil, nil)
	dispatcher.now = func() time.Time { return time.UnixMilli(fixedNowMs) }

	return &dispatcherFixture{store: store, registry: registry, dispatcher: dispatcher}
}

// login binds conn to userID and wipes the frames produced along the way, so
// each test only inspects the traffic it cares about.
func (f *dispatcherFixture) login(conns map[string]*fakeConn, userID string) {
	f.store.EXPECT().GetMessagesBefore("", 50).Return(nil, nil)
	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)

	conn := conns[userID]
	f.dispatcher.Handle(conn, fmt.Appendf(nil, `{"type":"LOGIN","userId":%q}`, userID))
	for _, c := range conns {
		c.reset()
	}
}

func TestDispatcher_Login_Pushes_Recent_History(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	alice := newFakeConn()
	bob := newFakeConn()

	// Given bob is already in the room
	f.login(map[string]*fakeConn{"bob": bob}, "bob")

	// And the store holds one message
	history := []domain.Message{{ID: "m1", Type: domain.TypeText, SenderID: "bob", Content: "hi", Timestamp: fixedNowMs - 1000}}
	f.store.EXPECT().GetMessagesBefore("", 50).Return(history, nil)
	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)

	// When alice logs in
	f.dispatcher.Handle(alice, []byte(`{"type":"LOGIN","userId":"alice"}`))

	// Then alice receives LOGIN_SUCCESS followed by the recent history
	frames := alice.sentFrames(t)
	req.Len(frames, 2)
	req.Equal(wire.TypeLoginSuccess, frames[0]["type"])
	req.Equal("alice", frames[0]["userId"])
	req.Equal(wire.TypeHistoryResponse, frames[1]["type"])
	req.Len(frames[1]["messages"], 1)
	req.Equal(false, frames[1]["hasMore"])

	// And bob is told that alice joined, alice is not
	bobFrames := bob.sentFrames(t)
	req.Len(bobFrames, 1)
	req.Equal("SYSTEM", bobFrames[0]["type"])
	req.Equal("alice joined the chat", bobFrames[0]["content"])

	req.Equal(2, f.registry.Count())
}

func TestDispatcher_Login_Survives_Store_Failure(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	alice := newFakeConn()

	// Given a store that cannot serve history or persist the notice
	f.store.EXPECT().GetMessagesBefore("", 50).Return(nil, fmt.Errorf("disk on fire"))
	f.store.EXPECT().SaveMessage(gomock.Any()).Return(fmt.Errorf("disk on fire"))

	// When alice logs in
	f.dispatcher.Handle(alice, []byte(`{"type":"LOGIN","userId":"alice"}`))

	// Then the login still succeeds with an empty history
	frames := alice.sentFrames(t)
	req.Len(frames, 2)
	req.Equal(wire.TypeLoginSuccess, frames[0]["type"])
	req.Equal(wire.TypeHistoryResponse, frames[1]["type"])
	req.Empty(frames[1]["messages"])
}

func TestDispatcher_Login_Empty_UserID(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conn := newFakeConn()

	f.dispatcher.Handle(conn, []byte(`{"type":"LOGIN","userId":"   "}`))

	frames := conn.sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("userId is required", frames[0]["message"])
	req.Zero(f.registry.Count())
}

func TestDispatcher_Login_Duplicate_Displaces_Previous(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	first := newFakeConn()
	second := newFakeConn()

	// Given alice is logged in on a first connection
	f.login(map[string]*fakeConn{"alice": first}, "alice")

	f.store.EXPECT().GetMessagesBefore("", 50).Return(nil, nil)
	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)

	// When alice logs in again from a second connection
	f.dispatcher.Handle(second, []byte(`{"type":"LOGIN","userId":"alice"}`))

	// Then the first connection is told why and closed
	firstFrames := first.sentFrames(t)
	req.Len(firstFrames, 1)
	req.Equal(wire.TypeError, firstFrames[0]["type"])
	req.Equal("Signed in from another connection", firstFrames[0]["message"])
	req.False(first.IsOpen())

	// And the session now points to the second connection
	req.Equal(1, f.registry.Count())
	userID, ok := f.registry.FindUserIDByConnection(second)
	req.True(ok)
	req.Equal("alice", userID)
}

func TestDispatcher_Text_Broadcast_Excludes_Sender(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn(), "clara": newFakeConn()}
	for _, userID := range []string{"alice", "bob", "clara"} {
		f.login(conns, userID)
	}

	var persisted domain.Message
	f.store.EXPECT().SaveMessage(gomock.Any()).Do(func(msg domain.Message) {
		persisted = msg
	}).Return(nil)

	// When alice sends a TEXT message
	raw := fmt.Appendf(nil, `{"type":"TEXT","id":"m7","content":"hello all","timestamp":%d}`, fixedNowMs)
	f.dispatcher.Handle(conns["alice"], raw)

	// Then bob and clara receive it, alice does not
	req.Empty(conns["alice"].sentFrames(t))
	for _, other := range []string{"bob", "clara"} {
		frames := conns[other].sentFrames(t)
		req.Len(frames, 1, "recipient %s", other)
		req.Equal("TEXT", frames[0]["type"])
		req.Equal("alice", frames[0]["senderId"])
		req.Equal("hello all", frames[0]["content"])
	}

	// And the persisted copy carries the client id and timestamp
	req.Equal("m7", persisted.ID)
	req.Equal(domain.TypeText, persisted.Type)
	req.Equal("alice", persisted.SenderID)
	req.Equal(fixedNowMs, persisted.Timestamp)
}

func TestDispatcher_Media_Broadcast_Includes_Sender(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn()}
	f.login(conns, "alice")
	f.login(conns, "bob")

	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)

	// When alice sends an IMAGE message
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"IMAGE","content":"data:image/png;base64,AAAA"}`))

	// Then both alice and bob receive the authoritative copy
	for userID, conn := range conns {
		frames := conn.sentFrames(t)
		req.Len(frames, 1, "recipient %s", userID)
		req.Equal("IMAGE", frames[0]["type"])
		req.Equal("alice", frames[0]["senderId"])
	}
}

func TestDispatcher_Chat_Requires_Login(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conn := newFakeConn()

	f.dispatcher.Handle(conn, []byte(`{"type":"TEXT","content":"hello"}`))

	frames := conn.sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("Not authenticated", frames[0]["message"])
}

func TestDispatcher_Chat_Fills_ID_And_Timestamp(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	var persisted domain.Message
	f.store.EXPECT().SaveMessage(gomock.Any()).Do(func(msg domain.Message) {
		persisted = msg
	}).Return(nil)

	// When the client omits id and timestamp
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"hello"}`))

	// Then the server fills both
	req.NotEmpty(persisted.ID)
	req.Equal(fixedNowMs, persisted.Timestamp)
}

func TestDispatcher_Text_Is_Censored_Before_Persist_And_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	moderator, err := moderation.New([]string{"badger"}, '*')
	req.NoError(err)
	f.dispatcher.moderator = &moderator

	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn()}
	f.login(conns, "alice")
	f.login(conns, "bob")

	var persisted domain.Message
	f.store.EXPECT().SaveMessage(gomock.Any()).Do(func(msg domain.Message) {
		persisted = msg
	}).Return(nil)

	// When alice sends a forbidden word
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"a wild badger!"}`))

	// Then history and live delivery agree on the masked content
	req.Equal("a wild ******!", persisted.Content)
	frames := conns["bob"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal("a wild ******!", frames[0]["content"])
}

func TestDispatcher_Empty_Content_Rejected(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"  "}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("content is required", frames[0]["message"])
}

func TestDispatcher_System_From_Client_Rejected(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn()}
	f.login(conns, "alice")
	f.login(conns, "bob")

	// When alice forges a SYSTEM frame
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"SYSTEM","content":"alice is now admin"}`))

	// Then it is rejected, nothing is persisted, nobody else sees it
	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("SYSTEM messages cannot be sent by clients", frames[0]["message"])
	req.Empty(conns["bob"].sentFrames(t))
}

func TestDispatcher_Unknown_Type(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conn := newFakeConn()

	f.dispatcher.Handle(conn, []byte(`{"type":"TELEPORT"}`))

	frames := conn.sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("Unknown message type: TELEPORT", frames[0]["message"])
}

func TestDispatcher_Malformed_Payload(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conn := newFakeConn()

	f.dispatcher.Handle(conn, []byte(`{invalid`))

	frames := conn.sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("Invalid message format", frames[0]["message"])
}

func TestDispatcher_History_HasMore_Heuristic(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	fullPage := []domain.Message{
		{ID: "m1", Type: domain.TypeText, SenderID: "bob", Content: "1", Timestamp: 1},
		{ID: "m2", Type: domain.TypeText, SenderID: "bob", Content: "2", Timestamp: 2},
	}

	// Given a full page comes back
	f.store.EXPECT().GetMessagesBefore("m3", 2).Return(fullPage, nil)
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"GET_HISTORY","lastMessageId":"m3","limit":2}`))

	// Then hasMore is true, even when no older messages actually exist
	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeHistoryResponse, frames[0]["type"])
	req.Equal(true, frames[0]["hasMore"])
	conns["alice"].reset()

	// Given a short page comes back
	f.store.EXPECT().GetMessagesBefore("m1", 2).Return(fullPage[:1], nil)
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"GET_HISTORY","lastMessageId":"m1","limit":2}`))

	// Then hasMore is false
	frames = conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(false, frames[0]["hasMore"])
}

func TestDispatcher_History_Defaults_Limit(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.store.EXPECT().GetMessagesBefore("", 20).Return(nil, nil)
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"GET_HISTORY"}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeHistoryResponse, frames[0]["type"])
}

func TestDispatcher_History_Requires_Login(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conn := newFakeConn()

	f.dispatcher.Handle(conn, []byte(`{"type":"GET_HISTORY","limit":10}`))

	frames := conn.sentFrames(t)
	req.Len(frames, 1)
	req.Equal("Not authenticated", frames[0]["message"])
}

func TestDispatcher_History_Store_Failure_Returns_Empty(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.store.EXPECT().GetMessagesBefore("", 20).Return(nil, fmt.Errorf("disk on fire"))
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"GET_HISTORY"}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeHistoryResponse, frames[0]["type"])
	req.Empty(frames[0]["messages"])
	req.Equal(false, frames[0]["hasMore"])
}

func TestDispatcher_Persist_Failure_Does_Not_Block_Delivery(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn()}
	f.login(conns, "alice")
	f.login(conns, "bob")

	f.store.EXPECT().SaveMessage(gomock.Any()).Return(fmt.Errorf("disk on fire"))

	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"still delivered"}`))

	frames := conns["bob"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal("still delivered", frames[0]["content"])
}

func TestDispatcher_HandleClose_Notifies_Remaining(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn(), "bob": newFakeConn(), "clara": newFakeConn()}
	for _, userID := range []string{"alice", "bob", "clara"} {
		f.login(conns, userID)
	}

	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)

	// When clara's connection closes
	f.dispatcher.HandleClose(conns["clara"])

	// Then alice and bob are told, clara's session is gone
	for _, other := range []string{"alice", "bob"} {
		frames := conns[other].sentFrames(t)
		req.Len(frames, 1, "recipient %s", other)
		req.Equal("SYSTEM", frames[0]["type"])
		req.Equal("clara left the chat", frames[0]["content"])
	}
	req.Empty(conns["clara"].sentFrames(t))
	req.Equal(2, f.registry.Count())

	// Closing an unbound connection is a no-op
	f.dispatcher.HandleClose(newFakeConn())
	req.Equal(2, f.registry.Count())
}

func TestDispatcher_Panic_Becomes_Error_Frame(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.store.EXPECT().SaveMessage(gomock.Any()).Do(func(domain.Message) {
		panic("boom")
	}).Return(nil)

	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"hello"}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeError, frames[0]["type"])
	req.Equal("Internal server error", frames[0]["message"])
}

// stubIndex satisfies SearchIndex with canned results.
type stubIndex struct {
	messages []domain.Message
	total    int
	err      error
	indexed  []domain.Message
}

func (s *stubIndex) Index(msg domain.Message) error {
	s.indexed = append(s.indexed, msg)
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ string, _ int) ([]domain.Message, int, error) {
	return s.messages, s.total, s.err
}

func TestDispatcher_Search(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	index := &stubIndex{
		messages: []domain.Message{{ID: "m1", Type: domain.TypeText, SenderID: "bob", Content: "badger facts", Timestamp: 1}},
		total:    7,
	}
	f.dispatcher.index = index

	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"SEARCH","query":"badger"}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeSearchResponse, frames[0]["type"])
	req.Len(frames[0]["messages"], 1)
	req.Equal(float64(7), frames[0]["total"])
}

func TestDispatcher_Search_Without_Index(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"SEARCH","query":"badger"}`))

	frames := conns["alice"].sentFrames(t)
	req.Len(frames, 1)
	req.Equal(wire.TypeSearchResponse, frames[0]["type"])
	req.Empty(frames[0]["messages"])
}

func TestDispatcher_Chat_Is_Indexed(t *testing.T) {
	req := require.New(t)
	f := newDispatcherFixture(t)
	index := &stubIndex{}
	f.dispatcher.index = index

	conns := map[string]*fakeConn{"alice": newFakeConn()}
	f.login(conns, "alice")

	f.store.EXPECT().SaveMessage(gomock.Any()).Return(nil)
	f.dispatcher.Handle(conns["alice"], []byte(`{"type":"TEXT","content":"searchable"}`))

	req.Len(index.indexed, 1)
	req.Equal("searchable", index.indexed[0].Content)
}
