// Package runtime wires the broker together: session registry, per-connection
// inbound queues, the protocol dispatcher, and broadcast fan-out. It contains
// no transport or storage details beyond their contracts.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"hybridchat/contract"
	"hybridchat/domain"
	"hybridchat/moderation"
	"hybridchat/wire"
)

const (
	// loginHistoryMax caps the recent history pushed right after LOGIN.
	loginHistoryMax = 50

	defaultHistoryLimit = 20
	defaultSearchLimit  = 20
)

// SearchIndex is the optional full-text index over persisted content.
// Indexing is best-effort, like persistence: a failed write never blocks
// delivery.
type SearchIndex interface {
	Index(msg domain.Message) error
	Search(ctx context.Context, query string, limit int) ([]domain.Message, int, error)
}

// Dispatcher validates, routes, and reacts to each inbound frame. One call to
// Handle runs to completion before the inbound queue hands over the next
// item, which is what makes per-connection ordering hold.
type Dispatcher struct {
	log         *slog.Logger
	registry    contract.Registry
	store       contract.Store
	broadcaster contract.Broadcaster
	moderator   *moderation.Moderator
	index       SearchIndex
	now         func() time.Time
}

func NewDispatcher(
	log *slog.Logger,
	registry contract.Registry,
	store contract.Store,
	broadcaster contract.Broadcaster,
	moderator *moderation.Moderator,
	index SearchIndex,
) *Dispatcher {
	return &Dispatcher{
		log:         log,
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		moderator:   moderator,
		index:       index,
		now:         time.Now,
	}
}

// Handle processes one raw inbound payload. Every failure mode, including a
// panic in a handler, converts to an ERROR frame on the same connection; the
// connection stays open and other connections are never affected.
func (d *Dispatcher) Handle(conn domain.Connection, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Recovered panic in message handling", "panic", r)
			d.sendError(conn, "Internal server error")
		}
	}()

	frame, err := wire.Decode(raw)
	if err != nil {
		d.log.Debug("Rejected malformed payload", "error", err)
		d.sendError(conn, "Invalid message format")
		return
	}

	// Any inbound traffic counts as activity for the bound session.
	if userID, ok := d.registry.FindUserIDByConnection(conn); ok {
		d.registry.UpdateActivity(userID)
	}

	switch frame.Type {
	case wire.TypeLogin:
		d.handleLogin(conn, frame)
	case string(domain.TypeText):
		d.handleChat(conn, frame, domain.TypeText)
	case string(domain.TypeImage):
		d.handleChat(conn, frame, domain.TypeImage)
	case string(domain.TypeVideo):
		d.handleChat(conn, frame, domain.TypeVideo)
	case string(domain.TypeAudio):
		d.handleChat(conn, frame, domain.TypeAudio)
	case wire.TypeGetHistory:
		d.handleHistory(conn, frame)
	case wire.TypeSearch:
		d.handleSearch(conn, frame)
	case string(domain.TypeSystem):
		d.sendError(conn, "SYSTEM messages cannot be sent by clients")
	default:
		d.sendError(conn, fmt.Sprintf("Unknown message type: %s", frame.Type))
	}
}

// handleLogin binds the connection to a session. A duplicate login for the
// same userId wins: the previous connection is told why and closed, instead
// of lingering as an orphaned socket.
func (d *Dispatcher) handleLogin(conn domain.Connection, frame wire.Frame) {
	if err := wire.ValidateLogin(frame); err != nil {
		d.sendError(conn, err.Error())
		return
	}

	userID := frame.UserID
	if previous, ok := d.registry.GetSession(userID); ok && previous.Conn != conn {
		d.log.Info("Duplicate login, displacing previous connection", "user_id", userID)
		d.send(previous.Conn, wire.Error("Signed in from another connection", d.now()))
		_ = previous.Conn.Close()
	}

	d.registry.CreateSession(userID, conn)
	d.send(conn, wire.LoginSuccess(userID))

	// Best-effort initial history; a store failure must not fail the login.
	messages, err := d.store.GetMessagesBefore("", loginHistoryMax)
	if err != nil {
		d.log.Warn("Failed to load history on login", "user_id", userID, "error", err)
		messages = nil
	}
	d.send(conn, wire.HistoryResponse(messages, false))

	notice := domain.NewSystemNotice(fmt.Sprintf("%s joined the chat", userID), d.now())
	d.persist(notice)
	d.broadcaster.Broadcast(notice, conn)
}

// handleChat covers TEXT and the three media types. The broadcast asymmetry
// is deliberate and must hold exactly: TEXT excludes the sender (the client
// displays its own optimistic copy), media includes the sender (the client
// waits for the authoritative server copy).
func (d *Dispatcher) handleChat(conn domain.Connection, frame wire.Frame, msgType domain.MessageType) {
	senderID, ok := d.registry.FindUserIDByConnection(conn)
	if !ok {
		d.sendError(conn, "Not authenticated")
		return
	}
	if err := wire.ValidateChat(frame, msgType); err != nil {
		d.sendError(conn, err.Error())
		return
	}

	content := frame.Content
	if msgType == domain.TypeText && d.moderator != nil {
		masked, matches := d.moderator.Censor(content)
		if len(matches) > 0 {
			lang := whatlanggo.Detect(content).Lang.Iso6391()
			d.log.Info("Censored message content",
				"sender_id", senderID,
				"matches", len(matches),
				"lang", lang)
			content = masked
		}
	}

	msg := domain.Message{
		ID:          frame.ID,
		Type:        msgType,
		SenderID:    senderID,
		Content:     content,
		Timestamp:   frame.Timestamp,
		Status:      frame.Status,
		AvatarColor: frame.AvatarColor,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = d.now().UnixMilli()
	}

	d.persist(msg)

	if msgType == domain.TypeText {
		d.broadcaster.Broadcast(msg, conn)
	} else {
		d.broadcaster.Broadcast(msg, nil)
	}
}

// handleHistory serves one pagination request. hasMore is the historic
// heuristic: a full page implies more may exist. It is knowingly wrong when
// exactly limit older messages remain; clients depend on this behavior.
func (d *Dispatcher) handleHistory(conn domain.Connection, frame wire.Frame) {
	if _, ok := d.registry.FindUserIDByConnection(conn); !ok {
		d.sendError(conn, "Not authenticated")
		return
	}

	limit := frame.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	messages, err := d.store.GetMessagesBefore(frame.LastMessageID, limit)
	if err != nil {
		d.log.Warn("History query failed", "error", err)
		d.send(conn, wire.HistoryResponse(nil, false))
		return
	}

	hasMore := len(messages) == limit
	d.send(conn, wire.HistoryResponse(messages, hasMore))
}

func (d *Dispatcher) handleSearch(conn domain.Connection, frame wire.Frame) {
	if _, ok := d.registry.FindUserIDByConnection(conn); !ok {
		d.sendError(conn, "Not authenticated")
		return
	}
	if err := wire.ValidateSearch(frame); err != nil {
		d.sendError(conn, err.Error())
		return
	}
	if d.index == nil {
		d.send(conn, wire.SearchResponse(nil, 0))
		return
	}

	limit := frame.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	messages, total, err := d.index.Search(context.Background(), frame.Query, limit)
	if err != nil {
		d.log.Warn("Search query failed", "query", frame.Query, "error", err)
		d.send(conn, wire.SearchResponse(nil, 0))
		return
	}
	d.send(conn, wire.SearchResponse(messages, total))
}

// HandleClose unbinds the session and tells the remaining sessions. Called by
// the transport exactly once per closed connection.
func (d *Dispatcher) HandleClose(conn domain.Connection) {
	userID, ok := d.registry.FindUserIDByConnection(conn)
	if !ok {
		return
	}
	d.registry.RemoveSession(userID)
	d.log.Info("Session closed", "user_id", userID)

	notice := domain.NewSystemNotice(fmt.Sprintf("%s left the chat", userID), d.now())
	d.persist(notice)
	d.broadcaster.Broadcast(notice, conn)
}

// Touch refreshes activity for the session bound to conn; driven by transport
// heartbeat pongs.
func (d *Dispatcher) Touch(conn domain.Connection) {
	if userID, ok := d.registry.FindUserIDByConnection(conn); ok {
		d.registry.UpdateActivity(userID)
	}
}

// persist saves and indexes best-effort. Delivery is never blocked by
// storage failures.
func (d *Dispatcher) persist(msg domain.Message) {
	if err := d.store.SaveMessage(msg); err != nil {
		d.log.Error("Failed to persist message", "message_id", msg.ID, "error", err)
	}
	if d.index != nil && msg.Type != domain.TypeSystem {
		if err := d.index.Index(msg); err != nil {
			d.log.Warn("Failed to index message", "message_id", msg.ID, "error", err)
		}
	}
}

func (d *Dispatcher) sendError(conn domain.Connection, message string) {
	d.send(conn, wire.Error(message, d.now()))
}

func (d *Dispatcher) send(conn domain.Connection, payload []byte) {
	if !conn.IsOpen() {
		return
	}
	if err := conn.Send(payload); err != nil {
		d.log.Warn("Failed to write response", "error", err)
	}
}
