package runtime

import (
	"log/slog"

	"hybridchat/contract"
	"hybridchat/domain"
	"hybridchat/wire"
)

// Broadcaster delivers one message to many connections with per-recipient
// failure isolation: a slow or broken client never blocks the rest.
type Broadcaster struct {
	log      *slog.Logger
	registry contract.Registry
}

func NewBroadcaster(log *slog.Logger, registry contract.Registry) *Broadcaster {
	return &Broadcaster{log: log, registry: registry}
}

// Broadcast serializes msg once, snapshots the registry, and attempts a send
// to every open session whose connection differs from exclude. Send failures
// are logged and skipped. Delivery order across recipients is unspecified.
func (b *Broadcaster) Broadcast(msg domain.Message, exclude domain.Connection) int {
	payload := wire.Message(msg)
	delivered := 0

	for _, session := range b.registry.AllSessions() {
		if session.Conn == exclude || !session.Conn.IsOpen() {
			continue
		}
		if err := session.Conn.Send(payload); err != nil {
			b.log.Warn("Broadcast delivery failed",
				"user_id", session.UserID,
				"message_id", msg.ID,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}
