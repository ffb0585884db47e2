// Package domain contains core concepts of the chat broker.
// This file defines Message events and related rules.
// Messages are immutable and validated at the protocol boundary.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeVideo  MessageType = "VIDEO"
	TypeAudio  MessageType = "AUDIO"
	TypeSystem MessageType = "SYSTEM"
)

// IsMedia reports whether the type carries a binary payload (base64 or data URI).
func (t MessageType) IsMedia() bool {
	return t == TypeImage || t == TypeVideo || t == TypeAudio
}

// Message represents an immutable chat event. SenderID is empty only for
// SYSTEM notices. Timestamp is epoch milliseconds, matching the wire format.
// Status and AvatarColor are optional client metadata carried verbatim.
type Message struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	SenderID    string      `json:"senderId,omitempty"`
	Content     string      `json:"content"`
	Timestamp   int64       `json:"timestamp"`
	Status      string      `json:"status,omitempty"`
	AvatarColor string      `json:"avatarColor,omitempty"`
}

// NewSystemNotice builds a server-generated SYSTEM message. Clients can never
// originate these.
func NewSystemNotice(content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      TypeSystem,
		Content:   content,
		Timestamp: at.UnixMilli(),
	}
}
