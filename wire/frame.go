// Package wire defines the JSON frame envelope exchanged with clients and the
// structural validation applied before any side effect. Frames are a tagged
// union over the "type" field; unknown or malformed shapes are rejected at
// this boundary.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"hybridchat/domain"
	"hybridchat/errors"
)

const (
	TypeLogin           = "LOGIN"
	TypeLoginSuccess    = "LOGIN_SUCCESS"
	TypeGetHistory      = "GET_HISTORY"
	TypeHistoryResponse = "HISTORY_RESPONSE"
	TypeSearch          = "SEARCH"
	TypeSearchResponse  = "SEARCH_RESPONSE"
	TypeError           = "ERROR"
)

// MaxMediaContentBytes caps base64 media payloads (10MB of encoded content,
// the same ceiling the original client enforces before sending).
const MaxMediaContentBytes = 10 << 20

var validate = validator.New()

// Frame is the decoded inbound envelope. Only the fields relevant to the
// declared type are honored; the rest stay zero.
type Frame struct {
	Type          string `json:"type" validate:"required"`
	UserID        string `json:"userId,omitempty"`
	ID            string `json:"id,omitempty"`
	Content       string `json:"content,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	LastMessageID string `json:"lastMessageId,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Query         string `json:"query,omitempty"`
	Status        string `json:"status,omitempty"`
	AvatarColor   string `json:"avatarColor,omitempty"`
}

// Decode parses one raw payload into a Frame. Any JSON-level problem,
// including wrongly typed optional fields, is a malformed-input error.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid message format: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return Frame{}, fmt.Errorf("invalid message format: %w", err)
	}
	return f, nil
}

// ValidateLogin checks the LOGIN shape. Whitespace-only userIds are empty.
func ValidateLogin(f Frame) error {
	if strings.TrimSpace(f.UserID) == "" {
		return errors.ErrEmptyUserID
	}
	return nil
}

// ValidateChat checks TEXT/IMAGE/VIDEO/AUDIO shapes. Media content must look
// like an encoded payload before it is accepted, not just fit the size cap.
func ValidateChat(f Frame, t domain.MessageType) error {
	if strings.TrimSpace(f.Content) == "" {
		return errors.ErrEmptyContent
	}
	if t.IsMedia() {
		if len(f.Content) > MaxMediaContentBytes {
			return errors.ErrContentTooLarge
		}
		if !isMediaPayload(f.Content) {
			return errors.ErrInvalidMedia
		}
	}
	return nil
}

// isMediaPayload accepts data URIs and bare base64. Only a bounded sample is
// checked so a multi-megabyte payload does not pay a full scan here.
func isMediaPayload(content string) bool {
	if strings.HasPrefix(content, "data:") {
		return true
	}
	sample := content
	if len(sample) > 512 {
		sample = sample[:512]
	}
	for _, r := range sample {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}

// ValidateSearch checks the SEARCH shape.
func ValidateSearch(f Frame) error {
	if strings.TrimSpace(f.Query) == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

type errorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type loginSuccessFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type historyResponseFrame struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

type searchResponseFrame struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

// Error serializes an ERROR frame. Serialization of a flat struct cannot
// fail, so the payload is returned directly.
func Error(message string, at time.Time) []byte {
	b, _ := json.Marshal(errorFrame{Type: TypeError, Message: message, Timestamp: at.UnixMilli()})
	return b
}

func LoginSuccess(userID string) []byte {
	b, _ := json.Marshal(loginSuccessFrame{Type: TypeLoginSuccess, UserID: userID})
	return b
}

func HistoryResponse(messages []domain.Message, hasMore bool) []byte {
	if messages == nil {
		messages = []domain.Message{}
	}
	b, _ := json.Marshal(historyResponseFrame{Type: TypeHistoryResponse, Messages: messages, HasMore: hasMore})
	return b
}

func SearchResponse(messages []domain.Message, total int) []byte {
	if messages == nil {
		messages = []domain.Message{}
	}
	b, _ := json.Marshal(searchResponseFrame{Type: TypeSearchResponse, Messages: messages, Total: total})
	return b
}

// Message serializes a chat or system message as its own broadcast frame;
// the Message struct is the envelope for those types.
func Message(msg domain.Message) []byte {
	b, _ := json.Marshal(msg)
	return b
}
