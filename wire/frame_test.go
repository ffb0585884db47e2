package wire

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hybridchat/domain"
	"hybridchat/errors"
)

func TestDecode_ValidFrame(t *testing.T) {
	req := require.New(t)

	// Given a well-formed TEXT frame
	raw := []byte(`{"type":"TEXT","id":"m1","content":"hello","timestamp":1700000000000}`)

	// When decoded
	frame, err := Decode(raw)

	// Then every declared field is honored
	req.NoError(err)
	req.Equal("TEXT", frame.Type)
	req.Equal("m1", frame.ID)
	req.Equal("hello", frame.Content)
	req.Equal(int64(1700000000000), frame.Timestamp)
}

func TestDecode_Rejections(t *testing.T) {
	req := require.New(t)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "Not JSON at all", raw: "not json"},
		{name: "Missing type field", raw: `{"content":"hello"}`},
		{name: "Wrongly typed field", raw: `{"type":"TEXT","timestamp":"yesterday"}`},
		{name: "Empty payload", raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			req.Error(err)
		})
	}
}

func TestValidateLogin(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateLogin(Frame{Type: TypeLogin, UserID: "alice"}))
	req.ErrorIs(ValidateLogin(Frame{Type: TypeLogin}), errors.ErrEmptyUserID)
	// Whitespace-only userIds are empty
	req.ErrorIs(ValidateLogin(Frame{Type: TypeLogin, UserID: "   "}), errors.ErrEmptyUserID)
}

func TestValidateChat(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateChat(Frame{Type: "TEXT", Content: "hello"}, domain.TypeText))
	req.ErrorIs(ValidateChat(Frame{Type: "TEXT", Content: " "}, domain.TypeText), errors.ErrEmptyContent)

	// Given a media payload over the cap
	huge := strings.Repeat("A", MaxMediaContentBytes+1)
	req.ErrorIs(ValidateChat(Frame{Type: "IMAGE", Content: huge}, domain.TypeImage), errors.ErrContentTooLarge)

	// Text has no size cap at this layer
	req.NoError(ValidateChat(Frame{Type: "TEXT", Content: huge}, domain.TypeText))
}

func TestValidateChat_MediaShape(t *testing.T) {
	req := require.New(t)

	// Data URIs and bare base64 pass
	req.NoError(ValidateChat(Frame{Type: "IMAGE", Content: "data:image/png;base64,iVBORw0KGgo="}, domain.TypeImage))
	req.NoError(ValidateChat(Frame{Type: "AUDIO", Content: "iVBORw0KGgoAAAANSUhEUg=="}, domain.TypeAudio))

	// Plain prose is not a media payload
	err := ValidateChat(Frame{Type: "IMAGE", Content: "just some words, not an image"}, domain.TypeImage)
	req.ErrorIs(err, errors.ErrInvalidMedia)

	// Text content is never shape-checked
	req.NoError(ValidateChat(Frame{Type: "TEXT", Content: "just some words, not an image"}, domain.TypeText))
}

func TestHistoryResponse_EmptyIsNeverNull(t *testing.T) {
	req := require.New(t)

	// When serializing a response with no messages
	payload := HistoryResponse(nil, false)

	// Then clients receive an empty array, not null
	var decoded struct {
		Type     string           `json:"type"`
		Messages []domain.Message `json:"messages"`
		HasMore  bool             `json:"hasMore"`
	}
	req.NoError(json.Unmarshal(payload, &decoded))
	req.Equal(TypeHistoryResponse, decoded.Type)
	req.NotNil(decoded.Messages)
	req.Empty(decoded.Messages)
	req.False(decoded.HasMore)
	req.Contains(string(payload), `"messages":[]`)
}

func TestErrorFrame(t *testing.T) {
	req := require.New(t)
	at := time.UnixMilli(1700000000000)

	payload := Error("Not authenticated", at)

	var decoded struct {
		Type      string `json:"type"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}
	req.NoError(json.Unmarshal(payload, &decoded))
	req.Equal(TypeError, decoded.Type)
	req.Equal("Not authenticated", decoded.Message)
	req.Equal(at.UnixMilli(), decoded.Timestamp)
}

func TestMessageFrame_SystemOmitsSender(t *testing.T) {
	req := require.New(t)

	notice := domain.NewSystemNotice("alice joined the chat", time.UnixMilli(1700000000000))
	payload := Message(notice)

	req.Contains(string(payload), `"type":"SYSTEM"`)
	req.NotContains(string(payload), "senderId")
}
