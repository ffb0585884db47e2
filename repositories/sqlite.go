package repositories

import (
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "modernc.org/sqlite"

	"hybridchat/domain"
)

// blobThreshold is the inline size limit for media content. Larger payloads
// move to content-addressed files so the messages table stays scan-friendly.
// Offloaded rows carry the blob filename in content and blob_ref = 1; inline
// content is never inspected, whatever it looks like.
const blobThreshold = 64 << 10

// SQLiteStore is the relational backend: a timestamp-indexed messages table
// plus a separate content-addressed blob directory for large media payloads.
type SQLiteStore struct {
	db       *sql.DB
	mediaDir string
	log      *slog.Logger
}

func NewSQLiteStore(dbPath, mediaDir string, log *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, mediaDir: mediaDir, log: log}, nil
}

// Initialize creates the schema and the media directory. Idempotent.
func (s *SQLiteStore) Initialize() error {
	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		return err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		blob_ref INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		status TEXT,
		avatar_color TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveMessage(msg domain.Message) error {
	content := msg.Content
	blobRef := 0
	if msg.Type.IsMedia() && len(content) > blobThreshold {
		name, err := s.offloadMedia(content)
		if err != nil {
			return fmt.Errorf("offloading media payload: %w", err)
		}
		content = name
		blobRef = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, type, sender_id, content, blob_ref, timestamp, status, avatar_color)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.Type), msg.SenderID, content, blobRef, msg.Timestamp,
		nullable(msg.Status), nullable(msg.AvatarColor))
	return err
}

// offloadMedia writes the content string to a file named by its sha256, with
// an extension sniffed from the decoded payload, and returns the blob
// filename stored in the row. Identical payloads share one blob.
func (s *SQLiteStore) offloadMedia(content string) (string, error) {
	sum := sha256.Sum256([]byte(content))
	name := hex.EncodeToString(sum[:]) + sniffExtension(content)
	path := filepath.Join(s.mediaDir, name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return name, nil
}

// sniffExtension base64-decodes the payload (data URI or raw) just enough to
// let mimetype pick an extension. Undecodable content falls back to .bin.
func sniffExtension(content string) string {
	payload := content
	if idx := strings.Index(payload, ";base64,"); idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}
	if len(payload) > 8192 {
		payload = payload[:8192]
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil || len(decoded) == 0 {
		return ".bin"
	}
	return mimetype.Detect(decoded).Extension()
}

// resolveContent loads an offloaded blob back into the original content
// string. The blob_ref flag decides, never the content itself, so inline
// payloads that happen to look like a filename round-trip verbatim.
func (s *SQLiteStore) resolveContent(content string, blobRef int) (string, error) {
	if blobRef == 0 {
		return content, nil
	}
	raw, err := os.ReadFile(filepath.Join(s.mediaDir, filepath.Base(content)))
	if err != nil {
		return "", fmt.Errorf("loading media blob %s: %w", content, err)
	}
	return string(raw), nil
}

// GetMessagesBefore pages backwards from the referenced message. rowid breaks
// ties between equal timestamps so append order is preserved exactly.
func (s *SQLiteStore) GetMessagesBefore(messageID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	refTimestamp, refRowid, found := s.lookupRef(messageID)
	if found {
		rows, err = s.db.Query(`
			SELECT id, type, sender_id, content, blob_ref, timestamp, status, avatar_color
			FROM messages
			WHERE timestamp < ? OR (timestamp = ? AND rowid < ?)
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		`, refTimestamp, refTimestamp, refRowid, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, type, sender_id, content, blob_ref, timestamp, status, avatar_color
			FROM messages
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Scanned newest-first; callers get oldest-to-newest.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (s *SQLiteStore) lookupRef(messageID string) (int64, int64, bool) {
	if messageID == "" {
		return 0, 0, false
	}
	var timestamp, rowid int64
	err := s.db.QueryRow(`SELECT timestamp, rowid FROM messages WHERE id = ?`, messageID).
		Scan(&timestamp, &rowid)
	if err != nil {
		return 0, 0, false
	}
	return timestamp, rowid, true
}

func (s *SQLiteStore) GetAllMessages() ([]domain.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, type, sender_id, content, blob_ref, timestamp, status, avatar_color
		FROM messages
		ORDER BY timestamp ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

func (s *SQLiteStore) scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg         domain.Message
			msgType     string
			blobRef     int
			status      sql.NullString
			avatarColor sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msgType, &msg.SenderID, &msg.Content,
			&blobRef, &msg.Timestamp, &status, &avatarColor); err != nil {
			return nil, err
		}
		msg.Type = domain.MessageType(msgType)
		msg.Status = status.String
		msg.AvatarColor = avatarColor.String

		content, err := s.resolveContent(msg.Content, blobRef)
		if err != nil {
			return nil, err
		}
		msg.Content = content
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) MessageCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// PurgeOlderThan drops old rows. Orphaned blobs are left behind; they are
// content-addressed and harmless, and a shared blob may still be referenced.
func (s *SQLiteStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	return int(deleted), err
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM messages`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
