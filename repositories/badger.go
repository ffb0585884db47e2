package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"hybridchat/domain"
)

// BadgerStore persists messages in BadgerDB.
// The primary key is formatted as "msg:{timestamp_padded}:{seq}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Keep save order inside one millisecond via a monotonic per-process
//     sequence; the message id alone would reorder uuid bursts. The sequence
//     resets on restart, which is safe because a restart cannot complete
//     within the same millisecond.
//  3. Prevent data loss by keeping the message id as a final collision
//     disconnector.
//
// A secondary "idx:id:{id}" entry maps a message id back to its primary key
// for position lookups during pagination.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	seq atomic.Uint64
}

const (
	badgerMsgPrefix = "msg:"
	badgerIdxPrefix = "idx:id:"
	// badgerSeekEnd sorts after every padded timestamp under msg:.
	badgerSeekEnd = "9999999999999999999"
)

func NewBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, log: log}, nil
}

// Initialize is satisfied by opening the database; kept for the lazy-init
// contract shared by all backends.
func (s *BadgerStore) Initialize() error { return nil }

func (s *BadgerStore) messageKey(msg domain.Message) []byte {
	return fmt.Appendf(nil, "%s%019d:%012d:%s", badgerMsgPrefix, msg.Timestamp, s.seq.Add(1), msg.ID)
}

func indexKey(id string) []byte {
	return append([]byte(badgerIdxPrefix), id...)
}

func (s *BadgerStore) SaveMessage(msg domain.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := s.messageKey(msg)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
}

// GetMessagesBefore walks backwards from the referenced primary key thanks to
// the padded timestamp ordering, then reverses into chronological order.
func (s *BadgerStore) GetMessagesBefore(messageID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var raw [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMsgPrefix)

		seekKey := append([]byte(badgerMsgPrefix), []byte(badgerSeekEnd)...)
		exclusive := false
		if messageID != "" {
			if refKey, err := s.resolveKey(txn, messageID); err == nil {
				seekKey = refKey
				exclusive = true
			}
		}

		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(seekKey)
		if exclusive && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix) && len(raw) < limit; it.Next() {
			err := it.Item().Value(func(value []byte) error {
				raw = append(raw, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg domain.Message
		if err := json.Unmarshal(raw[i], &msg); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *BadgerStore) resolveKey(txn *badger.Txn, messageID string) ([]byte, error) {
	item, err := txn.Get(indexKey(messageID))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *BadgerStore) GetAllMessages() ([]domain.Message, error) {
	messages := []domain.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerMsgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var msg domain.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return messages, err
}

func (s *BadgerStore) MessageCount() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(badgerMsgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	// Keys older than the cutoff sort strictly before this boundary.
	boundary := fmt.Sprintf("%s%019d:", badgerMsgPrefix, cutoff.UnixMilli())

	type victim struct {
		key []byte
		id  string
	}
	var victims []victim

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(badgerMsgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if string(item.Key()) >= boundary {
				break
			}
			var msg domain.Message
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return err
			}
			victims = append(victims, victim{key: item.KeyCopy(nil), id: msg.ID})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, v := range victims {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(v.key); err != nil {
				return err
			}
			return txn.Delete(indexKey(v.id))
		})
		if err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

func (s *BadgerStore) Clear() error {
	if err := s.db.DropPrefix([]byte(badgerMsgPrefix)); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte(badgerIdxPrefix))
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
