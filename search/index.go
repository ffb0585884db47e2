// Package search maintains a full-text index over chat content and backs the
// SEARCH operation. The index is a sidecar: losing it loses search results,
// never history.
package search

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/blugelabs/bluge"

	"hybridchat/domain"
)

type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func Open(path string, log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer, log: log}, nil
}

// Index upserts one message. Every field needed to rebuild the message is
// stored alongside the searchable content, so queries never touch the store.
func (i *Index) Index(msg domain.Message) error {
	doc := bluge.NewDocument(msg.ID).
		AddField(bluge.NewTextField("content", msg.Content).StoreValue()).
		AddField(bluge.NewKeywordField("sender", msg.SenderID).StoreValue()).
		AddField(bluge.NewStoredOnlyField("msg_type", []byte(msg.Type))).
		AddField(bluge.NewStoredOnlyField("timestamp", []byte(strconv.FormatInt(msg.Timestamp, 10))))
	return i.writer.Update(doc.ID(), doc)
}

// Search runs a match query over content and rebuilds messages from stored
// fields, best first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]domain.Message, int, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	q := bluge.NewMatchQuery(query).SetField("content")
	request := bluge.NewTopNSearch(limit, q).WithStandardAggregations()

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, 0, err
	}

	var messages []domain.Message
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, 0, err
		}
		if match == nil {
			break
		}

		var msg domain.Message
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				msg.ID = string(value)
			case "content":
				msg.Content = string(value)
			case "sender":
				msg.SenderID = string(value)
			case "msg_type":
				msg.Type = domain.MessageType(value)
			case "timestamp":
				if ts, err := strconv.ParseInt(string(value), 10, 64); err == nil {
					msg.Timestamp = ts
				}
			}
			return true
		})
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}

	total := int(iterator.Aggregations().Count())
	return messages, total, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}
