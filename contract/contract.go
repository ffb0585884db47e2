//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"hybridchat/domain"
)

// Store is the backend-agnostic message persistence contract. All backends
// return messages oldest-to-newest and preserve append order.
type Store interface {
	// Initialize prepares the underlying resource. Idempotent; implementations
	// call it lazily on first write if the caller never did.
	Initialize() error
	// SaveMessage appends one message. Callers treat failure as non-fatal to
	// delivery.
	SaveMessage(msg domain.Message) error
	// GetMessagesBefore returns up to limit messages preceding the referenced
	// message. An empty or unknown messageID yields the most recent page.
	GetMessagesBefore(messageID string, limit int) ([]domain.Message, error)
	// GetAllMessages dumps the full ordered history. Diagnostics and tests.
	GetAllMessages() ([]domain.Message, error)
	// MessageCount reports the number of persisted messages.
	MessageCount() (int, error)
	// PurgeOlderThan deletes messages with a timestamp before cutoff and
	// returns how many were removed.
	PurgeOlderThan(cutoff time.Time) (int, error)
	// Clear destroys all history. Test and ops use only.
	Clear() error
	Close() error
}

type Registry interface {
	CreateSession(userID string, conn domain.Connection) *domain.Session
	GetSession(userID string) (*domain.Session, bool)
	RemoveSession(userID string)
	FindUserIDByConnection(conn domain.Connection) (string, bool)
	UpdateActivity(userID string)
	AllSessions() []*domain.Session
}

type Broadcaster interface {
	// Broadcast delivers msg to every open session except exclude (nil means
	// no exclusion) and returns the number of successful sends.
	Broadcast(msg domain.Message, exclude domain.Connection) int
}

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type Supervisor interface {
	Add(worker ...Worker) Supervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes, avoiding the need for
// manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
