// Package repositories provides the interchangeable message store backends.
// All backends satisfy contract.Store and produce byte-for-byte equivalent
// messages on round-trip.
package repositories

import (
	"fmt"
	"log/slog"

	"hybridchat/contract"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	FilePath   string // file backend: path of the JSON history file
	SQLitePath string // sqlite backend: path of the database file
	MediaDir   string // sqlite backend: directory for content-addressed media blobs
	BadgerPath string // badger backend: database directory
}

// Open builds the configured backend and initializes it eagerly; a store
// that cannot start is a process-level startup failure.
func Open(opts Options, log *slog.Logger) (contract.Store, error) {
	var store contract.Store
	switch opts.Backend {
	case BackendFile:
		store = NewFileStore(opts.FilePath, log)
	case BackendSQLite:
		s, err := NewSQLiteStore(opts.SQLitePath, opts.MediaDir, log)
		if err != nil {
			return nil, err
		}
		store = s
	case BackendBadger:
		s, err := NewBadgerStore(opts.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}

	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}
	return store, nil
}
