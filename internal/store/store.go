// Package store provides durable persistence for the settings record on top of
// a Badger key-value database, with an in-memory mirror that is hydrated once
// per daemon lifetime.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/chimeapp/chime-server/internal/domain"
)

// EventEmitter is the interface for emitting SSE events.
// Store uses this to broadcast changes without depending on SSE implementation details.
type EventEmitter interface {
	Emit(event any)
}

// NoopEmitter is a no-op implementation of EventEmitter for testing.
type NoopEmitter struct{}

// Emit implements EventEmitter.Emit as a no-op.
func (NoopEmitter) Emit(_ any) {}

// NewNoopEmitter creates a new no-op emitter for testing.
func NewNoopEmitter() EventEmitter {
	return NoopEmitter{}
}

// Store wraps a Badger database instance and the settings mirror.
//
// The database is the source of truth; the mirror is a cache that must never
// be trusted across a restart without re-hydration, which is why hydrated
// starts false on every process start.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	emitter EventEmitter

	mu       sync.RWMutex
	settings *domain.Settings
	hydrated bool
}

// New creates a new Store instance with the given database path and event emitter.
// The emitter is required and used to broadcast settings changes via SSE.
func New(path string, logger *slog.Logger, emitter EventEmitter) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // The settings record is the only durable state; never lose a write
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &Store{
		db:      db,
		logger:  logger,
		emitter: emitter,
	}

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}

	return store, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	return s.db.Close()
}
