// Package store provides the audit-log storage backends for ReplyPipe.
//
// Every processed inbound message produces one audit record: what the engine
// decided and what it attempted to send. Backends are selected by DSN: an
// in-memory store for tests, SQLite for single-host deployments, PostgreSQL
// for anything shared.
package store

import (
	"strings"
	"sync"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// AuditStore is the minimal persistence contract for audit records.
type AuditStore interface {
	// AddAuditRecord appends one record.
	AddAuditRecord(rec models.AuditRecord) error
	// ListAuditRecords returns the most recent records, newest first, up to limit.
	ListAuditRecords(limit int) ([]models.AuditRecord, error)
	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// anything unrecognized fall back to SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore keeps audit records in memory. Used in tests and when no DSN
// is configured.
type InMemoryStore struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddAuditRecord appends one record.
func (s *InMemoryStore) AddAuditRecord(rec models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// ListAuditRecords returns up to limit records, newest first.
func (s *InMemoryStore) ListAuditRecords(limit int) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
