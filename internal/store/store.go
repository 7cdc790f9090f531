// Package store provides storage backends for chocoflow.
//
// It persists collected field values (typed, scoped per section), the nested
// form document, the per-user flow pointer, and the append-only completion
// history. Backends: in-memory (tests and development), SQLite, PostgreSQL.
package store

import (
	"strings"

	"github.com/haroov/chocoflow/internal/models"
)

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a storage backend.
type Option func(*Opts)

// WithDSN sets the database connection string (a file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use the URL form or key=value form; everything else is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence interface consumed by the flow state machine.
//
// SetFields has patch semantics: a present key overwrites, an absent key is
// left untouched, and a null value is ignored — clearing a field requires an
// explicit delete outside this interface.
type Store interface {
	// GetFields returns the field values collected under one scope.
	GetFields(userID, scopeID string) (map[string]models.Value, error)

	// GetAllFields returns every scope's field values for the user, keyed by
	// scope, so the caller can build the active-scope overlay.
	GetAllFields(userID string) (map[string]map[string]models.Value, error)

	// SetFields applies a patch to the user's fields under one scope.
	SetFields(userID, scopeID string, patch map[string]models.Value) error

	// GetDocument returns the user's form document, or an empty one.
	GetDocument(userID string) (map[string]any, error)

	// SaveDocument stores the user's form document.
	SaveDocument(userID string, doc map[string]any) error

	// GetFlowPointer returns the user's flow pointer, or nil if none exists.
	GetFlowPointer(userID string) (*models.FlowPointer, error)

	// SaveFlowPointer creates or replaces the user's flow pointer.
	SaveFlowPointer(p models.FlowPointer) error

	// DeleteFlowPointer removes the user's flow pointer.
	DeleteFlowPointer(userID string) error

	// AppendCompletion appends one record to the completion history.
	AppendCompletion(rec models.CompletionRecord) error

	// GetCompletions returns the user's completion history in append order.
	GetCompletions(userID string) ([]models.CompletionRecord, error)

	// Close releases backend resources.
	Close() error
}
