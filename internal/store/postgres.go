// Package store provides storage backends for chocoflow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/haroov/chocoflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the maximum time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists chocoflow state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore migrations applied")
	return &PostgresStore{db: db}, nil
}

// GetFields returns the field values collected under one scope.
func (s *PostgresStore) GetFields(userID, scopeID string) (map[string]models.Value, error) {
	rows, err := s.db.Query(
		`SELECT field_key, value_json FROM collected_fields WHERE user_id = $1 AND scope_id = $2`,
		userID, scopeID)
	if err != nil {
		slog.Error("PostgresStore.GetFields query failed", "error", err, "userID", userID, "scope", scopeID)
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()
	return scanFieldRows(rows)
}

// GetAllFields returns every scope's field values for the user.
func (s *PostgresStore) GetAllFields(userID string) (map[string]map[string]models.Value, error) {
	rows, err := s.db.Query(
		`SELECT scope_id, field_key, value_json FROM collected_fields WHERE user_id = $1`,
		userID)
	if err != nil {
		slog.Error("PostgresStore.GetAllFields query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()
	return scanScopedFieldRows(rows)
}

// SetFields applies a patch to the user's fields under one scope.
func (s *PostgresStore) SetFields(userID, scopeID string, patch map[string]models.Value) error {
	now := time.Now()
	for key, v := range patch {
		if v.IsNull() {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			slog.Error("PostgresStore.SetFields marshal failed", "error", err, "field", key)
			return fmt.Errorf("failed to marshal field %s: %w", key, err)
		}
		_, err = s.db.Exec(
			`INSERT INTO collected_fields (user_id, scope_id, field_key, value_json, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, scope_id, field_key)
			 DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = EXCLUDED.updated_at`,
			userID, scopeID, key, string(data), now)
		if err != nil {
			slog.Error("PostgresStore.SetFields upsert failed", "error", err, "userID", userID, "field", key)
			return fmt.Errorf("failed to upsert field %s: %w", key, err)
		}
	}
	slog.Debug("PostgresStore.SetFields succeeded", "userID", userID, "scope", scopeID, "fields", len(patch))
	return nil
}

// GetDocument returns the user's form document, or an empty one.
func (s *PostgresStore) GetDocument(userID string) (map[string]any, error) {
	var docJSON string
	err := s.db.QueryRow(`SELECT doc_json FROM form_documents WHERE user_id = $1`, userID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return make(map[string]any), nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetDocument failed", "error", err, "userID", userID)
		return nil, err
	}
	return unmarshalDocument(userID, docJSON)
}

// SaveDocument stores the user's form document.
func (s *PostgresStore) SaveDocument(userID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO form_documents (user_id, doc_json, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET doc_json = EXCLUDED.doc_json, updated_at = EXCLUDED.updated_at`,
		userID, string(data), time.Now())
	if err != nil {
		slog.Error("PostgresStore.SaveDocument failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// GetFlowPointer returns the user's flow pointer, or nil if none exists.
func (s *PostgresStore) GetFlowPointer(userID string) (*models.FlowPointer, error) {
	var p models.FlowPointer
	var qid sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, section_key, qid, state, updated_at FROM flow_pointers WHERE user_id = $1`,
		userID).Scan(&p.UserID, &p.SectionKey, &qid, &p.State, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetFlowPointer failed", "error", err, "userID", userID)
		return nil, err
	}
	p.QID = qid.String
	return &p, nil
}

// SaveFlowPointer creates or replaces the user's flow pointer.
func (s *PostgresStore) SaveFlowPointer(p models.FlowPointer) error {
	_, err := s.db.Exec(
		`INSERT INTO flow_pointers (user_id, section_key, qid, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   section_key = EXCLUDED.section_key, qid = EXCLUDED.qid,
		   state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.SectionKey, nilIfEmpty(p.QID), string(p.State), p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveFlowPointer failed", "error", err, "userID", p.UserID)
		return err
	}
	slog.Debug("PostgresStore.SaveFlowPointer succeeded", "userID", p.UserID, "section", p.SectionKey, "qid", p.QID)
	return nil
}

// DeleteFlowPointer removes the user's flow pointer.
func (s *PostgresStore) DeleteFlowPointer(userID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_pointers WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore.DeleteFlowPointer failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// AppendCompletion appends one record to the completion history.
func (s *PostgresStore) AppendCompletion(rec models.CompletionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO flow_history (user_id, section_key, position, session_id, completed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.UserID, rec.SectionKey, nilIfEmpty(rec.Position), rec.SessionID, rec.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore.AppendCompletion failed", "error", err, "userID", rec.UserID, "section", rec.SectionKey)
		return err
	}
	slog.Debug("PostgresStore.AppendCompletion succeeded", "userID", rec.UserID, "section", rec.SectionKey)
	return nil
}

// GetCompletions returns the user's completion history in append order.
func (s *PostgresStore) GetCompletions(userID string) ([]models.CompletionRecord, error) {
	rows, err := s.db.Query(
		`SELECT user_id, section_key, position, session_id, completed_at
		 FROM flow_history WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		slog.Error("PostgresStore.GetCompletions query failed", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()
	return scanCompletionRows(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore closing database connection")
	return s.db.Close()
}
