// Package store provides storage backends for chocoflow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/haroov/chocoflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists chocoflow state in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The parent directory is created if missing and migrations are applied.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore migrations applied")
	return &SQLiteStore{db: db}, nil
}

// GetFields returns the field values collected under one scope.
func (s *SQLiteStore) GetFields(userID, scopeID string) (map[string]models.Value, error) {
	rows, err := s.db.Query(
		`SELECT field_key, value_json FROM collected_fields WHERE user_id = ? AND scope_id = ?`,
		userID, scopeID)
	if err != nil {
		slog.Error("SQLiteStore.GetFields query failed", "error", err, "userID", userID, "scope", scopeID)
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()
	return scanFieldRows(rows)
}

// GetAllFields returns every scope's field values for the user.
func (s *SQLiteStore) GetAllFields(userID string) (map[string]map[string]models.Value, error) {
	rows, err := s.db.Query(
		`SELECT scope_id, field_key, value_json FROM collected_fields WHERE user_id = ?`,
		userID)
	if err != nil {
		slog.Error("SQLiteStore.GetAllFields query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()
	return scanScopedFieldRows(rows)
}

// SetFields applies a patch to the user's fields under one scope. Null values
// in the patch are ignored; clearing requires an explicit delete elsewhere.
func (s *SQLiteStore) SetFields(userID, scopeID string, patch map[string]models.Value) error {
	now := time.Now()
	for key, v := range patch {
		if v.IsNull() {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			slog.Error("SQLiteStore.SetFields marshal failed", "error", err, "field", key)
			return fmt.Errorf("failed to marshal field %s: %w", key, err)
		}
		_, err = s.db.Exec(
			`INSERT OR REPLACE INTO collected_fields (user_id, scope_id, field_key, value_json, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			userID, scopeID, key, string(data), now)
		if err != nil {
			slog.Error("SQLiteStore.SetFields upsert failed", "error", err, "userID", userID, "field", key)
			return fmt.Errorf("failed to upsert field %s: %w", key, err)
		}
	}
	slog.Debug("SQLiteStore.SetFields succeeded", "userID", userID, "scope", scopeID, "fields", len(patch))
	return nil
}

// GetDocument returns the user's form document, or an empty one.
func (s *SQLiteStore) GetDocument(userID string) (map[string]any, error) {
	var docJSON string
	err := s.db.QueryRow(`SELECT doc_json FROM form_documents WHERE user_id = ?`, userID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return make(map[string]any), nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetDocument failed", "error", err, "userID", userID)
		return nil, err
	}
	return unmarshalDocument(userID, docJSON)
}

// SaveDocument stores the user's form document.
func (s *SQLiteStore) SaveDocument(userID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO form_documents (user_id, doc_json, updated_at) VALUES (?, ?, ?)`,
		userID, string(data), time.Now())
	if err != nil {
		slog.Error("SQLiteStore.SaveDocument failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// GetFlowPointer returns the user's flow pointer, or nil if none exists.
func (s *SQLiteStore) GetFlowPointer(userID string) (*models.FlowPointer, error) {
	var p models.FlowPointer
	var qid sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, section_key, qid, state, updated_at FROM flow_pointers WHERE user_id = ?`,
		userID).Scan(&p.UserID, &p.SectionKey, &qid, &p.State, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetFlowPointer failed", "error", err, "userID", userID)
		return nil, err
	}
	p.QID = qid.String
	return &p, nil
}

// SaveFlowPointer creates or replaces the user's flow pointer.
func (s *SQLiteStore) SaveFlowPointer(p models.FlowPointer) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO flow_pointers (user_id, section_key, qid, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.SectionKey, nilIfEmpty(p.QID), string(p.State), p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveFlowPointer failed", "error", err, "userID", p.UserID)
		return err
	}
	slog.Debug("SQLiteStore.SaveFlowPointer succeeded", "userID", p.UserID, "section", p.SectionKey, "qid", p.QID)
	return nil
}

// DeleteFlowPointer removes the user's flow pointer.
func (s *SQLiteStore) DeleteFlowPointer(userID string) error {
	_, err := s.db.Exec(`DELETE FROM flow_pointers WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore.DeleteFlowPointer failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// AppendCompletion appends one record to the completion history.
func (s *SQLiteStore) AppendCompletion(rec models.CompletionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO flow_history (user_id, section_key, position, session_id, completed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.SectionKey, nilIfEmpty(rec.Position), rec.SessionID, rec.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore.AppendCompletion failed", "error", err, "userID", rec.UserID, "section", rec.SectionKey)
		return err
	}
	slog.Debug("SQLiteStore.AppendCompletion succeeded", "userID", rec.UserID, "section", rec.SectionKey)
	return nil
}

// GetCompletions returns the user's completion history in append order.
func (s *SQLiteStore) GetCompletions(userID string) ([]models.CompletionRecord, error) {
	rows, err := s.db.Query(
		`SELECT user_id, section_key, position, session_id, completed_at
		 FROM flow_history WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		slog.Error("SQLiteStore.GetCompletions query failed", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()
	return scanCompletionRows(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore closing database connection")
	return s.db.Close()
}
