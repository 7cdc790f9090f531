package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haroov/chocoflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanFieldRows collects (field_key, value_json) rows into a value map.
func scanFieldRows(rows *sql.Rows) (map[string]models.Value, error) {
	out := make(map[string]models.Value)
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("scan field row failed: %w", err)
		}
		var v models.Value
		if err := json.Unmarshal([]byte(valueJSON), &v); err != nil {
			slog.Error("store.scanFieldRows: stored value is not valid JSON, skipping", "field", key, "error", err)
			continue
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field rows failed: %w", err)
	}
	return out, nil
}

// scanScopedFieldRows collects (scope_id, field_key, value_json) rows into a
// scope-keyed value map.
func scanScopedFieldRows(rows *sql.Rows) (map[string]map[string]models.Value, error) {
	out := make(map[string]map[string]models.Value)
	for rows.Next() {
		var scope, key, valueJSON string
		if err := rows.Scan(&scope, &key, &valueJSON); err != nil {
			return nil, fmt.Errorf("scan scoped field row failed: %w", err)
		}
		var v models.Value
		if err := json.Unmarshal([]byte(valueJSON), &v); err != nil {
			slog.Error("store.scanScopedFieldRows: stored value is not valid JSON, skipping", "scope", scope, "field", key, "error", err)
			continue
		}
		if out[scope] == nil {
			out[scope] = make(map[string]models.Value)
		}
		out[scope][key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scoped field rows failed: %w", err)
	}
	return out, nil
}

// scanCompletionRows collects completion history rows in query order.
func scanCompletionRows(rows *sql.Rows) ([]models.CompletionRecord, error) {
	var out []models.CompletionRecord
	for rows.Next() {
		var rec models.CompletionRecord
		var position sql.NullString
		if err := rows.Scan(&rec.UserID, &rec.SectionKey, &position, &rec.SessionID, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completion row failed: %w", err)
		}
		rec.Position = position.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion rows failed: %w", err)
	}
	return out, nil
}

// unmarshalDocument decodes a stored form document, tolerating corruption by
// returning an empty document rather than failing the turn.
func unmarshalDocument(userID, docJSON string) (map[string]any, error) {
	if docJSON == "" {
		return make(map[string]any), nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		slog.Error("store.unmarshalDocument: stored document is not valid JSON, starting empty", "userID", userID, "error", err)
		return make(map[string]any), nil
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}
