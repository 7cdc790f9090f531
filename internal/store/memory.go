package store

import (
	"log/slog"
	"sync"

	"github.com/haroov/chocoflow/internal/models"
)

// InMemoryStore keeps all state in process memory. Used by tests and local
// development.
type InMemoryStore struct {
	mu          sync.RWMutex
	fields      map[string]map[string]map[string]models.Value // user → scope → field → value
	documents   map[string]map[string]any
	pointers    map[string]models.FlowPointer
	completions map[string][]models.CompletionRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		fields:      make(map[string]map[string]map[string]models.Value),
		documents:   make(map[string]map[string]any),
		pointers:    make(map[string]models.FlowPointer),
		completions: make(map[string][]models.CompletionRecord),
	}
}

// GetFields returns the field values collected under one scope.
func (s *InMemoryStore) GetFields(userID, scopeID string) (map[string]models.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Value)
	for k, v := range s.fields[userID][scopeID] {
		out[k] = v.Clone()
	}
	return out, nil
}

// GetAllFields returns every scope's field values for the user.
func (s *InMemoryStore) GetAllFields(userID string) (map[string]map[string]models.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]models.Value)
	for scope, fields := range s.fields[userID] {
		m := make(map[string]models.Value, len(fields))
		for k, v := range fields {
			m[k] = v.Clone()
		}
		out[scope] = m
	}
	return out, nil
}

// SetFields applies a patch to the user's fields under one scope.
func (s *InMemoryStore) SetFields(userID, scopeID string, patch map[string]models.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fields[userID] == nil {
		s.fields[userID] = make(map[string]map[string]models.Value)
	}
	if s.fields[userID][scopeID] == nil {
		s.fields[userID][scopeID] = make(map[string]models.Value)
	}
	applied := 0
	for k, v := range patch {
		if v.IsNull() {
			continue
		}
		s.fields[userID][scopeID][k] = v.Clone()
		applied++
	}
	slog.Debug("InMemoryStore.SetFields: patch applied", "userID", userID, "scope", scopeID, "fields", applied)
	return nil
}

// GetDocument returns the user's form document, or an empty one.
func (s *InMemoryStore) GetDocument(userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[userID]
	if !ok {
		return make(map[string]any), nil
	}
	return cloneAny(doc).(map[string]any), nil
}

// SaveDocument stores the user's form document.
func (s *InMemoryStore) SaveDocument(userID string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[userID] = cloneAny(doc).(map[string]any)
	return nil
}

// GetFlowPointer returns the user's flow pointer, or nil if none exists.
func (s *InMemoryStore) GetFlowPointer(userID string) (*models.FlowPointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pointers[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SaveFlowPointer creates or replaces the user's flow pointer.
func (s *InMemoryStore) SaveFlowPointer(p models.FlowPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[p.UserID] = p
	return nil
}

// DeleteFlowPointer removes the user's flow pointer.
func (s *InMemoryStore) DeleteFlowPointer(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pointers, userID)
	return nil
}

// AppendCompletion appends one record to the completion history.
func (s *InMemoryStore) AppendCompletion(rec models.CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[rec.UserID] = append(s.completions[rec.UserID], rec)
	return nil
}

// GetCompletions returns the user's completion history in append order.
func (s *InMemoryStore) GetCompletions(userID string) ([]models.CompletionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CompletionRecord, len(s.completions[userID]))
	copy(out, s.completions[userID])
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func cloneAny(x any) any {
	switch t := x.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = cloneAny(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = cloneAny(v)
		}
		return out
	default:
		return t
	}
}
