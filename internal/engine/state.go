// Package engine implements the questionnaire state machine: it applies
// catalog defaults, selects the next unanswered question, parses and validates
// raw answers, recomputes derived state, and detects section completion and
// handoff conditions. All operations are pure transforms over an in-memory
// State built fresh at the start of each turn.
package engine

import (
	"log/slog"

	"github.com/haroov/chocoflow/internal/docpath"
	"github.com/haroov/chocoflow/internal/expr"
	"github.com/haroov/chocoflow/internal/models"
)

// FieldOrigin records how a field obtained its current value. It replaces the
// historical defaulted-keys side table with a tri-state per field.
type FieldOrigin int

const (
	// OriginUnset means the field has never been written this conversation.
	OriginUnset FieldOrigin = iota
	// OriginDefaulted means the value came from a catalog-supplied default and
	// the field still counts as unanswered for question selection.
	OriginDefaulted
	// OriginAnswered means the value came from a real answer or a derived rule.
	OriginAnswered
)

// State holds the working questionnaire state for one conversation turn:
// the nested form document, the flat variable map the condition interpreter
// reads, the enabled-module set, and the per-field origin. It is constructed
// fresh each turn from persisted data and never retained across turns.
type State struct {
	Doc            map[string]any
	Vars           map[string]models.Value
	EnabledModules map[string]bool
	origins        map[string]FieldOrigin
}

// Engine drives one catalog. The catalog is consumed read-only.
type Engine struct {
	catalog *models.Catalog
}

// New creates an engine for the given catalog after validating it. Stage keys
// are stamped onto the questions so callers can tell stage transitions apart.
func New(catalog *models.Catalog) (*Engine, error) {
	for si := range catalog.Stages {
		for qi := range catalog.Stages[si].Questions {
			catalog.Stages[si].Questions[qi].StageKey = catalog.Stages[si].Key
		}
	}
	if err := catalog.Validate(); err != nil {
		slog.Error("engine.New: catalog validation failed", "catalog", catalog.Key, "error", err)
		return nil, err
	}
	slog.Debug("engine.New: engine created", "catalog", catalog.Key, "stages", len(catalog.Stages))
	return &Engine{catalog: catalog}, nil
}

// Catalog returns the catalog this engine drives.
func (e *Engine) Catalog() *models.Catalog { return e.catalog }

// NewState builds a turn-local State from persisted field values and the
// persisted form document. Catalog defaults are applied for absent keys and
// recorded as defaulted; derived scalars and enabled modules are recomputed.
func (e *Engine) NewState(persisted map[string]models.Value, doc map[string]any) *State {
	if doc == nil {
		doc = make(map[string]any)
	}
	s := &State{
		Doc:            doc,
		Vars:           make(map[string]models.Value, len(persisted)),
		EnabledModules: make(map[string]bool),
		origins:        make(map[string]FieldOrigin, len(persisted)),
	}
	for k, v := range persisted {
		if v.IsNull() {
			continue
		}
		s.Vars[k] = v.Clone()
		s.origins[k] = OriginAnswered
	}
	defaulted := 0
	for si := range e.catalog.Stages {
		for qi := range e.catalog.Stages[si].Questions {
			q := &e.catalog.Stages[si].Questions[qi]
			def, ok := q.DefaultValue()
			if !ok || q.FieldKey == "" {
				continue
			}
			if _, exists := s.Vars[q.FieldKey]; exists {
				continue
			}
			s.Vars[q.FieldKey] = def
			s.origins[q.FieldKey] = OriginDefaulted
			defaulted++
		}
	}
	e.recompute(s)
	slog.Debug("engine.NewState: state hydrated",
		"catalog", e.catalog.Key, "fields", len(s.Vars), "defaulted", defaulted, "enabledModules", len(s.EnabledModules))
	return s
}

// Origin returns how the given field obtained its current value.
func (s *State) Origin(key string) FieldOrigin { return s.origins[key] }

// answered reports whether key holds a real (non-defaulted) present value.
func (s *State) answered(key string) bool {
	return s.origins[key] == OriginAnswered && s.Vars[key].IsPresent()
}

// Flatten returns the variable map for persistence back to CollectedData.
func (s *State) Flatten() map[string]models.Value {
	out := make(map[string]models.Value, len(s.Vars))
	for k, v := range s.Vars {
		out[k] = v.Clone()
	}
	return out
}

// clone deep-copies the state so an answer can be applied tentatively and
// discarded on validation failure without touching the original.
func (s *State) clone() *State {
	ns := &State{
		Doc:            cloneDoc(s.Doc).(map[string]any),
		Vars:           make(map[string]models.Value, len(s.Vars)),
		EnabledModules: make(map[string]bool, len(s.EnabledModules)),
		origins:        make(map[string]FieldOrigin, len(s.origins)),
	}
	for k, v := range s.Vars {
		ns.Vars[k] = v.Clone()
	}
	for k, v := range s.EnabledModules {
		ns.EnabledModules[k] = v
	}
	for k, v := range s.origins {
		ns.origins[k] = v
	}
	return ns
}

func cloneDoc(x any) any {
	switch t := x.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = cloneDoc(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = cloneDoc(v)
		}
		return out
	default:
		return t
	}
}

// setField writes a value into both the flat variable map and the form
// document, marking the field as answered.
func (s *State) setField(q *models.Question, v models.Value) {
	if q.FieldKey != "" {
		s.Vars[q.FieldKey] = v.Clone()
		s.origins[q.FieldKey] = OriginAnswered
	}
	path := q.DocPath
	if path == "" {
		path = q.FieldKey
	}
	if path != "" {
		if err := docpath.Set(s.Doc, path, v.ToAny()); err != nil {
			slog.Error("engine.setField: document write failed", "qid", q.QID, "path", path, "error", err)
		}
	}
}

// recompute refreshes derived scalars and the enabled-module set. It runs
// after hydration and after every applied answer or derived rule.
func (e *Engine) recompute(s *State) {
	for _, ds := range e.catalog.DerivedScalars {
		sum := 0.0
		present := false
		for _, src := range ds.Sum {
			if n, ok := s.Vars[src].AsNumber(); ok {
				sum += n
				present = true
			}
		}
		if present {
			s.Vars[ds.TargetField] = models.NumberValue(sum)
		} else {
			delete(s.Vars, ds.TargetField)
		}
	}
	for _, m := range e.catalog.Modules {
		s.EnabledModules[m.Key] = expr.Evaluate(m.EnableIf, s.Vars)
	}
}
