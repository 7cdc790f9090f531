package engine

import (
	"fmt"
	"log/slog"

	"github.com/haroov/chocoflow/internal/docpath"
	"github.com/haroov/chocoflow/internal/expr"
	"github.com/haroov/chocoflow/internal/models"
)

// NextQuestion walks the catalog's stages in declared order and returns the
// first question that survives every filter, together with its stage. A nil
// question means the section is complete.
func (e *Engine) NextQuestion(s *State) (*models.Question, *models.Stage) {
	for si := range e.catalog.Stages {
		st := &e.catalog.Stages[si]
		if !expr.Evaluate(st.AskIf, s.Vars) {
			continue
		}
		for qi := range st.Questions {
			q := &st.Questions[qi]
			if e.eligible(s, st, q) {
				slog.Debug("engine.NextQuestion: selected", "catalog", e.catalog.Key, "stage", st.Key, "qid", q.QID)
				return q, st
			}
		}
	}
	slog.Debug("engine.NextQuestion: no question survives, section complete", "catalog", e.catalog.Key)
	return nil, nil
}

// eligible applies the per-question filters of the selection algorithm.
func (e *Engine) eligible(s *State, st *models.Stage, q *models.Question) bool {
	if q.Audience == models.AudienceInternal {
		return false
	}
	// File collection is out-of-band: surfaced by the attachments checklist,
	// never asked in the question flow.
	if q.InputKind == models.InputKindFile {
		return false
	}
	// Module gating does not apply to exempt stages: the identification stages
	// are what determine module selection in the first place.
	if q.ModuleKey != "" && !st.ModuleExempt && !s.EnabledModules[q.ModuleKey] {
		return false
	}
	if q.FieldKey != "" && s.answered(q.FieldKey) {
		return false
	}
	if q.AskIf != "" && !expr.Evaluate(q.AskIf, s.Vars) {
		return false
	}
	if q.RequiredIf != "" && !expr.Evaluate(q.RequiredIf, s.Vars) {
		return false
	}
	return true
}

// SectionComplete reports whether the catalog has no further question to ask
// or a handoff trigger forces early completion.
func (e *Engine) SectionComplete(s *State) bool {
	if len(e.FiredHandoffs(s)) > 0 {
		return true
	}
	q, _ := e.NextQuestion(s)
	return q == nil
}

// ApplyAnswer parses the raw answer for the question, writes it into the
// variable map and the document, reruns derived rules and production rules,
// and returns the typed value. On any failure the state is byte-for-byte
// unchanged: the answer is applied to a copy that is only committed when
// every rule passes.
func (e *Engine) ApplyAnswer(s *State, q *models.Question, raw string) (models.Value, error) {
	parsed, perr := ParseAnswer(q, raw)
	if perr != nil {
		slog.Debug("engine.ApplyAnswer: answer rejected", "qid", q.QID, "error", perr.Message)
		return models.NullValue(), perr
	}

	work := s.clone()
	work.setField(q, parsed)
	e.recompute(work)
	e.ApplyDerivedRules(work)
	if verr := e.validateProductionRules(work); verr != nil {
		slog.Debug("engine.ApplyAnswer: production rule rejected turn", "qid", q.QID, "error", verr.Error())
		return models.NullValue(), verr
	}

	*s = *work
	slog.Info("engine.ApplyAnswer: answer applied", "catalog", e.catalog.Key, "qid", q.QID, "field", q.FieldKey, "kind", parsed.Kind.String())
	return parsed, nil
}

// ApplyDerivedRules forces rule-computed field values whose set_when guard
// holds, writing through the mapped question's document path. Running it
// twice with unchanged inputs produces no new writes.
func (e *Engine) ApplyDerivedRules(s *State) {
	for i := range e.catalog.DerivedRules {
		r := &e.catalog.DerivedRules[i]
		if !expr.Evaluate(r.SetWhen, s.Vars) {
			continue
		}
		v := r.ResolvedValue()
		if cur, ok := s.Vars[r.TargetField]; ok && cur.Equal(v) && s.origins[r.TargetField] == OriginAnswered {
			continue
		}
		s.Vars[r.TargetField] = v
		s.origins[r.TargetField] = OriginAnswered
		path := r.TargetField
		if r.MapsToQID != "" {
			if mq := e.catalog.FindQuestion(r.MapsToQID); mq != nil && mq.DocPath != "" {
				path = mq.DocPath
			}
		}
		if err := docpath.Set(s.Doc, path, v.ToAny()); err != nil {
			slog.Error("engine.ApplyDerivedRules: document write failed", "field", r.TargetField, "path", path, "error", err)
		}
		slog.Debug("engine.ApplyDerivedRules: rule fired", "field", r.TargetField, "when", r.SetWhen)
	}
	e.recompute(s)
}

// validateProductionRules checks the cross-field numeric invariants whose
// guard expressions hold. The first violation is returned and blocks the turn.
func (e *Engine) validateProductionRules(s *State) *models.ValidationError {
	for i := range e.catalog.ProductionRules {
		r := &e.catalog.ProductionRules[i]
		if r.When != "" && !expr.Evaluate(r.When, s.Vars) {
			continue
		}
		v, ok := s.Vars[r.Field]
		if !ok || !v.IsPresent() {
			continue
		}
		n, numeric := v.AsNumber()
		if !numeric {
			continue
		}
		if r.Min != nil && n < *r.Min {
			return e.ruleViolation(r, fmt.Sprintf("%s must be at least %s", r.Field, formatNumber(*r.Min)))
		}
		if r.Max != nil && n > *r.Max {
			return e.ruleViolation(r, fmt.Sprintf("%s must be at most %s", r.Field, formatNumber(*r.Max)))
		}
		if r.MultipleOf != nil && *r.MultipleOf > 0 && !isMultipleOf(n, *r.MultipleOf) {
			return e.ruleViolation(r, fmt.Sprintf("%s must be a multiple of %s", r.Field, formatNumber(*r.MultipleOf)))
		}
	}
	return nil
}

func (e *Engine) ruleViolation(r *models.ProductionRule, fallback string) *models.ValidationError {
	msg := r.Message
	if msg == "" {
		msg = fallback
	}
	return &models.ValidationError{RuleKey: r.Key, Field: r.Field, Message: msg}
}

// PendingAttachments returns the checklist items whose condition holds and
// whose target document path is still unanswered. Purely derived.
func (e *Engine) PendingAttachments(s *State) []models.AttachmentItem {
	var pending []models.AttachmentItem
	for _, item := range e.catalog.Attachments {
		if item.When != "" && !expr.Evaluate(item.When, s.Vars) {
			continue
		}
		if v, ok := docpath.Get(s.Doc, item.DocPath); ok && !isEmptyDocValue(v) {
			continue
		}
		pending = append(pending, item)
	}
	return pending
}

func isEmptyDocValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// FiredHandoffs returns every handoff trigger whose condition currently
// holds. One or more fired triggers force section completion regardless of
// remaining unanswered questions.
func (e *Engine) FiredHandoffs(s *State) []models.Handoff {
	var fired []models.Handoff
	for _, t := range e.catalog.HandoffTriggers {
		if t.When == "" || !expr.Evaluate(t.When, s.Vars) {
			continue
		}
		fired = append(fired, models.Handoff{TriggerKey: t.Key, Reason: t.Reason, Action: t.Action})
	}
	if len(fired) > 0 {
		slog.Info("engine.FiredHandoffs: handoff triggers fired", "catalog", e.catalog.Key, "count", len(fired))
	}
	return fired
}
