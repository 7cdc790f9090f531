package models

import (
	"errors"
	"fmt"
)

// DataType declares how a question's raw answer is parsed.
type DataType string

const (
	// DataTypeString accepts the raw answer as-is.
	DataTypeString DataType = "string"
	// DataTypeNumber parses a numeric answer and applies numeric constraints.
	DataTypeNumber DataType = "number"
	// DataTypeBoolean parses an affirmative/negative answer.
	DataTypeBoolean DataType = "boolean"
	// DataTypeEnum resolves the answer against the option list.
	DataTypeEnum DataType = "enum"
	// DataTypeArray resolves a delimited multi-select against the option list.
	DataTypeArray DataType = "array"
	// DataTypeDate accepts a pre-normalized date string as-is.
	DataTypeDate DataType = "date"
)

// IsValidDataType checks if the given data type is supported.
func IsValidDataType(dt DataType) bool {
	switch dt {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeEnum, DataTypeArray, DataTypeDate:
		return true
	default:
		return false
	}
}

// InputKind marks questions collected through a channel other than the
// question-and-answer flow.
type InputKind string

const (
	// InputKindDefault is the ordinary ask-and-answer collection mode.
	InputKindDefault InputKind = ""
	// InputKindFile marks out-of-band attachment collection; such questions are
	// surfaced by the pending-attachments checklist, never asked in the flow.
	InputKindFile InputKind = "file"
	// InputKindTable marks multi-row tabular collection handled by the caller.
	InputKindTable InputKind = "table"
	// InputKindFreeform marks open text collected without validation.
	InputKindFreeform InputKind = "freeform"
)

// Audience restricts who a question is addressed to.
type Audience string

const (
	// AudienceCustomer marks questions asked of the end user (the default).
	AudienceCustomer Audience = "customer"
	// AudienceInternal marks questions filled by operators, skipped by the flow.
	AudienceInternal Audience = "internal"
)

// Option is one selectable choice for enum/array questions.
type Option struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Display returns the option label, falling back to the value.
func (o Option) Display() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Value
}

// NumericConstraints bounds a numeric answer. Nil fields are unconstrained.
type NumericConstraints struct {
	Min  *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max  *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Step *float64 `yaml:"step,omitempty" json:"step,omitempty"`
}

// Question is one entry in the question catalog.
type Question struct {
	QID        string              `yaml:"qid" json:"qid"`
	StageKey   string              `yaml:"-" json:"stage_key"` // set by the loader from the enclosing stage
	FieldKey   string              `yaml:"field" json:"field"`
	Prompt     string              `yaml:"prompt" json:"prompt"`
	DataType   DataType            `yaml:"type" json:"type"`
	InputKind  InputKind           `yaml:"input,omitempty" json:"input,omitempty"`
	Audience   Audience            `yaml:"audience,omitempty" json:"audience,omitempty"`
	Options    []Option            `yaml:"options,omitempty" json:"options,omitempty"`
	Constraint *NumericConstraints `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	AskIf      string              `yaml:"ask_if,omitempty" json:"ask_if,omitempty"`
	RequiredIf string              `yaml:"required_if,omitempty" json:"required_if,omitempty"`
	ModuleKey  string              `yaml:"module,omitempty" json:"module,omitempty"`
	DocPath    string              `yaml:"doc_path,omitempty" json:"doc_path,omitempty"`
	Default    any                 `yaml:"default,omitempty" json:"default,omitempty"`
}

// DefaultValue returns the catalog-supplied default as a Value, if declared.
func (q *Question) DefaultValue() (Value, bool) {
	if q.Default == nil {
		return NullValue(), false
	}
	return ValueFromAny(q.Default), true
}

// Stage is an ordered, gated group of questions forming one logical phase of
// the conversation.
type Stage struct {
	Key          string     `yaml:"key" json:"key"`
	Title        string     `yaml:"title,omitempty" json:"title,omitempty"`
	AskIf        string     `yaml:"ask_if,omitempty" json:"ask_if,omitempty"`
	Intro        string     `yaml:"intro,omitempty" json:"intro,omitempty"`
	Summary      string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	ModuleExempt bool       `yaml:"module_exempt,omitempty" json:"module_exempt,omitempty"`
	Questions    []Question `yaml:"questions" json:"questions"`
}

// Module is a named question group whose visibility is gated by an expression.
type Module struct {
	Key      string `yaml:"key" json:"key"`
	EnableIf string `yaml:"enable_if" json:"enable_if"`
}

// DerivedRule computes a field's value from other fields instead of asking.
type DerivedRule struct {
	TargetField string `yaml:"field" json:"field"`
	SetWhen     string `yaml:"set_when" json:"set_when"`
	Value       any    `yaml:"value" json:"value"`
	MapsToQID   string `yaml:"maps_to,omitempty" json:"maps_to,omitempty"`
}

// ResolvedValue returns the rule's forced value as a Value.
func (r *DerivedRule) ResolvedValue() Value { return ValueFromAny(r.Value) }

// DerivedScalar recomputes an aggregate field from other numeric fields.
// Absent or non-numeric source fields contribute zero.
type DerivedScalar struct {
	TargetField string   `yaml:"field" json:"field"`
	Sum         []string `yaml:"sum" json:"sum"`
}

// ProductionRule is a cross-field numeric invariant applied when its guard
// expression holds. A violation blocks acceptance of the whole turn.
type ProductionRule struct {
	Key        string   `yaml:"key" json:"key"`
	When       string   `yaml:"when,omitempty" json:"when,omitempty"`
	Field      string   `yaml:"field" json:"field"`
	Min        *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max        *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	MultipleOf *float64 `yaml:"multiple_of,omitempty" json:"multiple_of,omitempty"`
	Message    string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// AttachmentItem is one entry of the pending-attachments checklist.
type AttachmentItem struct {
	Key     string `yaml:"key" json:"key"`
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	When    string `yaml:"when,omitempty" json:"when,omitempty"`
	DocPath string `yaml:"doc_path" json:"doc_path"`
}

// HandoffTrigger forces early section completion for cases requiring manual or
// alternate handling.
type HandoffTrigger struct {
	Key    string `yaml:"key" json:"key"`
	When   string `yaml:"when" json:"when"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
	Action string `yaml:"action,omitempty" json:"action,omitempty"`
}

// Catalog is the versioned, declarative definition of one section's stages,
// questions, rules and triggers. The engine consumes it read-only.
type Catalog struct {
	Key             string           `yaml:"key" json:"key"`
	Version         string           `yaml:"version,omitempty" json:"version,omitempty"`
	Stages          []Stage          `yaml:"stages" json:"stages"`
	Modules         []Module         `yaml:"modules,omitempty" json:"modules,omitempty"`
	DerivedRules    []DerivedRule    `yaml:"derived_rules,omitempty" json:"derived_rules,omitempty"`
	DerivedScalars  []DerivedScalar  `yaml:"derived_scalars,omitempty" json:"derived_scalars,omitempty"`
	ProductionRules []ProductionRule `yaml:"production_rules,omitempty" json:"production_rules,omitempty"`
	Attachments     []AttachmentItem `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	HandoffTriggers []HandoffTrigger `yaml:"handoff_triggers,omitempty" json:"handoff_triggers,omitempty"`
}

// FindQuestion returns the question with the given qid, or nil.
func (c *Catalog) FindQuestion(qid string) *Question {
	for si := range c.Stages {
		for qi := range c.Stages[si].Questions {
			if c.Stages[si].Questions[qi].QID == qid {
				return &c.Stages[si].Questions[qi]
			}
		}
	}
	return nil
}

// Process is one routable section of the overall conversation.
type Process struct {
	Key   string `yaml:"key" json:"key"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
	AskIf string `yaml:"ask_if,omitempty" json:"ask_if,omitempty"`
	Order int    `yaml:"order,omitempty" json:"order,omitempty"`
}

// ProcessCatalog is the fixed, ordered list of sections the router walks.
type ProcessCatalog struct {
	Processes []Process `yaml:"processes" json:"processes"`
}

// Catalog validation errors.
var (
	ErrCatalogNoStages     = errors.New("catalog has no stages")
	ErrDuplicateQuestionID = errors.New("duplicate question id")
	ErrDuplicateFieldKey   = errors.New("duplicate field key within stage")
	ErrUnknownModuleKey    = errors.New("question references unknown module")
	ErrEmptyProcessCatalog = errors.New("process catalog has no processes")
)

// Validate performs structural validation of the catalog.
func (c *Catalog) Validate() error {
	if len(c.Stages) == 0 {
		return ErrCatalogNoStages
	}
	modules := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		modules[m.Key] = true
	}
	qids := make(map[string]bool)
	for _, st := range c.Stages {
		fields := make(map[string]bool)
		for _, q := range st.Questions {
			if q.QID == "" {
				return fmt.Errorf("stage %s: question without qid", st.Key)
			}
			if qids[q.QID] {
				return fmt.Errorf("%w: %s", ErrDuplicateQuestionID, q.QID)
			}
			qids[q.QID] = true
			if q.FieldKey != "" {
				if fields[q.FieldKey] {
					return fmt.Errorf("%w: %s in stage %s", ErrDuplicateFieldKey, q.FieldKey, st.Key)
				}
				fields[q.FieldKey] = true
			}
			if !IsValidDataType(q.DataType) {
				return fmt.Errorf("question %s: invalid data type %q", q.QID, q.DataType)
			}
			if q.ModuleKey != "" && !modules[q.ModuleKey] {
				return fmt.Errorf("%w: question %s module %s", ErrUnknownModuleKey, q.QID, q.ModuleKey)
			}
		}
	}
	return nil
}

// Validate performs structural validation of the process catalog.
func (pc *ProcessCatalog) Validate() error {
	if len(pc.Processes) == 0 {
		return ErrEmptyProcessCatalog
	}
	seen := make(map[string]bool, len(pc.Processes))
	for _, p := range pc.Processes {
		if p.Key == "" {
			return errors.New("process without key")
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate process key: %s", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}
