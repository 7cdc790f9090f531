package models

import (
	"errors"
	"fmt"
)

// TurnKind discriminates the outcome of one processed turn.
type TurnKind string

const (
	// TurnPrompt means the caller should present the next question.
	TurnPrompt TurnKind = "prompt"
	// TurnHandoff means a handoff trigger fired and control leaves the flow.
	TurnHandoff TurnKind = "handoff"
	// TurnTerminal means every eligible section is complete.
	TurnTerminal TurnKind = "terminal"
	// TurnReprompt means the answer was rejected and the same question should
	// be asked again with a clarifying message.
	TurnReprompt TurnKind = "reprompt"
)

// Handoff describes a fired handoff trigger.
type Handoff struct {
	TriggerKey string `json:"trigger_key"`
	Reason     string `json:"reason,omitempty"`
	Action     string `json:"action,omitempty"`
}

// TurnResult is what the turn-level state machine returns to the caller.
type TurnResult struct {
	Kind         TurnKind `json:"kind"`
	SectionKey   string   `json:"section_key,omitempty"`
	QID          string   `json:"qid,omitempty"`
	SectionTitle string   `json:"section_title,omitempty"`
	SectionIntro string   `json:"section_intro,omitempty"`
	// StageSummary carries the closing text of the stage the user just
	// finished, emitted once on the turn that leaves the stage.
	StageSummary string   `json:"stage_summary,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	Options      []string `json:"options,omitempty"`
	// Clarification carries the user-facing re-prompt reason on TurnReprompt.
	Clarification string   `json:"clarification,omitempty"`
	Handoffs      []Handoff `json:"handoffs,omitempty"`
}

// ParseError reports that a raw answer did not match the question's declared
// type or constraints. Recoverable: the caller re-prompts the same question.
type ParseError struct {
	QID      string
	FieldKey string
	// Message is user-facing and names what to fix.
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("answer for %s rejected: %s", e.QID, e.Message)
}

// ValidationError reports a violated production rule. Recoverable: the turn is
// discarded and the caller re-prompts.
type ValidationError struct {
	RuleKey string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("production rule %s violated on %s: %s", e.RuleKey, e.Field, e.Message)
}

// ErrCatalogNotFound indicates a deployment defect, not bad user input, and
// propagates to the caller as a failure.
var ErrCatalogNotFound = errors.New("no catalog registered for section")
