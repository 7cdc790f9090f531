// Package models defines flow pointer and history types to avoid circular imports.
package models

import "time"

// PointerState represents where the turn-level state machine stands.
type PointerState string

// Pointer state constants.
const (
	// PointerStateActive means the user is inside a section answering questions.
	PointerStateActive PointerState = "ACTIVE"
	// PointerStateSectionComplete means the active section finished this turn.
	PointerStateSectionComplete PointerState = "SECTION_COMPLETE"
	// PointerStateRouted means the router has selected the next section.
	PointerStateRouted PointerState = "ROUTED"
	// PointerStateTerminal means every eligible section is complete.
	PointerStateTerminal PointerState = "TERMINAL"
)

// Reserved CollectedData keys owned by the engine rather than any catalog.
const (
	// CompletedProcessesKey stores the append-only ordered set of completed
	// section keys inside CollectedData.
	CompletedProcessesKey = "completed_processes"
)

// FlowPointer records, per user, the active section and position within it.
// It is mutated exclusively by the turn-level state machine.
type FlowPointer struct {
	UserID     string       `json:"user_id"`
	SectionKey string       `json:"section_key"`
	QID        string       `json:"qid"`
	State      PointerState `json:"state"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CompletionRecord is one append-only entry of the flow history log, written
// once per completed stage and never mutated.
type CompletionRecord struct {
	UserID      string    `json:"user_id"`
	SectionKey  string    `json:"section_key"`
	Position    string    `json:"position"`
	SessionID   string    `json:"session_id"`
	CompletedAt time.Time `json:"completed_at"`
}
