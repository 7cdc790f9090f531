package flow

import (
	"context"

	"github.com/haroov/chocoflow/internal/models"
)

// SectionAttachments lists the pending attachment checklist for one section.
type SectionAttachments struct {
	SectionKey string                  `json:"section_key"`
	Items      []models.AttachmentItem `json:"items"`
}

// Progress summarizes where the user stands across the whole flow.
type Progress struct {
	Pointer   *models.FlowPointer       `json:"pointer,omitempty"`
	Completed []string                  `json:"completed"`
	Remaining []string                  `json:"remaining"`
	History   []models.CompletionRecord `json:"history"`
	Done      bool                      `json:"done"`
}

// Attachments returns the pending attachment checklist for every section the
// user has entered or completed, in process order. Purely derived; calling it
// never mutates state.
func (p *Processor) Attachments(ctx context.Context, userID string) ([]SectionAttachments, error) {
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completed, err := p.completedProcesses(userID)
	if err != nil {
		return nil, err
	}
	ptr, err := p.store.GetFlowPointer(userID)
	if err != nil {
		return nil, err
	}

	var out []SectionAttachments
	for _, proc := range p.router.Processes() {
		active := ptr != nil && ptr.SectionKey == proc.Key
		if !completed[proc.Key] && !active {
			continue
		}
		eng := p.engines[proc.Key]
		st, err := p.hydrate(userID, proc.Key, eng)
		if err != nil {
			return nil, err
		}
		if items := eng.PendingAttachments(st); len(items) > 0 {
			out = append(out, SectionAttachments{SectionKey: proc.Key, Items: items})
		}
	}
	return out, nil
}

// UserProgress reports the user's position, completed and remaining sections,
// and the completion history.
func (p *Processor) UserProgress(ctx context.Context, userID string) (*Progress, error) {
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completed, err := p.completedProcesses(userID)
	if err != nil {
		return nil, err
	}
	ptr, err := p.store.GetFlowPointer(userID)
	if err != nil {
		return nil, err
	}
	history, err := p.store.GetCompletions(userID)
	if err != nil {
		return nil, err
	}

	prog := &Progress{Pointer: ptr, Completed: []string{}, Remaining: []string{}, History: history}
	for _, proc := range p.router.Processes() {
		if completed[proc.Key] {
			prog.Completed = append(prog.Completed, proc.Key)
		} else {
			prog.Remaining = append(prog.Remaining, proc.Key)
		}
	}
	prog.Done = ptr != nil && ptr.State == models.PointerStateTerminal
	return prog, nil
}
