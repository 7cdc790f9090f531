// Package router selects the next eligible, incomplete section of the
// conversation. It walks the fixed, ordered process catalog; the result is
// fully determined by the completed set and the variable map.
package router

import (
	"log/slog"
	"sort"

	"github.com/haroov/chocoflow/internal/expr"
	"github.com/haroov/chocoflow/internal/models"
)

// Router walks an ordered process catalog.
type Router struct {
	processes []models.Process
}

// New creates a router over the given process catalog. Processes with an
// explicit order are sorted by it; ties and zero orders keep declaration
// order, so the walk is stable.
func New(pc *models.ProcessCatalog) (*Router, error) {
	if err := pc.Validate(); err != nil {
		slog.Error("router.New: process catalog invalid", "error", err)
		return nil, err
	}
	ordered := make([]models.Process, len(pc.Processes))
	copy(ordered, pc.Processes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})
	return &Router{processes: ordered}, nil
}

// Processes returns the fixed walk order.
func (r *Router) Processes() []models.Process { return r.processes }

// Next returns the first process, in catalog order, that is not already
// completed and whose eligibility expression holds against vars. done is true
// when no such process remains: every process is either completed or gated
// off. For identical inputs the result is always identical.
func (r *Router) Next(completed map[string]bool, vars map[string]models.Value) (next string, done bool) {
	for _, p := range r.processes {
		if completed[p.Key] {
			continue
		}
		if !expr.Evaluate(p.AskIf, vars) {
			slog.Debug("router.Next: process ineligible", "process", p.Key, "askIf", p.AskIf)
			continue
		}
		slog.Debug("router.Next: selected process", "process", p.Key)
		return p.Key, false
	}
	slog.Debug("router.Next: no eligible incomplete process, conversation complete")
	return "", true
}
