// Package flow implements the turn-level state machine. The Processor owns
// the per-user flow pointer: it routes users between sections, hydrates the
// questionnaire state at the start of every turn, applies answers through the
// engine, and persists the results. State between turns lives only in the
// store; the Processor itself is stateless apart from per-user locks.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haroov/chocoflow/internal/engine"
	"github.com/haroov/chocoflow/internal/models"
	"github.com/haroov/chocoflow/internal/router"
	"github.com/haroov/chocoflow/internal/store"
)

// flowScope is the reserved CollectedData scope owned by the Processor. It
// holds bookkeeping keys such as the completed-process list and never collides
// with a section scope because section keys come from catalogs.
const flowScope = "_flow"

// Processor coordinates routing, hydration, answering and persistence for one
// deployment's set of catalogs.
type Processor struct {
	engines map[string]*engine.Engine
	router  *router.Router
	store   store.Store

	// mu guards locks and sessions; the per-user mutexes in locks serialize
	// turns for one user only, so turns for different users run in parallel.
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]string
}

// NewProcessor builds a Processor from loaded catalogs, the ordered process
// catalog and a store. Every process must have a catalog with a matching key.
func NewProcessor(catalogs map[string]*models.Catalog, pc *models.ProcessCatalog, st store.Store) (*Processor, error) {
	r, err := router.New(pc)
	if err != nil {
		return nil, err
	}
	engines := make(map[string]*engine.Engine, len(catalogs))
	for key, c := range catalogs {
		eng, err := engine.New(c)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", key, err)
		}
		engines[key] = eng
	}
	for _, p := range r.Processes() {
		if _, ok := engines[p.Key]; !ok {
			return nil, fmt.Errorf("%w: process %s", models.ErrCatalogNotFound, p.Key)
		}
	}
	slog.Info("Processor.NewProcessor: processor ready", "catalogs", len(engines), "processes", len(r.Processes()))
	return &Processor{
		engines:  engines,
		router:   r,
		store:    st,
		sessions: make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// userLock returns the mutex serializing turns for one user. Concurrent turns
// for different users proceed in parallel.
func (p *Processor) userLock(userID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[userID] = l
	}
	return l
}

// ProcessTurn consumes one inbound message for the user and returns what to
// present next. An empty answer is a prompt request: it never mutates state
// and simply replays the current question (or routes a brand-new user in).
func (p *Processor) ProcessTurn(ctx context.Context, userID, answer string) (models.TurnResult, error) {
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return models.TurnResult{}, err
	}

	ptr, err := p.store.GetFlowPointer(userID)
	if err != nil {
		return models.TurnResult{}, fmt.Errorf("failed to load flow pointer: %w", err)
	}
	if ptr == nil {
		slog.Info("Processor.ProcessTurn: new user, routing", "userID", userID)
		return p.route(userID)
	}
	if ptr.State == models.PointerStateTerminal {
		slog.Debug("Processor.ProcessTurn: user already terminal", "userID", userID)
		return terminalResult(), nil
	}
	if ptr.State == models.PointerStateSectionComplete || ptr.State == models.PointerStateRouted {
		// A previous turn recorded completion but did not finish routing.
		return p.route(userID)
	}

	eng, ok := p.engines[ptr.SectionKey]
	if !ok {
		// The pointer references a section that no longer exists, for example
		// after a catalog redeployment. Discard it and route fresh.
		slog.Warn("Processor.ProcessTurn: pointer references unknown section, rerouting",
			"userID", userID, "section", ptr.SectionKey)
		if err := p.store.DeleteFlowPointer(userID); err != nil {
			return models.TurnResult{}, err
		}
		return p.route(userID)
	}

	st, err := p.hydrate(userID, ptr.SectionKey, eng)
	if err != nil {
		return models.TurnResult{}, err
	}

	next, stage := eng.NextQuestion(st)
	if next == nil {
		// The section completed out from under the pointer, for example via
		// fields shared from another section. Close it and move on.
		return p.completeSection(userID, ptr.SectionKey, eng, st, "")
	}

	if next.QID != ptr.QID {
		// Stale pointer. The answer was meant for a question that is no longer
		// next, so it is discarded and the fresh question is asked instead.
		slog.Warn("Processor.ProcessTurn: stale pointer, answer discarded",
			"userID", userID, "pointerQID", ptr.QID, "nextQID", next.QID)
		if err := p.savePointer(userID, ptr.SectionKey, next.QID, models.PointerStateActive); err != nil {
			return models.TurnResult{}, err
		}
		return promptResult(eng, stage, next, ptr.QID == ""), nil
	}

	if answer == "" {
		return promptResult(eng, stage, next, false), nil
	}

	if _, err := eng.ApplyAnswer(st, next, answer); err != nil {
		if msg, recoverable := clarification(err); recoverable {
			res := promptResult(eng, stage, next, false)
			res.Kind = models.TurnReprompt
			res.Clarification = msg
			return res, nil
		}
		return models.TurnResult{}, err
	}

	if err := p.persist(userID, ptr.SectionKey, st); err != nil {
		return models.TurnResult{}, err
	}

	if handoffs := eng.FiredHandoffs(st); len(handoffs) > 0 {
		res, err := p.completeSection(userID, ptr.SectionKey, eng, st, stage.Summary)
		if err != nil {
			return models.TurnResult{}, err
		}
		res.Kind = models.TurnHandoff
		res.Handoffs = handoffs
		return res, nil
	}

	nq, nstage := eng.NextQuestion(st)
	if nq == nil {
		return p.completeSection(userID, ptr.SectionKey, eng, st, stage.Summary)
	}
	if err := p.savePointer(userID, ptr.SectionKey, nq.QID, models.PointerStateActive); err != nil {
		return models.TurnResult{}, err
	}
	res := promptResult(eng, nstage, nq, nstage.Key != next.StageKey)
	if nstage.Key != next.StageKey {
		res.StageSummary = stage.Summary
	}
	return res, nil
}

// clarification extracts the user-facing message from a recoverable answer
// rejection. Anything else is a real failure.
func clarification(err error) (string, bool) {
	switch e := err.(type) {
	case *models.ParseError:
		return e.Message, true
	case *models.ValidationError:
		return e.Message, true
	default:
		return "", false
	}
}

// hydrate builds the engine state for one section from persisted data. Field
// values from every scope are overlaid with the active section's scope taking
// precedence, so sections see each other's shared identification fields.
func (p *Processor) hydrate(userID, sectionKey string, eng *engine.Engine) (*engine.State, error) {
	vars, err := p.overlay(userID, sectionKey)
	if err != nil {
		return nil, err
	}
	doc, err := p.store.GetDocument(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return eng.NewState(vars, doc), nil
}

// overlay merges the user's fields across scopes. Non-active scopes are
// applied in sorted order for determinism; the active scope wins conflicts.
func (p *Processor) overlay(userID, activeScope string) (map[string]models.Value, error) {
	all, err := p.store.GetAllFields(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields: %w", err)
	}
	scopes := make([]string, 0, len(all))
	for scope := range all {
		if scope != activeScope {
			scopes = append(scopes, scope)
		}
	}
	sort.Strings(scopes)
	merged := make(map[string]models.Value)
	for _, scope := range scopes {
		for k, v := range all[scope] {
			merged[k] = v
		}
	}
	for k, v := range all[activeScope] {
		merged[k] = v
	}
	return merged, nil
}

// persist writes the turn's state back: the flat field values under the
// section's scope and the nested form document.
func (p *Processor) persist(userID, sectionKey string, st *engine.State) error {
	if err := p.store.SetFields(userID, sectionKey, st.Flatten()); err != nil {
		return fmt.Errorf("failed to persist fields: %w", err)
	}
	if err := p.store.SaveDocument(userID, st.Doc); err != nil {
		return fmt.Errorf("failed to persist document: %w", err)
	}
	return nil
}

// completeSection closes the active section: it re-checks completion against
// the freshly hydrated state, appends the history record, marks the section
// in the completed-process list, and routes to the next section. A non-empty
// stageSummary is the closing text of the stage the user just finished and is
// carried onto the routed result.
func (p *Processor) completeSection(userID, sectionKey string, eng *engine.Engine, st *engine.State, stageSummary string) (models.TurnResult, error) {
	if !eng.SectionComplete(st) {
		// Completion no longer holds against current state. Fall back to asking
		// the next question instead of recording a premature completion.
		q, stage := eng.NextQuestion(st)
		if q != nil {
			slog.Warn("Processor.completeSection: completion guard failed, resuming section",
				"userID", userID, "section", sectionKey, "qid", q.QID)
			if err := p.savePointer(userID, sectionKey, q.QID, models.PointerStateActive); err != nil {
				return models.TurnResult{}, err
			}
			return promptResult(eng, stage, q, false), nil
		}
	}

	completed, err := p.completedProcesses(userID)
	if err != nil {
		return models.TurnResult{}, err
	}
	if !completed[sectionKey] {
		rec := models.CompletionRecord{
			UserID:      userID,
			SectionKey:  sectionKey,
			SessionID:   p.sessionID(userID),
			CompletedAt: time.Now(),
		}
		if err := p.store.AppendCompletion(rec); err != nil {
			return models.TurnResult{}, fmt.Errorf("failed to append completion: %w", err)
		}
		if err := p.markCompleted(userID, sectionKey); err != nil {
			return models.TurnResult{}, err
		}
		slog.Info("Processor.completeSection: section complete", "userID", userID, "section", sectionKey)
	}
	p.dropSession(userID)
	// Persist the intermediate state so a crash before routing finishes is
	// recovered on the next turn instead of replaying the section.
	if err := p.savePointer(userID, sectionKey, "", models.PointerStateSectionComplete); err != nil {
		return models.TurnResult{}, err
	}
	res, err := p.route(userID)
	if err != nil {
		return models.TurnResult{}, err
	}
	res.StageSummary = stageSummary
	return res, nil
}

// route selects the next incomplete eligible section and positions the user
// at its first question. Sections with nothing to ask are recorded complete
// and skipped. When no section remains the pointer becomes terminal.
func (p *Processor) route(userID string) (models.TurnResult, error) {
	for {
		completed, err := p.completedProcesses(userID)
		if err != nil {
			return models.TurnResult{}, err
		}
		vars, err := p.overlay(userID, flowScope)
		if err != nil {
			return models.TurnResult{}, err
		}
		nextKey, done := p.router.Next(completed, vars)
		if done {
			if err := p.savePointer(userID, "", "", models.PointerStateTerminal); err != nil {
				return models.TurnResult{}, err
			}
			slog.Info("Processor.route: all sections complete", "userID", userID)
			return terminalResult(), nil
		}

		eng := p.engines[nextKey]
		st, err := p.hydrate(userID, nextKey, eng)
		if err != nil {
			return models.TurnResult{}, err
		}
		q, stage := eng.NextQuestion(st)
		if q == nil {
			// Shared fields already satisfy this section; record and move on.
			slog.Info("Processor.route: section satisfied without questions", "userID", userID, "section", nextKey)
			rec := models.CompletionRecord{
				UserID:      userID,
				SectionKey:  nextKey,
				SessionID:   p.sessionID(userID),
				CompletedAt: time.Now(),
			}
			if err := p.store.AppendCompletion(rec); err != nil {
				return models.TurnResult{}, fmt.Errorf("failed to append completion: %w", err)
			}
			if err := p.markCompleted(userID, nextKey); err != nil {
				return models.TurnResult{}, err
			}
			p.dropSession(userID)
			continue
		}
		if err := p.savePointer(userID, nextKey, q.QID, models.PointerStateActive); err != nil {
			return models.TurnResult{}, err
		}
		slog.Info("Processor.route: routed", "userID", userID, "section", nextKey, "qid", q.QID)
		return promptResult(eng, stage, q, true), nil
	}
}

// sessionID returns the session identifier for the user's current section
// visit, minting one on first use and discarded when the section closes.
func (p *Processor) sessionID(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.sessions[userID]; ok {
		return id
	}
	id := uuid.NewString()
	p.sessions[userID] = id
	return id
}

func (p *Processor) dropSession(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, userID)
}

// completedProcesses reads the completed-section set from the reserved scope.
func (p *Processor) completedProcesses(userID string) (map[string]bool, error) {
	fields, err := p.store.GetFields(userID, flowScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow scope: %w", err)
	}
	out := make(map[string]bool)
	v, ok := fields[models.CompletedProcessesKey]
	if !ok || v.Kind != models.KindArray {
		return out, nil
	}
	for _, e := range v.Arr {
		if e.Kind == models.KindString && e.Str != "" {
			out[e.Str] = true
		}
	}
	return out, nil
}

// markCompleted appends the section key to the completed-process list. The
// list is append-only and deduplicated; keys are never removed.
func (p *Processor) markCompleted(userID, sectionKey string) error {
	fields, err := p.store.GetFields(userID, flowScope)
	if err != nil {
		return fmt.Errorf("failed to load flow scope: %w", err)
	}
	var list []models.Value
	if v, ok := fields[models.CompletedProcessesKey]; ok && v.Kind == models.KindArray {
		for _, e := range v.Arr {
			if e.Kind == models.KindString && e.Str == sectionKey {
				return nil
			}
		}
		list = append(list, v.Arr...)
	}
	list = append(list, models.StringValue(sectionKey))
	patch := map[string]models.Value{models.CompletedProcessesKey: models.ArrayValue(list...)}
	if err := p.store.SetFields(userID, flowScope, patch); err != nil {
		return fmt.Errorf("failed to persist completed processes: %w", err)
	}
	return nil
}

func (p *Processor) savePointer(userID, sectionKey, qid string, state models.PointerState) error {
	return p.store.SaveFlowPointer(models.FlowPointer{
		UserID:     userID,
		SectionKey: sectionKey,
		QID:        qid,
		State:      state,
		UpdatedAt:  time.Now(),
	})
}

// promptResult renders a question into a TurnResult. The stage intro is
// included only when the user enters the stage.
func promptResult(eng *engine.Engine, stage *models.Stage, q *models.Question, withIntro bool) models.TurnResult {
	res := models.TurnResult{
		Kind:         models.TurnPrompt,
		SectionKey:   eng.Catalog().Key,
		QID:          q.QID,
		SectionTitle: stage.Title,
		Prompt:       q.Prompt,
	}
	if withIntro {
		res.SectionIntro = stage.Intro
	}
	for _, opt := range q.Options {
		res.Options = append(res.Options, opt.Display())
	}
	return res
}

func terminalResult() models.TurnResult {
	return models.TurnResult{Kind: models.TurnTerminal}
}
