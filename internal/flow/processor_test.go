package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haroov/chocoflow/internal/models"
	"github.com/haroov/chocoflow/internal/store"
)

func testCatalogs() map[string]*models.Catalog {
	intake := &models.Catalog{
		Key: "intake",
		Stages: []models.Stage{{
			Key: "basics", Title: "Basics", Intro: "Let's get started.",
			Questions: []models.Question{
				{QID: "q_name", FieldKey: "customer_name", Prompt: "What is the business name?", DataType: models.DataTypeString},
				{QID: "q_property", FieldKey: "has_property", Prompt: "Do you own the property?", DataType: models.DataTypeBoolean},
			},
		}},
	}
	property := &models.Catalog{
		Key: "property",
		Stages: []models.Stage{{
			Key: "valuation", Title: "Property", Intro: "Now about the property.",
			Questions: []models.Question{
				{QID: "q_value", FieldKey: "property_value", Prompt: "What is the property worth?", DataType: models.DataTypeNumber},
			},
		}},
		HandoffTriggers: []models.HandoffTrigger{
			{Key: "high_value", When: "property_value > 1000000", Reason: "needs an underwriter", Action: "human"},
		},
	}
	return map[string]*models.Catalog{"intake": intake, "property": property}
}

func testProcessCatalog() *models.ProcessCatalog {
	return &models.ProcessCatalog{Processes: []models.Process{
		{Key: "intake", Order: 1},
		{Key: "property", Order: 2, AskIf: "has_property = true"},
	}}
}

func newTestProcessor(t *testing.T) (*Processor, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	p, err := NewProcessor(testCatalogs(), testProcessCatalog(), st)
	if err != nil {
		t.Fatalf("NewProcessor error: %v", err)
	}
	return p, st
}

func turn(t *testing.T, p *Processor, userID, answer string) models.TurnResult {
	t.Helper()
	res, err := p.ProcessTurn(context.Background(), userID, answer)
	if err != nil {
		t.Fatalf("ProcessTurn(%q, %q) error: %v", userID, answer, err)
	}
	return res
}

func TestNewProcessorRequiresCatalogPerProcess(t *testing.T) {
	catalogs := testCatalogs()
	delete(catalogs, "property")
	_, err := NewProcessor(catalogs, testProcessCatalog(), store.NewInMemoryStore())
	if err == nil {
		t.Fatal("missing catalog for a process must be rejected")
	}
}

func TestNewUserGetsFirstPrompt(t *testing.T) {
	p, _ := newTestProcessor(t)
	res := turn(t, p, "u1", "")
	if res.Kind != models.TurnPrompt {
		t.Fatalf("kind = %s, want prompt", res.Kind)
	}
	if res.SectionKey != "intake" || res.QID != "q_name" {
		t.Errorf("position = %s/%s, want intake/q_name", res.SectionKey, res.QID)
	}
	if res.SectionIntro != "Let's get started." {
		t.Errorf("intro = %q, want the stage intro on entry", res.SectionIntro)
	}
}

func TestAnswerAdvancesToNextQuestion(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	res := turn(t, p, "u1", "Acme Bakery")
	if res.Kind != models.TurnPrompt || res.QID != "q_property" {
		t.Fatalf("res = %+v, want prompt q_property", res)
	}
	if res.SectionIntro != "" {
		t.Error("intro must not repeat within the same stage")
	}
}

func TestEmptyAnswerReplaysCurrentQuestion(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	res := turn(t, p, "u1", "")
	if res.Kind != models.TurnPrompt || res.QID != "q_name" {
		t.Fatalf("res = %+v, want the same q_name prompt", res)
	}
}

func TestRepromptOnUnparsableAnswer(t *testing.T) {
	p, st := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")

	res := turn(t, p, "u1", "maybe")
	if res.Kind != models.TurnReprompt {
		t.Fatalf("kind = %s, want reprompt", res.Kind)
	}
	if res.QID != "q_property" || res.Clarification == "" {
		t.Errorf("res = %+v, want q_property with a clarification", res)
	}

	ptr, err := st.GetFlowPointer("u1")
	if err != nil {
		t.Fatal(err)
	}
	if ptr.QID != "q_property" {
		t.Errorf("pointer moved to %s on a rejected answer", ptr.QID)
	}
	fields, err := st.GetFields("u1", "intake")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["has_property"]; ok {
		t.Error("rejected answer must not persist")
	}
}

func TestSectionCompletionRoutesToNext(t *testing.T) {
	p, st := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	res := turn(t, p, "u1", "yes")

	if res.Kind != models.TurnPrompt || res.SectionKey != "property" || res.QID != "q_value" {
		t.Fatalf("res = %+v, want property/q_value", res)
	}
	if res.SectionIntro != "Now about the property." {
		t.Errorf("intro = %q, want the new section's intro", res.SectionIntro)
	}

	recs, err := st.GetCompletions("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SectionKey != "intake" {
		t.Fatalf("history = %+v, want one intake record", recs)
	}
	if recs[0].SessionID == "" {
		t.Error("completion must carry a session id")
	}

	flowFields, err := st.GetFields("u1", flowScope)
	if err != nil {
		t.Fatal(err)
	}
	list := flowFields[models.CompletedProcessesKey]
	if list.Kind != models.KindArray || len(list.Arr) != 1 || list.Arr[0].Str != "intake" {
		t.Errorf("completed_processes = %v, want [intake]", list)
	}
}

func TestTerminalWhenRemainingSectionGatedOff(t *testing.T) {
	p, st := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	res := turn(t, p, "u1", "no")

	if res.Kind != models.TurnTerminal {
		t.Fatalf("kind = %s, want terminal when property is gated off", res.Kind)
	}
	ptr, err := st.GetFlowPointer("u1")
	if err != nil {
		t.Fatal(err)
	}
	if ptr == nil || ptr.State != models.PointerStateTerminal {
		t.Fatalf("pointer = %v, want terminal", ptr)
	}

	// Terminal is stable: further messages keep returning terminal.
	if res := turn(t, p, "u1", "hello?"); res.Kind != models.TurnTerminal {
		t.Errorf("kind = %s, want terminal again", res.Kind)
	}
}

func TestFullRunCompletedProcessesMonotonic(t *testing.T) {
	p, st := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	turn(t, p, "u1", "yes")
	res := turn(t, p, "u1", "500000")
	if res.Kind != models.TurnTerminal {
		t.Fatalf("kind = %s, want terminal after the last section", res.Kind)
	}

	flowFields, err := st.GetFields("u1", flowScope)
	if err != nil {
		t.Fatal(err)
	}
	list := flowFields[models.CompletedProcessesKey]
	if len(list.Arr) != 2 || list.Arr[0].Str != "intake" || list.Arr[1].Str != "property" {
		t.Errorf("completed_processes = %v, want [intake property]", list)
	}
	recs, err := st.GetCompletions("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].SessionID == recs[1].SessionID {
		t.Errorf("history = %+v, want two records with distinct sessions", recs)
	}
}

func TestHandoffTurn(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	turn(t, p, "u1", "yes")
	res := turn(t, p, "u1", "2,000,000")

	if res.Kind != models.TurnHandoff {
		t.Fatalf("kind = %s, want handoff", res.Kind)
	}
	if len(res.Handoffs) != 1 || res.Handoffs[0].TriggerKey != "high_value" {
		t.Errorf("handoffs = %+v, want high_value", res.Handoffs)
	}
	// The section completed through the handoff; the conversation is over.
	if res := turn(t, p, "u1", ""); res.Kind != models.TurnTerminal {
		t.Errorf("kind = %s, want terminal after handoff", res.Kind)
	}
}

func TestStalePointerDiscardsAnswer(t *testing.T) {
	p, st := newTestProcessor(t)
	turn(t, p, "u1", "")
	// Force the pointer onto a question that is not actually next.
	err := st.SaveFlowPointer(models.FlowPointer{
		UserID: "u1", SectionKey: "intake", QID: "q_property",
		State: models.PointerStateActive, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	res := turn(t, p, "u1", "yes")
	if res.Kind != models.TurnPrompt || res.QID != "q_name" {
		t.Fatalf("res = %+v, want the fresh q_name prompt", res)
	}
	fields, err := st.GetFields("u1", "intake")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["has_property"]; ok {
		t.Error("answer aimed at a stale pointer must be discarded")
	}
}

func TestUnknownSectionPointerReroutes(t *testing.T) {
	p, st := newTestProcessor(t)
	err := st.SaveFlowPointer(models.FlowPointer{
		UserID: "u1", SectionKey: "retired_section", QID: "q_x",
		State: models.PointerStateActive, UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := turn(t, p, "u1", "whatever")
	if res.Kind != models.TurnPrompt || res.SectionKey != "intake" {
		t.Fatalf("res = %+v, want rerouted intake prompt", res)
	}
}

func TestSharedFieldsVisibleAcrossSections(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	turn(t, p, "u1", "yes")

	// has_property was collected in the intake scope; routing into property
	// depends on seeing it through the overlay.
	prog, err := p.UserProgress(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Completed) != 1 || prog.Completed[0] != "intake" {
		t.Errorf("completed = %v, want [intake]", prog.Completed)
	}
	if len(prog.Remaining) != 1 || prog.Remaining[0] != "property" {
		t.Errorf("remaining = %v, want [property]", prog.Remaining)
	}
	if prog.Done {
		t.Error("flow is not done yet")
	}
}

func TestProgressDoneAtTerminal(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")
	turn(t, p, "u1", "no")
	prog, err := p.UserProgress(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !prog.Done {
		t.Error("terminal pointer must report done")
	}
}

func TestConcurrentUsersCompleteSections(t *testing.T) {
	p, st := newTestProcessor(t)
	const users = 16

	start := make(chan struct{})
	errs := make(chan error, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for _, answer := range []string{"", "Acme Bakery", "no"} {
				if _, err := p.ProcessTurn(context.Background(), userID, answer); err != nil {
					errs <- fmt.Errorf("%s: %w", userID, err)
					return
				}
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%02d", i)
		recs, err := st.GetCompletions(userID)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 || recs[0].SessionID == "" {
			t.Errorf("%s history = %+v, want one record with a session id", userID, recs)
		}
	}
}

func TestStageSummaryEmittedOnStageExit(t *testing.T) {
	cat := &models.Catalog{
		Key: "intake",
		Stages: []models.Stage{
			{
				Key: "basics", Title: "Basics", Summary: "Basics recorded.",
				Questions: []models.Question{
					{QID: "q_name", FieldKey: "customer_name", Prompt: "What is the business name?", DataType: models.DataTypeString},
				},
			},
			{
				Key: "details", Title: "Details", Intro: "A few more details.",
				Questions: []models.Question{
					{QID: "q_age", FieldKey: "business_age", Prompt: "How many years has it been operating?", DataType: models.DataTypeNumber},
				},
			},
		},
	}
	pc := &models.ProcessCatalog{Processes: []models.Process{{Key: "intake", Order: 1}}}
	p, err := NewProcessor(map[string]*models.Catalog{"intake": cat}, pc, store.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewProcessor error: %v", err)
	}

	res := turn(t, p, "u1", "")
	if res.StageSummary != "" {
		t.Errorf("summary on entry = %q, want none", res.StageSummary)
	}

	res = turn(t, p, "u1", "Acme Bakery")
	if res.QID != "q_age" {
		t.Fatalf("res = %+v, want the details question", res)
	}
	if res.StageSummary != "Basics recorded." {
		t.Errorf("summary = %q, want the finished stage's closing text", res.StageSummary)
	}
	if res.SectionIntro != "A few more details." {
		t.Errorf("intro = %q, want the new stage's intro", res.SectionIntro)
	}

	// The details stage declares no summary, so the terminal turn carries none.
	res = turn(t, p, "u1", "3")
	if res.Kind != models.TurnTerminal || res.StageSummary != "" {
		t.Errorf("res = %+v, want terminal without a summary", res)
	}
}

func TestStageSummaryEmittedOnSectionCompletion(t *testing.T) {
	catalogs := testCatalogs()
	catalogs["intake"].Stages[0].Summary = "Basics recorded."
	p, err := NewProcessor(catalogs, testProcessCatalog(), store.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewProcessor error: %v", err)
	}

	turn(t, p, "u1", "")
	res := turn(t, p, "u1", "Acme Bakery")
	if res.StageSummary != "" {
		t.Errorf("summary mid-stage = %q, want none", res.StageSummary)
	}

	res = turn(t, p, "u1", "yes")
	if res.SectionKey != "property" || res.QID != "q_value" {
		t.Fatalf("res = %+v, want the property prompt", res)
	}
	if res.StageSummary != "Basics recorded." {
		t.Errorf("summary = %q, want the completed section's closing text", res.StageSummary)
	}
}

func TestUsersIsolated(t *testing.T) {
	p, _ := newTestProcessor(t)
	turn(t, p, "u1", "")
	turn(t, p, "u1", "Acme Bakery")

	res := turn(t, p, "u2", "")
	if res.QID != "q_name" {
		t.Fatalf("u2 first question = %s, want q_name", res.QID)
	}
	res = turn(t, p, "u1", "no")
	if res.Kind != models.TurnTerminal {
		t.Errorf("u1 res = %+v, want terminal", res)
	}
}
