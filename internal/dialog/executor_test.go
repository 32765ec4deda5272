package dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/objection"
	"engagement-platform/internal/specialist"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func supportTree() Tree {
	return Tree{ID: "support", Trigger: "inbound_message", Active: true, Nodes: []Node{
		{Key: "start", Type: NodeStart, Prompt: "Hi {{first_name}}, how can we help?",
			Branches:    []BranchRule{{Triggers: []string{"cancel"}, NextNode: "cancellation"}},
			DefaultNext: "faq"},
		{Key: "cancellation", Type: NodeQuestion, Prompt: "Sorry to hear that. Why cancel?", CollectKey: "cancel_reason", DefaultNext: "retention"},
		{Key: "faq", Type: NodeQuestion, Prompt: "Here are our FAQs."},
		{Key: "retention", Type: NodeEnd, Prompt: "We'll be in touch."},
	}}
}

func newExecutor() (*Executor, *objection.MemoryRepo, *audit.MemoryRepo) {
	orepo := objection.NewMemoryRepo()
	audits := audit.NewMemoryRepo()
	x := NewExecutor(objection.NewService(orepo), nil, nil)
	x.Now = func() time.Time { return fixedNow }
	x.Audit = audit.NewService(audits)
	return x, orepo, audits
}

var ana = customer.Customer{ID: "c1", Name: "Ana Ruiz", Industry: "dental"}

// start, advance and escalate run an executor call and apply its effects, as the
// service does after a successful save.
func start(x *Executor, ctx context.Context, tree Tree, c customer.Customer) (Turn, error) {
	turn, err := x.Start(ctx, tree, c)
	if err != nil {
		return turn, err
	}
	return x.Apply(ctx, c, turn), nil
}

func advance(x *Executor, ctx context.Context, tree Tree, exec Execution, c customer.Customer, utterance string) (Turn, error) {
	turn, err := x.Advance(ctx, tree, exec, c, utterance)
	if err != nil {
		return turn, err
	}
	return x.Apply(ctx, c, turn), nil
}

func escalate(x *Executor, ctx context.Context, exec Execution, c customer.Customer, reason string) (Turn, error) {
	turn, err := x.Escalate(ctx, exec, c, reason)
	if err != nil {
		return turn, err
	}
	return x.Apply(ctx, c, turn), nil
}

func TestAdvance_KeywordBranchAndDefault(t *testing.T) {
	x, _, _ := newExecutor()
	tree := supportTree()

	turn, err := start(x, context.Background(), tree, ana)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if turn.Execution.CurrentNode != "start" || turn.Replies[0] != "Hi Ana, how can we help?" {
		t.Fatalf("unexpected start turn %+v", turn)
	}

	cancel, err := advance(x, context.Background(), tree, turn.Execution, ana, "I want to CANCEL please")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if cancel.Execution.CurrentNode != "cancellation" {
		t.Fatalf("expected cancellation, got %s", cancel.Execution.CurrentNode)
	}

	faq, err := advance(x, context.Background(), tree, turn.Execution, ana, "what are your hours")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if faq.Execution.CurrentNode != "faq" {
		t.Fatalf("expected faq via default, got %s", faq.Execution.CurrentNode)
	}
	if got := faq.Execution.Path; len(got) != 2 || got[0] != "start" || got[1] != "faq" {
		t.Fatalf("unexpected path %v", got)
	}
}

func TestAdvance_TerminalNodeCompletesWithoutMoving(t *testing.T) {
	x, _, _ := newExecutor()
	tree := supportTree()
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "hours?")

	done, err := advance(x, context.Background(), tree, turn.Execution, ana, "thanks")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Execution.Status != StatusCompleted || done.Execution.CurrentNode != "faq" || done.Execution.Outcome != "faq" {
		t.Fatalf("expected completion at faq, got %+v", done.Execution)
	}
	if len(done.Execution.Path) != len(turn.Execution.Path) {
		t.Fatalf("terminal advance must not extend the path")
	}
	if _, err := advance(x, context.Background(), tree, done.Execution, ana, "hello?"); !errors.Is(err, ErrExecutionClosed) {
		t.Fatalf("expected ErrExecutionClosed, got %v", err)
	}
}

func TestAdvance_EndNodeCompletesOnEntryAndCollects(t *testing.T) {
	x, _, audits := newExecutor()
	tree := supportTree()
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "cancel")
	turn, err := advance(x, context.Background(), tree, turn.Execution, ana, "  too pricey ")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if turn.Execution.Status != StatusCompleted || turn.Execution.Outcome != "retention" {
		t.Fatalf("expected completion on entering end node, got %+v", turn.Execution)
	}
	if turn.Execution.Data["cancel_reason"] != "too pricey" {
		t.Fatalf("expected collected answer, got %v", turn.Execution.Data)
	}
	if len(audits.OfType(audit.EventTypeDialogTransition)) != 2 || len(audits.OfType(audit.EventTypeDialogCompleted)) != 1 {
		t.Fatalf("unexpected audit trail")
	}
}

func TestAdvance_PathKeepsRevisits(t *testing.T) {
	x, _, _ := newExecutor()
	tree := Tree{ID: "loop", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, Branches: []BranchRule{{Triggers: []string{"again"}, NextNode: "start"}}, DefaultNext: "bye"},
		{Key: "bye", Type: NodeEnd},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "again")
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "again please")
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "done")
	want := []string{"start", "start", "start", "bye"}
	if len(turn.Execution.Path) != len(want) {
		t.Fatalf("unexpected path %v", turn.Execution.Path)
	}
	for i := range want {
		if turn.Execution.Path[i] != want[i] {
			t.Fatalf("unexpected path %v", turn.Execution.Path)
		}
	}
}

func TestAdvance_DanglingReferenceEscalates(t *testing.T) {
	x, _, _ := newExecutor()
	tree := Tree{ID: "broken", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, DefaultNext: "ghost"},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, err := advance(x, context.Background(), tree, turn.Execution, ana, "hello")
	if err != nil {
		t.Fatalf("authoring errors must not be returned as errors: %v", err)
	}
	if turn.Execution.Status != StatusEscalated || turn.Execution.Outcome != "dangling_node:ghost" || turn.Execution.CurrentNode != "start" {
		t.Fatalf("expected escalation frozen at start, got %+v", turn.Execution)
	}
}

func TestCollectAndEscalate(t *testing.T) {
	x, _, _ := newExecutor()
	tree := supportTree()
	turn, _ := start(x, context.Background(), tree, ana)

	e, err := x.Collect(turn.Execution, "plan", "basic")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	e, _ = x.Collect(e, "plan", "pro")
	if e.Data["plan"] != "pro" {
		t.Fatalf("expected last write to win")
	}
	if turn.Execution.Data["plan"] != "" {
		t.Fatalf("collect mutated its input")
	}

	esc, err := escalate(x, context.Background(), e, ana, "customer asked for a human")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if esc.Execution.Status != StatusEscalated || esc.Execution.CurrentNode != "start" || esc.Execution.Outcome != "customer asked for a human" {
		t.Fatalf("unexpected escalation %+v", esc.Execution)
	}
	if _, err := x.Collect(esc.Execution, "k", "v"); !errors.Is(err, ErrExecutionClosed) {
		t.Fatalf("expected closed execution error")
	}
}

func pricingTree() Tree {
	return Tree{ID: "sales", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, Prompt: "Ready to book a demo?",
			Branches: []BranchRule{{Triggers: []string{"yes"}, NextNode: "book"}}, DefaultNext: "book"},
		{Key: "book", Type: NodeEnd, Prompt: "Booked!"},
		{Key: "pricing", Type: NodeQuestion, Prompt: "Our plans start at $49."},
	}}
}

func TestAdvance_ObjectionGotoOverridesBranches(t *testing.T) {
	x, orepo, audits := newExecutor()
	_ = orepo.SaveHandler(context.Background(), objection.Handler{
		ID: "price", TriggerPhrase: "too expensive", Response: "Totally fair, {{first_name}}.",
		Next: objection.ParseNextAction("pricing"), Active: true, SuccessRate: 50,
	})
	tree := pricingTree()
	turn, _ := start(x, context.Background(), tree, ana)

	turn, err := advance(x, context.Background(), tree, turn.Execution, ana, "yes but it's too expensive")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if turn.Objection == nil || turn.Execution.CurrentNode != "pricing" {
		t.Fatalf("expected objection goto to pricing, got %+v", turn.Execution)
	}
	if turn.Replies[0] != "Totally fair, Ana." || turn.Replies[1] != "Our plans start at $49." {
		t.Fatalf("unexpected replies %v", turn.Replies)
	}
	if len(audits.OfType(audit.EventTypeObjectionMatched)) != 1 {
		t.Fatalf("expected objection audit")
	}

	// The customer moves on without objecting again: the response counts as a success.
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "ok that works")
	hs, _ := orepo.Handlers(context.Background())
	if hs[0].UsageCount != 1 || hs[0].SuccessRate != 55 {
		t.Fatalf("expected success recorded, got %+v", hs[0])
	}
	if turn.Execution.Pending != nil {
		t.Fatalf("pending objection must clear once settled")
	}
}

func TestAdvance_ObjectionWithoutDirectiveStaysAndRepeatedObjectionFails(t *testing.T) {
	x, orepo, _ := newExecutor()
	_ = orepo.SaveHandler(context.Background(), objection.Handler{
		ID: "timing", Keywords: []string{"not now"}, Response: "No problem.", FollowUp: "Would next week work?",
		Active: true, SuccessRate: 50,
	})
	tree := pricingTree()
	turn, _ := start(x, context.Background(), tree, ana)

	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "not now")
	if turn.Execution.CurrentNode != "start" || len(turn.Replies) != 2 || turn.Execution.Pending == nil {
		t.Fatalf("expected to stay on node with response and follow-up, got %+v", turn)
	}
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "really, not now")
	hs, _ := orepo.Handlers(context.Background())
	if hs[0].UsageCount != 1 || hs[0].SuccessRate != 45 {
		t.Fatalf("expected failure recorded, got %+v", hs[0])
	}
	encs, _ := orepo.Encounters(context.Background(), "timing")
	if len(encs) != 1 || encs[0].Success {
		t.Fatalf("expected one failed encounter, got %+v", encs)
	}
}

func TestAdvance_ObjectionEscalateDirective(t *testing.T) {
	x, orepo, _ := newExecutor()
	_ = orepo.SaveHandler(context.Background(), objection.Handler{
		ID: "legal", Keywords: []string{"lawyer"}, Response: "Connecting you now.", Next: objection.ParseNextAction("escalate"), Active: true,
	})
	tree := pricingTree()
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "talk to my lawyer")
	if turn.Execution.Status != StatusEscalated || turn.Execution.Outcome != "objection:legal" {
		t.Fatalf("expected escalation, got %+v", turn.Execution)
	}
}

func TestActionNodes_SetAndAutoAdvance(t *testing.T) {
	x, _, _ := newExecutor()
	tree := Tree{ID: "qualify", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, DefaultNext: "tag"},
		{Key: "tag", Type: NodeAction, Action: &ActionSpec{Kind: ActionSet, Key: "outcome", Value: "qualified"}, DefaultNext: "done"},
		{Key: "done", Type: NodeEnd, Prompt: "Thanks {{first_name}}!"},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "sure")
	if turn.Execution.Status != StatusCompleted || turn.Execution.Outcome != "qualified" {
		t.Fatalf("expected qualified completion, got %+v", turn.Execution)
	}
	if got := turn.Execution.Path; len(got) != 3 || got[1] != "tag" || got[2] != "done" {
		t.Fatalf("unexpected path %v", got)
	}
}

func TestActionNodes_ChainLimitEscalates(t *testing.T) {
	x, _, _ := newExecutor()
	x.MaxAutoSteps = 4
	tree := Tree{ID: "cycle", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, DefaultNext: "a"},
		{Key: "a", Type: NodeAction, DefaultNext: "b"},
		{Key: "b", Type: NodeAction, DefaultNext: "a"},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, err := advance(x, context.Background(), tree, turn.Execution, ana, "go")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if turn.Execution.Status != StatusEscalated || turn.Execution.Outcome != "auto_step_limit" {
		t.Fatalf("expected bounded chain to escalate, got %+v", turn.Execution)
	}
}

func TestHandoff_AssignsSpecialist(t *testing.T) {
	x, _, _ := newExecutor()
	srepo := specialist.NewMemoryRepo()
	_ = srepo.SaveSpecialist(context.Background(), specialist.Specialist{ID: "dental-ai", Industries: []string{"dental"}, IndustryWeight: 40, Available: true, Active: true, MaxCustomers: 3})
	x.Specialists = specialist.NewService(srepo, specialist.NewMemoryCapacity(), nil)

	tree := Tree{ID: "handoff", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, DefaultNext: "route"},
		{Key: "route", Type: NodeAction, Action: &ActionSpec{Kind: ActionHandoff}},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "I need help")
	if turn.Execution.Status != StatusEscalated || turn.Execution.Data["specialist_id"] != "dental-ai" || turn.Execution.AssignmentID == "" {
		t.Fatalf("expected handoff to dental-ai, got %+v", turn.Execution)
	}

	empty := NewExecutor(nil, specialist.NewService(specialist.NewMemoryRepo(), specialist.NewMemoryCapacity(), nil), nil)
	turn, _ = start(empty, context.Background(), tree, ana)
	turn, _ = advance(empty, context.Background(), tree, turn.Execution, ana, "help")
	if turn.Execution.Status != StatusEscalated || turn.Execution.Data["specialist"] != "none" {
		t.Fatalf("no specialist must still escalate, got %+v", turn.Execution)
	}
}

func TestAdvance_DefersEffectsUntilApplied(t *testing.T) {
	x, orepo, audits := newExecutor()
	_ = orepo.SaveHandler(context.Background(), objection.Handler{
		ID: "price", TriggerPhrase: "too expensive", Response: "We have payment plans.",
		Next: objection.ParseNextAction("offer"), Active: true, SuccessRate: 50,
	})
	srepo := specialist.NewMemoryRepo()
	_ = srepo.SaveSpecialist(context.Background(), specialist.Specialist{ID: "dental-ai", Industries: []string{"dental"}, IndustryWeight: 40, Available: true, Active: true, MaxCustomers: 1})
	x.Specialists = specialist.NewService(srepo, specialist.NewMemoryCapacity(), nil)

	tree := Tree{ID: "offer", Nodes: []Node{
		{Key: "start", Type: NodeQuestion, DefaultNext: "offer"},
		{Key: "offer", Type: NodeQuestion, Branches: []BranchRule{{Triggers: []string{"human"}, NextNode: "route"}}},
		{Key: "route", Type: NodeAction, Action: &ActionSpec{Kind: ActionHandoff}},
	}}
	turn, _ := start(x, context.Background(), tree, ana)
	turn, _ = advance(x, context.Background(), tree, turn.Execution, ana, "too expensive")
	before := len(audits.Events())

	pure, err := x.Advance(context.Background(), tree, turn.Execution, ana, "get me a human")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if pure.Execution.Status != StatusEscalated || !pure.routes() {
		t.Fatalf("expected a routed escalation, got %+v", pure.Execution)
	}
	hs, _ := orepo.Handlers(context.Background())
	if hs[0].UsageCount != 0 || len(audits.Events()) != before || pure.Execution.AssignmentID != "" {
		t.Fatalf("effects ran before apply: usage=%d audits=%d assignment=%q", hs[0].UsageCount, len(audits.Events()), pure.Execution.AssignmentID)
	}

	applied := x.Apply(context.Background(), ana, pure)
	hs, _ = orepo.Handlers(context.Background())
	if hs[0].UsageCount != 1 || applied.Execution.AssignmentID == "" || len(audits.Events()) <= before {
		t.Fatalf("apply did not run effects: usage=%d assignment=%q", hs[0].UsageCount, applied.Execution.AssignmentID)
	}
	if pure.Execution.Data["specialist_id"] != "" {
		t.Fatalf("apply mutated the unapplied turn")
	}
	if again := x.Apply(context.Background(), ana, applied); again.routes() {
		t.Fatalf("applied turn still carries effects")
	}
	hs, _ = orepo.Handlers(context.Background())
	if hs[0].UsageCount != 1 {
		t.Fatalf("outcome recorded twice, usage=%d", hs[0].UsageCount)
	}
}
