package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/objection"
	"engagement-platform/internal/specialist"
	"engagement-platform/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrExecutionClosed = errors.New("dialog: execution is not in progress")
	ErrNoStartNode     = errors.New("dialog: tree has no nodes")
)

// DefaultMaxAutoSteps bounds chains of action nodes entered without customer input.
const DefaultMaxAutoSteps = 16

// ObjectionMatcher is the objection surface the executor needs.
type ObjectionMatcher interface {
	Match(ctx context.Context, statement, industry string) (objection.Handler, bool, error)
	RecordOutcome(ctx context.Context, o objection.Outcome) (objection.Handler, objection.Encounter, error)
}

// SpecialistRouter assigns an escalated customer to a specialist.
type SpecialistRouter interface {
	Assign(ctx context.Context, c customer.Customer, candidates []specialist.Specialist) (specialist.Match, specialist.Assignment, error)
}

// Auditor receives transition records. Failures are logged, never returned.
type Auditor interface {
	Transition(ctx context.Context, typ audit.EventType, customerID, subject string, before, after any, message string) error
}

// Executor runs a conversation through a tree. Each call handles exactly one trigger or
// utterance and returns; waiting for the next message is the transport's job.
type Executor struct {
	Objections   ObjectionMatcher
	Specialists  SpecialistRouter
	Audit        Auditor
	Log          *slog.Logger
	Now          func() time.Time
	MaxAutoSteps int
}

func NewExecutor(objections ObjectionMatcher, specialists SpecialistRouter, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{Objections: objections, Specialists: specialists, Log: log, Now: time.Now, MaxAutoSteps: DefaultMaxAutoSteps}
}

// Turn is the result of one executor call.
//
// A turn is computed without side effects. Objection outcomes, specialist routing and
// audit records are held in effects until Apply runs, which happens only once the
// execution has been persisted.
type Turn struct {
	Execution Execution `json:"execution"`
	// Replies are the messages to send back, in order.
	Replies []string `json:"replies,omitempty"`
	// Objection is set when a handler matched this utterance.
	Objection *objection.Handler `json:"objection,omitempty"`

	effects effects
}

type effects struct {
	outcomes []objection.Outcome
	notes    []auditNote
	// route asks for a specialist assignment for the escalated customer.
	route bool
}

type auditNote struct {
	typ         audit.EventType
	customerID  string
	executionID string
	node        string
	status      Status
	before      any
	msg         string
}

// routes reports whether applying the turn will assign a specialist, which changes the
// execution again.
func (t Turn) routes() bool { return t.effects.route }

func (x *Executor) now() time.Time {
	if x.Now == nil {
		return time.Now().UTC()
	}
	return x.Now().UTC()
}

// Start creates an execution positioned at the tree's start node.
func (x *Executor) Start(ctx context.Context, tree Tree, c customer.Customer) (Turn, error) {
	start, ok := tree.StartNode()
	if !ok {
		return Turn{}, ErrNoStartNode
	}
	now := x.now()
	t := &Turn{Execution: Execution{
		ID:         uuid.NewString(),
		TreeID:     tree.ID,
		CustomerID: c.ID,
		Status:     StatusInProgress,
		Data:       map[string]string{},
		StartedAt:  now,
		UpdatedAt:  now,
	}}
	x.note(t, audit.EventTypeDialogStarted, nil, tree.ID)
	x.enter(ctx, tree, c, t, start, 0)
	return *t, nil
}

// Advance feeds one customer utterance to the execution.
func (x *Executor) Advance(ctx context.Context, tree Tree, exec Execution, c customer.Customer, utterance string) (Turn, error) {
	if !exec.Open() {
		return Turn{Execution: exec}, ErrExecutionClosed
	}
	t := &Turn{Execution: exec.clone()}
	t.Execution.UpdatedAt = x.now()

	node, ok := tree.Node(exec.CurrentNode)
	if !ok {
		x.escalate(ctx, c, t, "dangling_node:"+exec.CurrentNode)
		return *t, nil
	}

	var matched *objection.Handler
	if node.Type == NodeQuestion && x.Objections != nil {
		h, ok, err := x.Objections.Match(ctx, utterance, c.Industry)
		if err != nil {
			return Turn{Execution: exec}, err
		}
		if ok {
			matched = &h
		}
	}
	// A pending response worked unless the customer objected again.
	x.settlePending(ctx, t, matched == nil)

	if node.CollectKey != "" {
		t.Execution.Data[node.CollectKey] = strings.TrimSpace(utterance)
	}

	if matched != nil {
		x.handleObjection(ctx, tree, c, t, *matched, utterance)
		return *t, nil
	}

	if node.Terminal() {
		x.complete(ctx, t, node)
		return *t, nil
	}

	next := resolveBranch(node, utterance)
	x.moveTo(ctx, tree, c, t, next, 0)
	return *t, nil
}

// resolveBranch picks the first branch, in declaration order, with a trigger contained in
// the normalized utterance; otherwise default_next.
func resolveBranch(n Node, utterance string) string {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	for _, b := range n.Branches {
		if b.matches(normalized) {
			return b.NextNode
		}
	}
	return n.DefaultNext
}

func (x *Executor) handleObjection(ctx context.Context, tree Tree, c customer.Customer, t *Turn, h objection.Handler, utterance string) {
	vars := x.vars(c, t.Execution)
	resp, follow := h.Render(vars)
	t.Objection = &h
	t.Replies = appendNonEmpty(t.Replies, resp, follow)
	x.note(t, audit.EventTypeObjectionMatched, nil, h.ID)

	// Only responses that keep the conversation going are scored on the customer's
	// reaction; escalate and end directives are not.
	switch h.Next.Kind {
	case objection.NextEscalate:
		x.escalate(ctx, c, t, "objection:"+h.ID)
	case objection.NextEnd:
		t.Execution.Data["outcome"] = "objection:" + h.ID
		x.finish(ctx, t, StatusCompleted, "objection:"+h.ID)
	case objection.NextGoto:
		t.Execution.Pending = &PendingObjection{HandlerID: h.ID, Statement: utterance, Response: resp}
		x.moveTo(ctx, tree, c, t, h.Next.Node, 0)
	default:
		// Stay on the node; the follow-up re-asks.
		t.Execution.Pending = &PendingObjection{HandlerID: h.ID, Statement: utterance, Response: resp}
	}
}

// moveTo enters key, or escalates when the key is missing from the tree.
func (x *Executor) moveTo(ctx context.Context, tree Tree, c customer.Customer, t *Turn, key string, depth int) {
	n, ok := tree.Node(key)
	if !ok || key == "" {
		x.Log.Warn("dialog references a missing node, escalating", "tree_id", tree.ID, "node", key, "from", t.Execution.CurrentNode)
		x.escalate(ctx, c, t, "dangling_node:"+key)
		return
	}
	x.enter(ctx, tree, c, t, n, depth)
}

func (x *Executor) enter(ctx context.Context, tree Tree, c customer.Customer, t *Turn, n Node, depth int) {
	before := t.Execution.CurrentNode
	t.Execution.CurrentNode = n.Key
	t.Execution.Path = append(t.Execution.Path, n.Key)
	if before != "" {
		x.note(t, audit.EventTypeDialogTransition, before, before+" -> "+n.Key)
	}
	if n.Prompt != "" {
		t.Replies = append(t.Replies, utils.RenderTemplate(n.Prompt, x.vars(c, t.Execution)))
	}

	switch n.Type {
	case NodeEnd:
		x.complete(ctx, t, n)
	case NodeAction:
		x.runAction(ctx, tree, c, t, n, depth)
	}
}

func (x *Executor) runAction(ctx context.Context, tree Tree, c customer.Customer, t *Turn, n Node, depth int) {
	if a := n.Action; a != nil {
		switch a.Kind {
		case ActionSet:
			if a.Key != "" {
				t.Execution.Data[a.Key] = a.Value
			}
		case ActionEscalate:
			reason := a.Reason
			if reason == "" {
				reason = "node:" + n.Key
			}
			x.escalate(ctx, c, t, reason)
			return
		case ActionHandoff:
			x.escalate(ctx, c, t, "handoff")
			return
		default:
			x.Log.Warn("unknown node action, ignoring", "tree_id", tree.ID, "node", n.Key, "kind", a.Kind)
		}
	}

	if n.DefaultNext == "" {
		x.complete(ctx, t, n)
		return
	}
	limit := x.MaxAutoSteps
	if limit <= 0 {
		limit = DefaultMaxAutoSteps
	}
	if depth+1 > limit {
		x.escalate(ctx, c, t, "auto_step_limit")
		return
	}
	x.moveTo(ctx, tree, c, t, n.DefaultNext, depth+1)
}

// Collect stores key=value; the last write for a key wins.
func (x *Executor) Collect(exec Execution, key, value string) (Execution, error) {
	if !exec.Open() {
		return exec, ErrExecutionClosed
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return exec, errors.New("dialog: collect key required")
	}
	out := exec.clone()
	out.Data[key] = value
	out.UpdatedAt = x.now()
	return out, nil
}

// Escalate forces the execution to escalated, freezing the current node.
func (x *Executor) Escalate(ctx context.Context, exec Execution, c customer.Customer, reason string) (Turn, error) {
	if !exec.Open() {
		return Turn{Execution: exec}, ErrExecutionClosed
	}
	t := &Turn{Execution: exec.clone()}
	t.Execution.UpdatedAt = x.now()
	x.escalate(ctx, c, t, reason)
	return *t, nil
}

// escalate marks the execution escalated and, when a router is configured, asks Apply
// to assign a specialist.
func (x *Executor) escalate(ctx context.Context, c customer.Customer, t *Turn, reason string) {
	if reason == "" {
		reason = "escalated"
	}
	x.settlePending(ctx, t, false)
	if x.Specialists != nil {
		t.effects.route = true
	}
	x.finish(ctx, t, StatusEscalated, reason)
}

// complete ends the execution at a terminal node. A collected "outcome" wins over the node key.
func (x *Executor) complete(ctx context.Context, t *Turn, n Node) {
	outcome := t.Execution.Data["outcome"]
	if outcome == "" {
		outcome = n.Key
	}
	x.settlePending(ctx, t, true)
	x.finish(ctx, t, StatusCompleted, outcome)
}

func (x *Executor) finish(ctx context.Context, t *Turn, status Status, outcome string) {
	if !t.Execution.Open() {
		return
	}
	before := t.Execution.Status
	now := x.now()
	t.Execution.Status = status
	t.Execution.Outcome = outcome
	t.Execution.EndedAt = &now
	typ := audit.EventTypeDialogCompleted
	if status == StatusEscalated {
		typ = audit.EventTypeDialogEscalated
	}
	x.note(t, typ, before, outcome)
}

// settlePending queues how the previous objection response landed.
func (x *Executor) settlePending(ctx context.Context, t *Turn, success bool) {
	p := t.Execution.Pending
	if p == nil {
		return
	}
	t.Execution.Pending = nil
	if x.Objections == nil {
		return
	}
	t.effects.outcomes = append(t.effects.outcomes, objection.Outcome{
		CustomerID:  t.Execution.CustomerID,
		HandlerID:   p.HandlerID,
		ExecutionID: t.Execution.ID,
		Statement:   p.Statement,
		Response:    p.Response,
		Success:     success,
	})
}

// Apply runs the side effects a persisted turn carries: objection outcomes first, then
// specialist routing, then audit records. Failures are logged; the turn stands.
// The returned turn carries no effects, so applying it again does nothing.
func (x *Executor) Apply(ctx context.Context, c customer.Customer, t Turn) Turn {
	fx := t.effects
	t.effects = effects{}

	if x.Objections != nil {
		for _, o := range fx.outcomes {
			if _, _, err := x.Objections.RecordOutcome(ctx, o); err != nil {
				x.Log.Warn("objection outcome not recorded", "handler_id", o.HandlerID, "err", err)
			}
		}
	}

	if fx.route && x.Specialists != nil {
		t.Execution = t.Execution.clone()
		m, a, err := x.Specialists.Assign(ctx, c, nil)
		switch {
		case err != nil:
			if !errors.Is(err, specialist.ErrNoCandidates) {
				x.Log.Warn("specialist routing failed", "customer_id", c.ID, "err", err)
			}
			t.Execution.Data["specialist"] = "none"
		case m.Found:
			t.Execution.AssignmentID = a.ID
			t.Execution.Data["specialist_id"] = m.Specialist.ID
		}
	}

	if x.Audit != nil {
		for _, n := range fx.notes {
			if err := x.Audit.Transition(ctx, n.typ, n.customerID, n.executionID, n.before, map[string]any{
				"node":   n.node,
				"status": n.status,
			}, n.msg); err != nil {
				x.Log.Warn("audit append failed", "type", n.typ, "execution_id", n.executionID, "err", err)
			}
		}
	}
	return t
}

func (x *Executor) vars(c customer.Customer, e Execution) map[string]string {
	v := c.Vars()
	for k, val := range e.Data {
		v[k] = val
	}
	return v
}

// note queues an audit record of the execution as it stands now.
func (x *Executor) note(t *Turn, typ audit.EventType, before any, msg string) {
	t.effects.notes = append(t.effects.notes, auditNote{
		typ:         typ,
		customerID:  t.Execution.CustomerID,
		executionID: t.Execution.ID,
		node:        t.Execution.CurrentNode,
		status:      t.Execution.Status,
		before:      before,
		msg:         msg,
	})
}

func appendNonEmpty(xs []string, vals ...string) []string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			xs = append(xs, v)
		}
	}
	return xs
}
