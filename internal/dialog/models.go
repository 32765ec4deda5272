package dialog

import (
	"strings"
	"time"
)

type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeQuestion NodeType = "question"
	NodeAction   NodeType = "action"
	NodeEnd      NodeType = "end"
)

// BranchRule moves to NextNode when any trigger keyword is a case-insensitive
// substring of the utterance.
type BranchRule struct {
	Triggers []string `json:"triggers" yaml:"triggers"`
	NextNode string   `json:"next_node" yaml:"next_node"`
}

func (b BranchRule) matches(normalized string) bool {
	for _, t := range b.Triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(normalized, t) {
			return true
		}
	}
	return false
}

type ActionKind string

const (
	// ActionSet stores Key=Value in the collected data.
	ActionSet ActionKind = "set"
	// ActionEscalate hands the conversation to a human with Reason.
	ActionEscalate ActionKind = "escalate"
	// ActionHandoff routes the customer to the best specialist, then escalates to it.
	ActionHandoff ActionKind = "handoff"
)

// ActionSpec is what an action node does when entered.
type ActionSpec struct {
	Kind   ActionKind `json:"kind" yaml:"kind"`
	Key    string     `json:"key,omitempty" yaml:"key"`
	Value  string     `json:"value,omitempty" yaml:"value"`
	Reason string     `json:"reason,omitempty" yaml:"reason"`
}

// Node is one step of a tree. A node with no branches and no default_next is terminal.
type Node struct {
	Key         string       `json:"key" yaml:"key"`
	Type        NodeType     `json:"type" yaml:"type"`
	Prompt      string       `json:"prompt,omitempty" yaml:"prompt"`
	Branches    []BranchRule `json:"branches,omitempty" yaml:"branches"`
	DefaultNext string       `json:"default_next,omitempty" yaml:"default_next"`
	Action      *ActionSpec  `json:"action,omitempty" yaml:"action"`
	// CollectKey stores the raw utterance answering this node.
	CollectKey string `json:"collect_key,omitempty" yaml:"collect_key"`
}

func (n Node) Terminal() bool {
	return n.Type == NodeEnd || (len(n.Branches) == 0 && n.DefaultNext == "")
}

// Tree is a reusable branching script started by a trigger.
type Tree struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Trigger string `json:"trigger" yaml:"trigger"`
	// PipelineStage restricts the tree when set.
	PipelineStage string `json:"pipeline_stage,omitempty" yaml:"pipeline_stage"`
	Active        bool   `json:"active" yaml:"active"`
	Nodes         []Node `json:"nodes" yaml:"nodes"`
}

func (t Tree) Node(key string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.Key == key {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode is the node keyed "start", else the first declared node.
func (t Tree) StartNode() (Node, bool) {
	if n, ok := t.Node("start"); ok {
		return n, true
	}
	if len(t.Nodes) == 0 {
		return Node{}, false
	}
	return t.Nodes[0], true
}

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusEscalated  Status = "escalated"
)

// PendingObjection is a surfaced objection response awaiting the customer's reaction.
type PendingObjection struct {
	HandlerID string `json:"handler_id"`
	Statement string `json:"statement"`
	Response  string `json:"response"`
}

// Execution is one live run of a tree. Terminal once Status != in_progress.
type Execution struct {
	ID          string            `json:"id"`
	TreeID      string            `json:"tree_id"`
	CustomerID  string            `json:"customer_id"`
	CurrentNode string            `json:"current_node"`
	Status      Status            `json:"status"`
	Data        map[string]string `json:"data"`
	// Path holds every node entered, revisits included.
	Path    []string `json:"path"`
	Outcome string   `json:"outcome,omitempty"`

	Pending      *PendingObjection `json:"pending_objection,omitempty"`
	AssignmentID string            `json:"assignment_id,omitempty"`

	// Version guards concurrent writers; the store rejects stale saves.
	Version   int        `json:"version"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (e Execution) Open() bool { return e.Status == StatusInProgress }

func (e Execution) clone() Execution {
	out := e
	out.Data = make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	out.Path = append([]string(nil), e.Path...)
	if e.Pending != nil {
		p := *e.Pending
		out.Pending = &p
	}
	return out
}
