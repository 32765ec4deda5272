package objection

import (
	"encoding/json"
	"strings"
	"time"

	"engagement-platform/pkg/utils"
)

// NextKind is what a matched handler asks the dialog to do next.
type NextKind string

const (
	NextNone     NextKind = ""
	NextEscalate NextKind = "escalate"
	NextEnd      NextKind = "end"
	NextGoto     NextKind = "goto"
)

// NextAction is decoded from a single string: "escalate", "end", or a node key.
type NextAction struct {
	Kind NextKind
	Node string
}

func ParseNextAction(s string) NextAction {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return NextAction{}
	case string(NextEscalate):
		return NextAction{Kind: NextEscalate}
	case string(NextEnd):
		return NextAction{Kind: NextEnd}
	}
	return NextAction{Kind: NextGoto, Node: strings.TrimPrefix(s, "goto:")}
}

func (n NextAction) String() string {
	if n.Kind == NextGoto {
		return n.Node
	}
	return string(n.Kind)
}

func (n NextAction) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

func (n *NextAction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*n = ParseNextAction(s)
	return nil
}

func (n *NextAction) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*n = ParseNextAction(s)
	return nil
}

// Handler is a pattern-triggered canned response to customer pushback.
type Handler struct {
	ID            string   `json:"id" yaml:"id"`
	TriggerPhrase string   `json:"trigger_phrase" yaml:"trigger_phrase"`
	Keywords      []string `json:"keywords,omitempty" yaml:"keywords"`

	Response string     `json:"response" yaml:"response"`
	FollowUp string     `json:"follow_up,omitempty" yaml:"follow_up"`
	Next     NextAction `json:"next_action" yaml:"next_action"`

	// Priority orders matching, highest first.
	Priority int `json:"priority" yaml:"priority"`
	// Industries restricts the handler when non-empty.
	Industries []string `json:"industries,omitempty" yaml:"industries"`

	// SuccessRate is a running 0-100 estimate, see RecordUsage.
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
	UsageCount  int     `json:"usage_count" yaml:"usage_count"`
	Active      bool    `json:"active" yaml:"active"`
}

// Render fills {{name}} placeholders in the response and follow-up.
func (h Handler) Render(vars map[string]string) (response, followUp string) {
	return utils.RenderTemplate(h.Response, vars), utils.RenderTemplate(h.FollowUp, vars)
}

func (h Handler) allows(industry string) bool {
	if len(h.Industries) == 0 {
		return true
	}
	for _, i := range h.Industries {
		if strings.EqualFold(strings.TrimSpace(i), industry) {
			return true
		}
	}
	return false
}

// Encounter is an append-only record of one handled objection. Never mutated.
type Encounter struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	HandlerID   string    `json:"handler_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Statement   string    `json:"statement"`
	Response    string    `json:"response"`
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}
