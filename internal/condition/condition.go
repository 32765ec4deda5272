// Package condition evaluates the declarative gating conditions attached to timeline actions.
//
// A condition answers one question: should this action be skipped? An action with no
// condition, or with a condition the engine does not understand, always executes.
package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of predicates the engine understands.
type Kind string

const (
	KindSignalWithin   Kind = "signal_opened_within"
	KindScoreAbove     Kind = "score_above"
	KindSignalRecorded Kind = "signal_recorded"
	KindUnknown        Kind = "unknown"
)

// Effect is what a true predicate does to the action.
type Effect string

const EffectSkip Effect = "skip"

// Condition is the decoded form of the JSON DSL:
//
//	{"if": "signal_opened_within(email, 48)", "then": "skip"}
//	{"if": "score_above", "field": "lead_score", "threshold": 80, "then": "skip"}
//
// Arguments may be inline in "if" or given as separate keys; inline wins.
type Condition struct {
	Kind Kind `json:"-"`
	// Raw keeps the original predicate text for logs and audit.
	Raw string `json:"if"`

	Signal      string  `json:"signal,omitempty"`
	Field       string  `json:"field,omitempty"`
	WithinHours int     `json:"within_hours,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`

	Then Effect `json:"then,omitempty"`
}

type wireCondition struct {
	If          string   `json:"if" yaml:"if"`
	Signal      string   `json:"signal,omitempty" yaml:"signal"`
	Field       string   `json:"field,omitempty" yaml:"field"`
	WithinHours *int     `json:"within_hours,omitempty" yaml:"within_hours"`
	Threshold   *float64 `json:"threshold,omitempty" yaml:"threshold"`
	Then        string   `json:"then,omitempty" yaml:"then"`
}

// UnmarshalJSON decodes the wire form into a Condition. Malformed predicate arguments do not
// fail decoding; the condition becomes KindUnknown so the action still fires.
func (c *Condition) UnmarshalJSON(b []byte) error {
	var w wireCondition
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Condition{Raw: w.If, Signal: w.Signal, Field: w.Field, Then: Effect(strings.TrimSpace(w.Then))}
	if w.WithinHours != nil {
		out.WithinHours = *w.WithinHours
	}
	if w.Threshold != nil {
		out.Threshold = *w.Threshold
	}
	out.Kind = out.resolve()
	*c = out
	return nil
}

// UnmarshalYAML lets definition files use the same keys as the JSON DSL.
func (c *Condition) UnmarshalYAML(unmarshal func(any) error) error {
	var w wireCondition
	if err := unmarshal(&w); err != nil {
		return err
	}
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.UnmarshalJSON(b)
}

// Parse decodes a raw JSON condition. Empty input, "null" and "{}" mean no condition.
func Parse(raw []byte) (*Condition, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "{}" {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	return &c, nil
}

// MarshalJSON writes the keyed wire form.
func (c Condition) MarshalJSON() ([]byte, error) {
	w := wireCondition{If: c.Raw, Signal: c.Signal, Field: c.Field, Then: string(c.Then)}
	if c.WithinHours != 0 {
		h := c.WithinHours
		w.WithinHours = &h
	}
	if c.Threshold != 0 {
		t := c.Threshold
		w.Threshold = &t
	}
	return json.Marshal(w)
}

// resolve parses Raw, folds inline arguments into the struct and returns the kind.
func (c *Condition) resolve() Kind {
	name, args, ok := splitCall(c.Raw)
	if !ok {
		return KindUnknown
	}
	switch Kind(name) {
	case KindSignalWithin:
		if len(args) >= 1 {
			c.Signal = args[0]
		}
		if len(args) >= 2 {
			h, err := strconv.Atoi(args[1])
			if err != nil {
				return KindUnknown
			}
			c.WithinHours = h
		}
		if c.Signal == "" || c.WithinHours <= 0 {
			return KindUnknown
		}
		return KindSignalWithin
	case KindScoreAbove:
		if len(args) >= 1 {
			c.Field = args[0]
		}
		if len(args) >= 2 {
			t, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return KindUnknown
			}
			c.Threshold = t
		}
		if c.Field == "" {
			return KindUnknown
		}
		return KindScoreAbove
	case KindSignalRecorded:
		if len(args) >= 1 {
			c.Signal = args[0]
		}
		if c.Signal == "" {
			return KindUnknown
		}
		return KindSignalRecorded
	default:
		return KindUnknown
	}
}

// splitCall turns "name(a, b)" into ("name", ["a","b"]). A bare "name" has no args.
func splitCall(s string) (string, []string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, false
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, nil, true
	}
	if !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	name := strings.TrimSpace(s[:open])
	inner := strings.TrimSpace(s[open+1 : len(s)-1])
	if inner == "" {
		return name, nil, true
	}
	parts := strings.Split(inner, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		args = append(args, strings.Trim(strings.TrimSpace(p), `"'`))
	}
	return name, args, true
}

// Signals is the snapshot of a customer's engagement state a condition is evaluated against.
type Signals struct {
	// LastEvent maps a signal name (email, email_click, call_answered, ...) to its timestamp.
	LastEvent map[string]time.Time
	// Fields maps numeric profile fields (lead_score, ...) to values.
	Fields map[string]float64
}

// Result is the outcome of one evaluation.
type Result struct {
	Skip bool
	// Reason explains the result for audit; "fail_open" marks an unevaluable condition.
	Reason string
}

// ReasonFailOpen marks conditions that could not be evaluated.
const ReasonFailOpen = "fail_open"

// Evaluate is the pure evaluation function. Identical inputs always give identical results.
func Evaluate(c *Condition, s Signals, now time.Time) Result {
	if c == nil {
		return Result{Reason: "no_condition"}
	}
	if c.Then != "" && c.Then != EffectSkip {
		return Result{Reason: ReasonFailOpen}
	}

	switch c.Kind {
	case KindSignalWithin:
		ts, ok := s.LastEvent[c.Signal]
		if !ok || ts.IsZero() {
			return Result{Reason: "signal_absent"}
		}
		if now.Sub(ts) <= time.Duration(c.WithinHours)*time.Hour {
			return Result{Skip: true, Reason: fmt.Sprintf("%s within %dh", c.Signal, c.WithinHours)}
		}
		return Result{Reason: "signal_stale"}
	case KindScoreAbove:
		v, ok := s.Fields[c.Field]
		if !ok {
			return Result{Reason: "field_absent"}
		}
		if v >= c.Threshold {
			return Result{Skip: true, Reason: fmt.Sprintf("%s >= %g", c.Field, c.Threshold)}
		}
		return Result{Reason: "below_threshold"}
	case KindSignalRecorded:
		if ts, ok := s.LastEvent[c.Signal]; ok && !ts.IsZero() {
			return Result{Skip: true, Reason: c.Signal + " recorded"}
		}
		return Result{Reason: "signal_absent"}
	default:
		return Result{Reason: ReasonFailOpen}
	}
}
