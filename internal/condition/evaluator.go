package condition

import (
	"log/slog"
	"time"
)

// Evaluator binds Evaluate to a clock and logs fail-open decisions.
type Evaluator struct {
	Now func() time.Time
	Log *slog.Logger
}

func NewEvaluator(log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{Now: time.Now, Log: log}
}

// ShouldSkip reports whether the action gated by c should be skipped.
func (e *Evaluator) ShouldSkip(c *Condition, s Signals) Result {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	res := Evaluate(c, s, now().UTC())
	if res.Reason == ReasonFailOpen && e.Log != nil {
		e.Log.Warn("condition not evaluable, action will execute", "if", c.Raw, "then", string(c.Then))
	}
	return res
}
