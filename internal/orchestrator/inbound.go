package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"engagement-platform/internal/channel"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/signals"
)

// Inbound is one customer utterance from any conversation transport.
// CustomerID wins over Phone when both are set.
type Inbound struct {
	CustomerID string           `json:"customer_id"`
	Phone      string           `json:"phone"`
	Channel    customer.Channel `json:"channel"`
	Body       string           `json:"body"`
	ReceivedAt time.Time        `json:"received_at"`
	ExternalID string           `json:"external_id,omitempty"`
}

// Reply is what to send back for one inbound message.
type Reply struct {
	CustomerID string `json:"customer_id"`
	// Execution is nil when no dialog tree handles inbound messages.
	Execution *dialog.Execution `json:"execution,omitempty"`
	Started   bool              `json:"started"`
	Replies   []string          `json:"replies,omitempty"`
	Objection string            `json:"objection_id,omitempty"`
}

// HandleInbound feeds the utterance to the customer's open conversation, or opens one on
// the inbound tree and feeds it there. An inbound SMS also counts as an sms_replied signal.
func (o *Orchestrator) HandleInbound(ctx context.Context, in Inbound) (Reply, error) {
	c, err := o.resolve(ctx, in)
	if err != nil {
		return Reply{}, err
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = time.Now().UTC()
	}
	if in.Channel == customer.ChannelSMS && o.Signals != nil {
		if _, err := o.Signals.Record(ctx, signals.Event{
			CustomerID: c.ID, Signal: signals.SMSReplied, OccurredAt: in.ReceivedAt,
			Source: "inbound", ExternalID: in.ExternalID,
		}); err != nil {
			o.Log.Warn("sms reply signal not recorded", "customer_id", c.ID, "err", err)
		}
	}

	out := Reply{CustomerID: c.ID}
	exec, err := o.Dialogs.ActiveFor(ctx, c.ID)
	if errors.Is(err, dialog.ErrNotFound) {
		start, err := o.Dialogs.Start(ctx, InboundTrigger, c)
		if errors.Is(err, dialog.ErrNoTree) {
			o.Log.Info("no dialog tree for inbound message", "customer_id", c.ID)
			return out, nil
		}
		if err != nil {
			return Reply{}, err
		}
		out.Started = true
		out.Replies = start.Replies
		exec = start.Execution
	} else if err != nil {
		return Reply{}, err
	}

	if !exec.Open() {
		// The start node itself was terminal.
		out.Execution = &exec
		return out, nil
	}
	turn, err := o.advance(ctx, exec.ID, in.Body)
	if err != nil {
		return Reply{}, err
	}
	out.Execution = &turn.Execution
	out.Replies = append(out.Replies, turn.Replies...)
	if turn.Objection != nil {
		out.Objection = turn.Objection.ID
	}
	return out, nil
}

// advance retries once on a version conflict; a second conflict is returned.
func (o *Orchestrator) advance(ctx context.Context, executionID, body string) (dialog.Turn, error) {
	turn, err := o.Dialogs.Advance(ctx, executionID, body)
	if errors.Is(err, dialog.ErrConflict) {
		o.Log.Debug("dialog advance conflict, retrying", "execution_id", executionID)
		turn, err = o.Dialogs.Advance(ctx, executionID, body)
	}
	return turn, err
}

func (o *Orchestrator) resolve(ctx context.Context, in Inbound) (customer.Customer, error) {
	if id := strings.TrimSpace(in.CustomerID); id != "" {
		return o.Customers.Get(ctx, id)
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		return o.Customers.FindByPhone(ctx, phone)
	}
	return customer.Customer{}, errors.New("orchestrator: customer_id or phone required")
}

// RecordSignal merges one engagement event into the customer's signal state.
func (o *Orchestrator) RecordSignal(ctx context.Context, ev signals.Event) (signals.Record, error) {
	return o.Signals.Record(ctx, ev)
}

// RecordCallStatus turns a voice status callback into signals for the called customer.
// Unknown numbers are ignored.
func (o *Orchestrator) RecordCallStatus(ctx context.Context, st channel.TwilioCallStatus, at time.Time) ([]signals.Record, error) {
	c, err := o.Customers.FindByPhone(ctx, st.CustomerPhone())
	if errors.Is(err, customer.ErrNotFound) {
		o.Log.Info("call status for unknown number", "call_sid", st.CallSid)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []signals.Record
	for _, ev := range st.Events(c.ID, at) {
		rec, err := o.Signals.Record(ctx, ev)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
