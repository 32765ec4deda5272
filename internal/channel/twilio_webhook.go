package channel

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"engagement-platform/internal/signals"
)

// TwilioInboundMessage captures the subset of messaging webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/messaging/guides/webhook-request

type TwilioInboundMessage struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
}

func ParseTwilioInboundMessage(r *http.Request) (TwilioInboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundMessage{}, err
	}
	return TwilioInboundMessage{
		MessageSid: r.PostFormValue("MessageSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       strings.TrimSpace(r.PostFormValue("Body")),
	}, nil
}

// TwilioCallStatus is a voice status callback.
type TwilioCallStatus struct {
	CallSid    string
	From       string
	To         string
	Status     signals.CallStatus
	Duration   int
	AnsweredBy string
}

func ParseTwilioCallStatus(r *http.Request) (TwilioCallStatus, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallStatus{}, err
	}
	f := TwilioCallStatus{
		CallSid:    r.PostFormValue("CallSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Status:     signals.ParseCallStatus(r.PostFormValue("CallStatus")),
		AnsweredBy: r.PostFormValue("AnsweredBy"),
	}
	if d := r.PostFormValue("CallDuration"); d != "" {
		n, err := strconv.Atoi(d)
		if err == nil {
			f.Duration = n
		}
	}
	return f, nil
}

// Events maps the callback to engagement signal events for the called customer.
// A machine-answered ringless voicemail counts as delivered, not answered.
func (f TwilioCallStatus) Events(customerID string, at time.Time) []signals.Event {
	var names []string
	if strings.HasPrefix(f.AnsweredBy, "machine") && f.Status == signals.CallStatusCompleted {
		names = []string{signals.VoicemailDelivered}
	} else {
		names = signals.SignalsForCallStatus(f.Status, f.Duration)
	}
	out := make([]signals.Event, 0, len(names))
	for _, n := range names {
		out = append(out, signals.Event{
			CustomerID: customerID,
			Signal:     n,
			OccurredAt: at,
			Source:     "twilio",
			ExternalID: f.CallSid,
		})
	}
	return out
}

// The called party is "To" on outbound calls.
func (f TwilioCallStatus) CustomerPhone() string { return f.To }

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
