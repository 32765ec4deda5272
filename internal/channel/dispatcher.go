// Package channel is the outbound boundary of the engine: it delivers timeline actions
// over email, SMS, call, and ringless voicemail, and parses provider webhooks.
//
// Rules:
// - No provider SDK calls outside this package.
// - Retry policy belongs to the dispatcher's caller queue, never to the engine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"engagement-platform/internal/customer"
)

var (
	ErrUnsupportedChannel = errors.New("channel: unsupported channel")
	ErrNoAddress          = errors.New("channel: customer has no address for channel")
)

// Payload is what a timeline action asks a channel to deliver.
type Payload struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Receipt is the provider's acknowledgement of a send.
type Receipt struct {
	Delivered  bool   `json:"delivered"`
	ExternalID string `json:"external_id,omitempty"`
}

// Dispatcher sends one payload to one customer. Failures are returned as errors;
// a nil error with Delivered=false means the provider accepted but did not deliver.
type Dispatcher interface {
	Send(ctx context.Context, ch customer.Channel, c customer.Customer, p Payload) (Receipt, error)
}

// Mux routes sends to a per-channel dispatcher.
type Mux struct {
	routes map[customer.Channel]Dispatcher
}

func NewMux() *Mux {
	return &Mux{routes: map[customer.Channel]Dispatcher{}}
}

// Handle mounts d for the given channels, replacing earlier mounts.
func (m *Mux) Handle(d Dispatcher, channels ...customer.Channel) *Mux {
	for _, ch := range channels {
		m.routes[ch] = d
	}
	return m
}

// Unmounted returns the channels, among those given, that have no dispatcher.
func (m *Mux) Unmounted(channels ...customer.Channel) []customer.Channel {
	var out []customer.Channel
	for _, ch := range channels {
		if _, ok := m.routes[ch]; !ok {
			out = append(out, ch)
		}
	}
	return out
}

func (m *Mux) Send(ctx context.Context, ch customer.Channel, c customer.Customer, p Payload) (Receipt, error) {
	d, ok := m.routes[ch]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnsupportedChannel, ch)
	}
	return d.Send(ctx, ch, c, p)
}

// Sent is one recorded MemoryDispatcher send.
type Sent struct {
	Channel    customer.Channel
	CustomerID string
	Payload    Payload
}

// MemoryDispatcher records sends for tests and dry runs. Fail injects an error per channel.
type MemoryDispatcher struct {
	mu   sync.Mutex
	sent []Sent
	fail map[customer.Channel]error
	seq  int
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{fail: map[customer.Channel]error{}}
}

// Fail makes every send on ch return err until cleared with a nil err.
func (d *MemoryDispatcher) Fail(ch customer.Channel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, ch)
		return
	}
	d.fail[ch] = err
}

func (d *MemoryDispatcher) Send(ctx context.Context, ch customer.Channel, c customer.Customer, p Payload) (Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[ch]; ok {
		return Receipt{}, err
	}
	d.seq++
	d.sent = append(d.sent, Sent{Channel: ch, CustomerID: c.ID, Payload: p})
	return Receipt{Delivered: true, ExternalID: fmt.Sprintf("mem-%d", d.seq)}, nil
}

func (d *MemoryDispatcher) Sent() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}

// CountFor returns how many times an action id was sent to a customer.
func (d *MemoryDispatcher) CountFor(customerID, actionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sent {
		if s.CustomerID == customerID && s.Payload.ActionID == actionID {
			n++
		}
	}
	return n
}
