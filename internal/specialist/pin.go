package specialist

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Pin is an operator-set, expiry-bounded override that routes a customer to a specific
// specialist ahead of scoring. Pins are internal: the match result does not reveal that
// one was used, but every applied pin is audited.
type Pin struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	SpecialistID string    `json:"specialist_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var ErrInvalidPin = errors.New("specialist: pin requires customer, specialist and expiry")

func (p Pin) valid() bool {
	return p.CustomerID != "" && p.SpecialistID != "" && !p.ExpiresAt.IsZero()
}

// PinStore resolves currently-active pins.
// If none exists, ActivePin returns (Pin{}, false, nil).
type PinStore interface {
	ActivePin(ctx context.Context, customerID string, now time.Time) (Pin, bool, error)
}

// PinWriter sets a customer's pin, replacing any previous one.
type PinWriter interface {
	PutPin(ctx context.Context, p Pin) error
}

type MemoryPinStore struct {
	mu   sync.Mutex
	pins map[string]Pin
}

func NewMemoryPinStore() *MemoryPinStore {
	return &MemoryPinStore{pins: map[string]Pin{}}
}

func (m *MemoryPinStore) PutPin(ctx context.Context, p Pin) error {
	if !p.valid() {
		return ErrInvalidPin
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[p.CustomerID] = p
	return nil
}

func (m *MemoryPinStore) ActivePin(ctx context.Context, customerID string, now time.Time) (Pin, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pins[customerID]
	if !ok || !p.ExpiresAt.After(now) {
		return Pin{}, false, nil
	}
	return p, true, nil
}
