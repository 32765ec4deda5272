package customer

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("customer: not found")

// Directory is the read-only lookup contract the engine consumes.
type Directory interface {
	Get(ctx context.Context, id string) (Customer, error)
	FindByPhone(ctx context.Context, phone string) (Customer, error)
}

// MemoryDirectory is an in-memory Directory useful for tests and local runs.
type MemoryDirectory struct {
	mu        sync.RWMutex
	customers map[string]Customer
}

func NewMemoryDirectory(cs ...Customer) *MemoryDirectory {
	d := &MemoryDirectory{customers: map[string]Customer{}}
	for _, c := range cs {
		d.customers[c.ID] = c
	}
	return d
}

// Put inserts or replaces a customer.
func (d *MemoryDirectory) Put(c Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[c.ID] = c
}

func (d *MemoryDirectory) Get(ctx context.Context, id string) (Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (d *MemoryDirectory) FindByPhone(ctx context.Context, phone string) (Customer, error) {
	phone = strings.TrimSpace(phone)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.customers {
		if phone != "" && c.Phone == phone {
			return c, nil
		}
	}
	return Customer{}, ErrNotFound
}
