// Package storagetest holds an in-memory storage.Provider and a shared
// conformance suite for provider implementations.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/storage"
)

type record struct {
	data    []byte
	expires time.Time
}

// Memory is a storage.Provider backed by a map. Records round-trip through
// JSON like the real backends.
type Memory struct {
	mu      sync.Mutex
	records map[string]record
	saves   map[string]int
	down    bool
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]record),
		saves:   make(map[string]int),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetDown makes every call fail with storage.ErrUnavailable.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Saves returns how many times the cart of ownerID was saved.
func (m *Memory) Saves(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[models.CartKey(ownerID)]
}

// Has reports whether key holds an unexpired record.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok
}

// Put stores cart directly, bypassing save accounting.
func (m *Memory) Put(cart *models.Cart, ttl time.Duration) {
	data, _ := json.Marshal(cart)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[models.CartKey(cart.UserID)] = record{data: data, expires: m.expiry(ttl)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check("init")
}

func (m *Memory) Get(ctx context.Context, ownerID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get"); err != nil {
		return nil, err
	}
	rec, ok := m.lookup(models.CartKey(ownerID))
	if !ok {
		return nil, nil
	}
	var cart models.Cart
	if err := json.Unmarshal(rec.data, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (m *Memory) Save(ctx context.Context, cart *models.Cart, ttl time.Duration) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("save"); err != nil {
		return err
	}
	key := models.CartKey(cart.UserID)
	m.records[key] = record{data: data, expires: m.expiry(ttl)}
	m.saves[key]++
	return nil
}

func (m *Memory) Delete(ctx context.Context, ownerID string) error {
	return m.DeleteKey(ctx, models.CartKey(ownerID))
}

func (m *Memory) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("set_nx"); err != nil {
		return false, err
	}
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.records[key] = record{data: []byte(`"locked"`), expires: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) DeleteKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete"); err != nil {
		return err
	}
	delete(m.records, key)
	return nil
}

func (m *Memory) Health(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

func (m *Memory) Close() error { return nil }

// check must be called with mu held.
func (m *Memory) check(op string) error {
	if m.down {
		return fmt.Errorf("%w: memory %s", storage.ErrUnavailable, op)
	}
	return nil
}

func (m *Memory) lookup(key string) (record, bool) {
	rec, ok := m.records[key]
	if !ok {
		return record{}, false
	}
	if !rec.expires.IsZero() && !m.now().Before(rec.expires) {
		delete(m.records, key)
		return record{}, false
	}
	return rec, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

var _ storage.Provider = (*Memory)(nil)
