package store

import (
	"context"
	"sync"
)

// MemoryStore keeps only the latest record per channel. It is the
// fallback when no Redis address is configured, so local runs still
// exercise the full publish path.
type MemoryStore struct {
	mu     sync.RWMutex
	driver map[string]DriverRecord
	orders map[string]OrderRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		driver: make(map[string]DriverRecord),
		orders: make(map[string]OrderRecord),
	}
}

func (m *MemoryStore) WriteDriver(_ context.Context, rec DriverRecord) error {
	m.mu.Lock()
	m.driver[rec.DriverID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) WriteOrder(_ context.Context, rec OrderRecord) error {
	m.mu.Lock()
	m.orders[rec.OrderID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Driver(driverID string) (DriverRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.driver[driverID]
	return rec, ok
}

func (m *MemoryStore) Order(orderID string) (OrderRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[orderID]
	return rec, ok
}
