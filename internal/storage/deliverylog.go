package storage

import (
	"sort"
	"sync"
	"time"
)

// Delivery is one completed order as the driver's local history keeps it.
type Delivery struct {
	OrderID     string
	Code        string
	Fee         float64
	Tip         float64
	Total       float64
	DeliveredAt time.Time
}

// DeliveryLog defines persistence for the driver's completed deliveries,
// so the history view works before the first snapshot fetch.
type DeliveryLog interface {
	SaveDelivery(d *Delivery) error
	ListDeliveries(limit int) ([]*Delivery, error)
}

type MemoryLog struct {
	mu         sync.RWMutex
	deliveries []*Delivery
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) SaveDelivery(d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *MemoryLog) ListDeliveries(limit int) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveredAt.After(out[j].DeliveredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
