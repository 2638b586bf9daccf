package storage

import (
	"testing"
	"time"
)

func TestMemoryLogNewestFirstWithLimit(t *testing.T) {
	m := NewMemoryLog()
	base := time.Now()
	for i, id := range []string{"O1", "O2", "O3"} {
		if err := m.SaveDelivery(&Delivery{OrderID: id, DeliveredAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := m.ListDeliveries(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].OrderID != "O3" || got[1].OrderID != "O2" {
		t.Fatalf("deliveries = %v", got)
	}
}
