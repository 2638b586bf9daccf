// Package directory is the in-memory cache of available and active orders.
// It is mutated by socket pushes, REST snapshot merges and the acceptance
// flow; every mutation goes through one of its locked methods so callers
// never observe a torn intermediate state.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

type Directory struct {
	mu        sync.RWMutex
	available map[string]models.Order
	active    map[string]models.Order
	count     int

	// pendingOffer points at the most recent broadcast for the accept
	// popup; last write wins.
	pendingOffer *models.Order
	hasNewOrder  bool
}

func New() *Directory {
	return &Directory{
		available: make(map[string]models.Order),
		active:    make(map[string]models.Order),
	}
}

// ApplyBroadcast records a pushed order offer and reports whether it was
// applied. An order already held as active is never re-added to the
// available set.
func (d *Directory) ApplyBroadcast(o models.Order) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.active[o.ID]; held {
		return false
	}
	if _, seen := d.available[o.ID]; !seen {
		d.count++
	}
	o.Status = models.StatusAvailable
	d.available[o.ID] = o
	d.pendingOffer = &o
	d.hasNewOrder = true
	return true
}

// ApplyAcceptedElsewhere drops an order another driver won. Calling it
// twice for the same id is a no-op the second time.
func (d *Directory) ApplyAcceptedElsewhere(orderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeAvailableLocked(orderID)
}

// RemoveAvailable drops an order from the available set if present.
func (d *Directory) RemoveAvailable(orderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeAvailableLocked(orderID)
}

func (d *Directory) removeAvailableLocked(orderID string) {
	if _, ok := d.available[orderID]; !ok {
		return
	}
	delete(d.available, orderID)
	if d.count > 0 {
		d.count--
	}
	if d.pendingOffer != nil && d.pendingOffer.ID == orderID {
		d.pendingOffer = nil
	}
}

// Activate moves an order from the available set into the active set,
// typically after a successful acceptance.
func (d *Directory) Activate(o models.Order) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeAvailableLocked(o.ID)
	if o.Status == models.StatusAvailable || o.Status == "" {
		o.Status = models.StatusAccepted
	}
	d.active[o.ID] = o
}

// AdvanceActive applies a status transition to an active order. A
// terminal status removes the order from the active set. The moved order
// and whether the transition was legal are returned.
func (d *Directory) AdvanceActive(orderID string, to models.OrderStatus) (models.Order, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.active[orderID]
	if !ok || !models.CanTransition(o.Status, to) {
		return models.Order{}, false
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	if to.Terminal() {
		delete(d.active, orderID)
	} else {
		d.active[orderID] = o
	}
	return o, true
}

// MergeAvailable folds a REST snapshot into the available set. Snapshot
// rows win only when not older than what we already hold; push-delivered
// orders newer than the fetch survive even when the snapshot misses them.
func (d *Directory) MergeAvailable(orders []models.Order, fetchedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		seen[o.ID] = true
		if _, held := d.active[o.ID]; held {
			continue
		}
		cur, ok := d.available[o.ID]
		if ok && cur.UpdatedAt.After(o.UpdatedAt) {
			continue
		}
		if !ok {
			d.count++
		}
		o.Status = models.StatusAvailable
		d.available[o.ID] = o
	}
	for id, o := range d.available {
		if seen[id] {
			continue
		}
		if o.UpdatedAt.After(fetchedAt) || o.CreatedAt.After(fetchedAt) {
			continue
		}
		delete(d.available, id)
		if d.count > 0 {
			d.count--
		}
	}
}

// MergeActive folds a by-status snapshot into the active set, same
// timestamp rule as MergeAvailable. It never resurrects completed orders.
func (d *Directory) MergeActive(orders []models.Order) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		cur, ok := d.active[o.ID]
		if ok && cur.UpdatedAt.After(o.UpdatedAt) {
			continue
		}
		delete(d.available, o.ID)
		d.active[o.ID] = o
	}
}

// SetAvailableCount applies a server-pushed count.
func (d *Directory) SetAvailableCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 {
		n = 0
	}
	d.count = n
}

func (d *Directory) AvailableCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.count
}

// SnapshotAvailable returns a copy of the available set, newest first.
func (d *Directory) SnapshotAvailable() []models.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Order, 0, len(d.available))
	for _, o := range d.available {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Active returns a copy of the active order set. The canonical shape is a
// set: a driver may hold several orders in different phases.
func (d *Directory) Active() []models.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Order, 0, len(d.active))
	for _, o := range d.active {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveOrder returns the single oldest active order for UI convenience.
func (d *Directory) ActiveOrder() (models.Order, bool) {
	actives := d.Active()
	if len(actives) == 0 {
		return models.Order{}, false
	}
	return actives[0], true
}

func (d *Directory) HasActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active) > 0
}

// PendingOffer returns the popup slot without clearing it.
func (d *Directory) PendingOffer() (models.Order, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.pendingOffer == nil {
		return models.Order{}, false
	}
	return *d.pendingOffer, true
}

// ConsumeNewOrderFlag reports and clears the new-order notification flag.
func (d *Directory) ConsumeNewOrderFlag() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.hasNewOrder
	d.hasNewOrder = false
	return was
}

// Clear wipes all cached state; used on logout.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = make(map[string]models.Order)
	d.active = make(map[string]models.Order)
	d.count = 0
	d.pendingOffer = nil
	d.hasNewOrder = false
}
