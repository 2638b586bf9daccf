// Package proximity raises an arrival alarm when the driver's live
// position nears an active order's destination. A hysteresis band between
// the arm and disarm radii keeps GPS jitter from re-triggering the alarm.
package proximity

import (
	"log/slog"
	"sync"

	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
)

const (
	// ArmMeters is the arrival radius.
	ArmMeters = 200.0
	// DisarmMeters must be exceeded before an order can alert again.
	DisarmMeters = 300.0
)

// Alarm is the audible/haptic effect pair. Start begins a continuous
// alarm; Stop must cancel both effects. Implementations are safe to call
// from multiple goroutines.
type Alarm interface {
	Start()
	Stop()
}

type Alerter struct {
	mu       sync.Mutex
	alarm    Alarm
	log      *slog.Logger
	notified map[string]bool

	armAt    float64
	disarmAt float64
}

func NewAlerter(alarm Alarm, log *slog.Logger) *Alerter {
	return &Alerter{
		alarm:    alarm,
		log:      log,
		notified: make(map[string]bool),
		armAt:    ArmMeters,
		disarmAt: DisarmMeters,
	}
}

// Check evaluates one order/sample pair. An order without a destination is
// skipped. Entering the arm radius alerts exactly once; the order re-arms
// only after the distance exceeds the disarm radius.
func (a *Alerter) Check(o models.Order, s models.LocationSample) {
	if o.Destination == nil {
		return
	}
	dist := geo.Haversine(s.Lat, s.Lon, o.Destination.Lat, o.Destination.Lng)

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case dist <= a.armAt && !a.notified[o.ID]:
		a.notified[o.ID] = true
		observability.ProximityAlertsTotal.Inc()
		a.log.Info("arrival alert", "order_id", o.ID, "distance_m", dist)
		a.alarm.Start()
	case dist > a.disarmAt && a.notified[o.ID]:
		delete(a.notified, o.ID)
	}
}

// Acknowledge stops the ringing alarm. The notified mark persists, so the
// same approach does not ring again until the driver has moved past the
// disarm radius.
func (a *Alerter) Acknowledge() {
	a.alarm.Stop()
}

// Forget drops an order's alert state and silences the alarm; called when
// the order completes.
func (a *Alerter) Forget(orderID string) {
	a.mu.Lock()
	delete(a.notified, orderID)
	a.mu.Unlock()
	a.alarm.Stop()
}

// Reset clears all per-order state and silences the alarm; used on logout
// and when the session goes offline.
func (a *Alerter) Reset() {
	a.mu.Lock()
	a.notified = make(map[string]bool)
	a.mu.Unlock()
	a.alarm.Stop()
}
