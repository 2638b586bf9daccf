// Package telemetry streams the driver's position into the real-time
// store: a fixed-cadence driver channel plus a per-order channel whose
// cadence adapts to the delivery phase.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/directory"
	"github.com/example/courier-dispatch/internal/eta"
	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/proximity"
	"github.com/example/courier-dispatch/internal/store"
)

// Source exposes the latest GPS sample; the sampling itself lives in the
// device layer.
type Source interface {
	Latest() (models.LocationSample, bool)
}

// DefaultInterval is the fixed driver-channel cadence.
const DefaultInterval = 3 * time.Second

// intervalForStatus keys the per-order cadence off the delivery phase.
// Delivered (and any other terminal phase) stops the cadence.
func intervalForStatus(s models.OrderStatus) time.Duration {
	switch s {
	case models.StatusAccepted:
		return 10 * time.Second
	case models.StatusPickedUp:
		return 5 * time.Second
	case models.StatusInTransit:
		return 3 * time.Second
	default:
		return 0
	}
}

// Publisher fans each tick out to the per-driver channel and one channel
// per active order. Every write is independent and at-most-once: failures
// are counted and logged, never retried and never surfaced.
type Publisher struct {
	store  store.Store
	mirror *store.KafkaMirror // optional
	source Source
	dir    *directory.Directory
	prox   *proximity.Alerter
	log    *slog.Logger

	driverID   string
	driverName string
	online     func() bool
	est        eta.Estimator // optional

	driverInterval time.Duration

	mu          sync.Mutex
	running     bool
	driverSched *scheduler
	orderSched  *scheduler
}

func NewPublisher(st store.Store, mirror *store.KafkaMirror, src Source, dir *directory.Directory, prox *proximity.Alerter, log *slog.Logger, driverID, driverName string, online func() bool) *Publisher {
	return &Publisher{
		store:          st,
		mirror:         mirror,
		source:         src,
		dir:            dir,
		prox:           prox,
		log:            log,
		driverID:       driverID,
		driverName:     driverName,
		online:         online,
		driverInterval: DefaultInterval,
	}
}

// SetDriverInterval overrides the fixed cadence; tests shrink it.
// SetEstimator enables arrival estimates on the order channel.
func (p *Publisher) SetEstimator(est eta.Estimator) {
	p.est = est
}

func (p *Publisher) SetDriverInterval(d time.Duration) {
	if d > 0 {
		p.driverInterval = d
	}
}

// Start begins publishing. Idempotent while running.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.driverSched = newScheduler(p.driverInterval, p.tickDriver)
	p.orderSched = newScheduler(p.activeIntervalLocked(), p.tickOrders)
	p.driverSched.start(ctx)
	p.orderSched.start(ctx)
	p.log.Info("telemetry started", "driver_id", p.driverID, "interval", p.driverInterval)
}

// Stop cancels both cadences and waits for the loops to exit; leaking a
// timer past teardown is a bug this guards against explicitly.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	driver, order := p.driverSched, p.orderSched
	p.driverSched, p.orderSched = nil, nil
	p.mu.Unlock()

	driver.stop()
	order.stop()
	p.log.Info("telemetry stopped", "driver_id", p.driverID)
}

func (p *Publisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RecomputeCadence re-derives the per-order interval from the active
// set; call it whenever an order is activated, advances phase or
// completes.
func (p *Publisher) RecomputeCadence() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.orderSched.setInterval(p.activeIntervalLocked())
}

// activeIntervalLocked picks the fastest cadence demanded by any active
// order; zero pauses the per-order channel.
func (p *Publisher) activeIntervalLocked() time.Duration {
	var min time.Duration
	for _, o := range p.dir.Active() {
		d := intervalForStatus(o.Status)
		if d <= 0 {
			continue
		}
		if min == 0 || d < min {
			min = d
		}
	}
	return min
}

func (p *Publisher) tickDriver(ctx context.Context) {
	sample, ok := p.source.Latest()
	if !ok {
		return
	}
	actives := p.dir.Active()
	ids := make([]string, 0, len(actives))
	for _, o := range actives {
		ids = append(ids, o.ID)
	}
	status := "Available"
	if len(ids) > 0 {
		status = "Delivering"
	}
	rec := store.DriverRecord{
		DriverID:       p.driverID,
		Name:           p.driverName,
		Lat:            sample.Lat,
		Lon:            sample.Lon,
		Accuracy:       sample.Accuracy,
		Online:         p.online(),
		Tracking:       true,
		ActiveOrderIDs: ids,
		Status:         status,
		Timestamp:      sample.At.UnixMilli(),
	}
	if err := p.store.WriteDriver(ctx, rec); err != nil {
		observability.TelemetryWriteFailures.WithLabelValues("driver").Inc()
		p.log.Warn("driver telemetry write failed", "error", err)
		return
	}
	observability.TelemetryWritesTotal.WithLabelValues("driver").Inc()
	if p.mirror != nil {
		if err := p.mirror.MirrorDriver(rec); err != nil {
			p.log.Warn("driver telemetry mirror failed", "error", err)
		}
	}
}

func (p *Publisher) tickOrders(ctx context.Context) {
	sample, ok := p.source.Latest()
	if !ok {
		return
	}
	for _, o := range p.dir.Active() {
		rec := orderRecord(o, sample, p.driverID, p.driverName)
		p.annotateProgress(&rec, o, sample)
		if err := p.store.WriteOrder(ctx, rec); err != nil {
			// independent and best-effort: one failed order write
			// neither blocks the others nor retries
			observability.TelemetryWriteFailures.WithLabelValues("order").Inc()
			p.log.Warn("order telemetry write failed", "order_id", o.ID, "error", err)
			continue
		}
		observability.TelemetryWritesTotal.WithLabelValues("order").Inc()
		if p.mirror != nil {
			if err := p.mirror.MirrorOrder(rec); err != nil {
				p.log.Warn("order telemetry mirror failed", "order_id", o.ID, "error", err)
			}
		}
		p.prox.Check(o, sample)
	}
}

// annotateProgress fills distance and ETA to the next waypoint: the
// restaurant until the food is picked up, the customer after.
func (p *Publisher) annotateProgress(rec *store.OrderRecord, o models.Order, s models.LocationSample) {
	waypoint := o.Destination
	if o.Status == models.StatusAccepted {
		waypoint = o.Restaurant
	}
	if waypoint == nil {
		return
	}
	rec.DistanceMeters = geo.Haversine(s.Lat, s.Lon, waypoint.Lat, waypoint.Lng)
	if p.est == nil {
		return
	}
	secs, err := p.est.EstimateSeconds(s.Lat, s.Lon, waypoint.Lat, waypoint.Lng)
	if err != nil {
		p.log.Debug("eta lookup failed", "order_id", o.ID, "error", err)
		return
	}
	rec.EtaSeconds = secs
}

// orderRecord carries only the fields the order actually has; absent
// optionals are omitted rather than written as nulls.
func orderRecord(o models.Order, s models.LocationSample, driverID, driverName string) store.OrderRecord {
	return store.OrderRecord{
		OrderID:       o.ID,
		OrderCode:     o.Code,
		Status:        string(o.Status),
		DriverID:      driverID,
		DriverName:    driverName,
		Lat:           s.Lat,
		Lon:           s.Lon,
		Accuracy:      s.Accuracy,
		DeliveryFee:   float64(o.DeliveryFee),
		Tip:           float64(o.Tip),
		Restaurant:    o.Restaurant,
		Destination:   o.Destination,
		PickupCode:    o.PickupCode,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Description:   o.Description,
		Timestamp:     s.At.UnixMilli(),
	}
}
