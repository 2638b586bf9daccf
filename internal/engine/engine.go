// Package engine owns the driver session and reconciles the three event
// sources — socket pushes, REST snapshots and the GPS stream — into one
// consistent view of what order is active and where the driver is.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/directory"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/proximity"
	"github.com/example/courier-dispatch/internal/rest"
	"github.com/example/courier-dispatch/internal/socket"
	"github.com/example/courier-dispatch/internal/storage"
)

// Socket is the slice of the connection manager the engine drives.
type Socket interface {
	SetOnline(online bool)
	SetToken(token string)
	Reconnect() bool
	State() (socket.State, string)
	Accept(ctx context.Context, orderID, driverID string) (models.Order, error)
	Close()
}

// Fetcher is the snapshot/auth REST surface.
type Fetcher interface {
	Login(ctx context.Context, phone, password string) (rest.LoginResult, error)
	AvailableOrders(ctx context.Context) ([]models.Order, error)
	OrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	VerifyDelivery(ctx context.Context, orderID, code string) error
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
	SetToken(token string)
}

// Publisher is the telemetry loop the engine starts and stops with the
// online flag.
type Publisher interface {
	Start(ctx context.Context)
	Stop()
	RecomputeCadence()
	Running() bool
}

// Notifier surfaces user-facing messages; the device layer renders them.
type Notifier interface {
	Notify(message string)
}

// LogNotifier is the headless default.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(message string) { n.Log.Info("notice", "message", message) }

const chatBacklog = 50

type Engine struct {
	log    *slog.Logger
	dir    *directory.Directory
	conn   Socket
	fetch  Fetcher
	pub    Publisher
	prox   *proximity.Alerter
	dlog   storage.DeliveryLog
	notify Notifier

	driverID   string
	driverName string

	mu     sync.Mutex
	online bool
	chats  []models.ChatMessage
}

func New(log *slog.Logger, dir *directory.Directory, conn Socket, fetch Fetcher, pub Publisher, prox *proximity.Alerter, dlog storage.DeliveryLog, notify Notifier, driverID, driverName string) *Engine {
	return &Engine{
		log:        log,
		dir:        dir,
		conn:       conn,
		fetch:      fetch,
		pub:        pub,
		prox:       prox,
		dlog:       dlog,
		notify:     notify,
		driverID:   driverID,
		driverName: driverName,
	}
}

// SessionInfo is a read-only snapshot for the control surface.
type SessionInfo struct {
	DriverID        string         `json:"driverId"`
	DriverName      string         `json:"driverName,omitempty"`
	Online          bool           `json:"online"`
	Connection      string         `json:"connection"`
	ConnectionError string         `json:"connectionError,omitempty"`
	AvailableCount  int            `json:"availableCount"`
	ActiveOrders    []models.Order `json:"activeOrders"`
	Tracking        bool           `json:"tracking"`
}

func (e *Engine) Session() SessionInfo {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	state, errMsg := e.conn.State()
	return SessionInfo{
		DriverID:        e.driverID,
		DriverName:      e.driverName,
		Online:          online,
		Connection:      state.String(),
		ConnectionError: errMsg,
		AvailableCount:  e.dir.AvailableCount(),
		ActiveOrders:    e.dir.Active(),
		Tracking:        e.pub.Running(),
	}
}

func (e *Engine) Directory() *directory.Directory { return e.dir }

// SetOnline flips the session online flag. Going online opens the socket
// (credential permitting) and starts telemetry; going offline
// synchronously closes the socket, cancels every telemetry timer and
// silences any ringing alarm. Cached orders stay visible either way.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return
	}
	e.online = online
	e.mu.Unlock()

	e.conn.SetOnline(online)
	if online {
		// the caller's context is typically request-scoped; telemetry
		// runs until Stop, not until the caller returns
		e.pub.Start(context.WithoutCancel(ctx))
	} else {
		e.pub.Stop()
		e.prox.Acknowledge()
	}
	e.log.Info("session online flag changed", "online", online)
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Reconnect retries the socket; a user-invoked action, never automatic.
func (e *Engine) Reconnect() bool {
	return e.conn.Reconnect()
}

// Login exchanges credentials and installs the token on both transports.
func (e *Engine) Login(ctx context.Context, phone, password string) (rest.LoginResult, error) {
	res, err := e.fetch.Login(ctx, phone, password)
	if err != nil {
		return rest.LoginResult{}, err
	}
	e.conn.SetToken(res.Token)
	return res, nil
}

// ChangePassword forwards the credential change to the backend.
func (e *Engine) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return e.fetch.ChangePassword(ctx, oldPassword, newPassword)
}

// Logout clears the credential and every piece of session state: socket
// down, telemetry stopped, directory and proximity state wiped.
func (e *Engine) Logout() {
	e.SetOnline(context.Background(), false)
	e.conn.SetToken("")
	e.fetch.SetToken("")
	e.dir.Clear()
	e.prox.Reset()
	e.mu.Lock()
	e.chats = nil
	e.mu.Unlock()
	e.log.Info("session cleared")
}

// Accept runs the acceptance protocol for one order. On success the order
// moves from the available set to the active slot, the per-order
// telemetry cadence is (re)initialized and the earnings total is
// surfaced.
func (e *Engine) Accept(ctx context.Context, orderID string) (models.Order, error) {
	o, err := e.conn.Accept(ctx, orderID, e.driverID)
	if err != nil {
		var ae *socket.AcceptError
		if errors.As(err, &ae) {
			observability.AcceptResultsTotal.WithLabelValues(string(ae.Reason)).Inc()
			if ae.Reason == socket.ReasonOrderTaken {
				e.dir.ApplyAcceptedElsewhere(orderID)
			}
			e.notify.Notify(ae.UserMessage())
		}
		return models.Order{}, err
	}

	e.dir.Activate(o)
	e.pub.RecomputeCadence()
	observability.AcceptResultsTotal.WithLabelValues("success").Inc()
	e.notify.Notify(fmt.Sprintf("Order %s accepted. You earn $%.2f for this delivery.", displayCode(o), o.Total()))
	e.log.Info("order accepted", "order_id", o.ID, "total", o.Total())
	return o, nil
}

// AdvanceOrder applies a driver-reported phase change (picked up, in
// transit) and re-derives the telemetry cadence.
func (e *Engine) AdvanceOrder(orderID string, to models.OrderStatus) (models.Order, error) {
	o, ok := e.dir.AdvanceActive(orderID, to)
	if !ok {
		return models.Order{}, fmt.Errorf("order %s cannot move to %s", orderID, to)
	}
	e.pub.RecomputeCadence()
	if to.Terminal() {
		e.prox.Forget(orderID)
	}
	e.log.Info("order advanced", "order_id", orderID, "status", to)
	return o, nil
}

// VerifyDelivery confirms handover with the customer's code, completes
// the order and records it in the local delivery log.
func (e *Engine) VerifyDelivery(ctx context.Context, orderID, code string) error {
	if err := e.fetch.VerifyDelivery(ctx, orderID, code); err != nil {
		return err
	}
	o, ok := e.dir.AdvanceActive(orderID, models.StatusDelivered)
	if !ok {
		// the snapshot may already have it delivered; completion still
		// clears alerting state
		e.prox.Forget(orderID)
		e.pub.RecomputeCadence()
		return nil
	}
	e.prox.Forget(orderID)
	e.pub.RecomputeCadence()
	if err := e.dlog.SaveDelivery(&storage.Delivery{
		OrderID:     o.ID,
		Code:        o.Code,
		Fee:         float64(o.DeliveryFee),
		Tip:         float64(o.Tip),
		Total:       o.Total(),
		DeliveredAt: time.Now(),
	}); err != nil {
		e.log.Warn("delivery log write failed", "order_id", o.ID, "error", err)
	}
	e.notify.Notify(fmt.Sprintf("Delivery %s completed.", displayCode(o)))
	return nil
}

// AcknowledgeAlarm stops the arrival alarm; the order stays marked until
// the driver moves past the disarm radius.
func (e *Engine) AcknowledgeAlarm() {
	e.prox.Acknowledge()
}

// RefreshAvailable pulls the available-orders snapshot and merges it
// idempotently with whatever the socket pushed meanwhile.
func (e *Engine) RefreshAvailable(ctx context.Context) error {
	fetchedAt := time.Now()
	orders, err := e.fetch.AvailableOrders(ctx)
	if err != nil {
		return err
	}
	e.dir.MergeAvailable(orders, fetchedAt)
	return nil
}

// RefreshActive pulls the driver's in-flight orders across all live
// phases.
func (e *Engine) RefreshActive(ctx context.Context) error {
	var errs []error
	for _, st := range []models.OrderStatus{models.StatusAccepted, models.StatusPickedUp, models.StatusInTransit} {
		orders, err := e.fetch.OrdersByStatus(ctx, st)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.dir.MergeActive(orders)
	}
	e.pub.RecomputeCadence()
	return errors.Join(errs...)
}

// History returns completed deliveries, preferring the server snapshot
// and falling back to the local log when the backend is unreachable.
func (e *Engine) History(ctx context.Context, limit int) ([]*storage.Delivery, error) {
	orders, err := e.fetch.OrdersByStatus(ctx, models.StatusDelivered)
	if err != nil {
		local, lerr := e.dlog.ListDeliveries(limit)
		if lerr != nil {
			return nil, errors.Join(err, lerr)
		}
		return local, nil
	}
	out := make([]*storage.Delivery, 0, len(orders))
	for _, o := range orders {
		d := &storage.Delivery{
			OrderID:     o.ID,
			Code:        o.Code,
			Fee:         float64(o.DeliveryFee),
			Tip:         float64(o.Tip),
			Total:       o.Total(),
			DeliveredAt: o.UpdatedAt,
		}
		out = append(out, d)
		if err := e.dlog.SaveDelivery(d); err != nil {
			e.log.Warn("delivery log write failed", "order_id", o.ID, "error", err)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunSnapshots polls the REST snapshots on a fixed cadence while the
// session is online. It blocks until ctx is cancelled.
func (e *Engine) RunSnapshots(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.Online() {
				continue
			}
			if err := e.RefreshAvailable(ctx); err != nil {
				e.log.Warn("available snapshot failed", "error", err)
			}
			if err := e.RefreshActive(ctx); err != nil {
				e.log.Warn("active snapshot failed", "error", err)
			}
		}
	}
}

// Chats returns the buffered group-chat feed, newest last.
func (e *Engine) Chats() []models.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ChatMessage, len(e.chats))
	copy(out, e.chats)
	return out
}

func displayCode(o models.Order) string {
	if o.Code != "" {
		return o.Code
	}
	return o.ID
}
