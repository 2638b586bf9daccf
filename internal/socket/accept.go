package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// AcceptReason is the closed set of acceptance failure classes, keyed by
// the machine-readable code from the server contract. The accompanying
// message string is display-only and never matched on.
type AcceptReason string

const (
	ReasonNotConnected AcceptReason = "NOT_CONNECTED"
	ReasonActiveOrder  AcceptReason = "ALREADY_HAS_ACTIVE_ORDER"
	ReasonOrderTaken   AcceptReason = "ORDER_NO_LONGER_AVAILABLE"
	ReasonInvalidOrder AcceptReason = "INVALID_ORDER_ID"
	ReasonMissingOrder AcceptReason = "MISSING_ORDER_ID"
	ReasonTimeout      AcceptReason = "TIMEOUT"
	ReasonServer       AcceptReason = "SERVER_ERROR"
)

type AcceptError struct {
	Reason  AcceptReason
	Message string
}

func (e *AcceptError) Error() string {
	if e.Message != "" {
		return string(e.Reason) + ": " + e.Message
	}
	return string(e.Reason)
}

// UserMessage maps each reason to a distinct, human-readable message.
func (e *AcceptError) UserMessage() string {
	switch e.Reason {
	case ReasonNotConnected:
		return "You are offline. Go online to accept orders."
	case ReasonActiveOrder:
		return "Finish your current delivery before accepting another order."
	case ReasonOrderTaken:
		return "This order was taken by another driver. Refresh the list."
	case ReasonInvalidOrder:
		return "That order could not be found."
	case ReasonMissingOrder:
		return "No order was selected."
	case ReasonTimeout:
		return "The request timed out. Please try again."
	default:
		if e.Message != "" {
			return "Could not accept the order: " + e.Message
		}
		return "Could not accept the order. Please try again."
	}
}

// Retryable reports whether retrying the same request can succeed.
func (e *AcceptError) Retryable() bool {
	switch e.Reason {
	case ReasonActiveOrder, ReasonOrderTaken, ReasonInvalidOrder, ReasonMissingOrder:
		return false
	default:
		return true
	}
}

func reasonFromCode(code string) AcceptReason {
	switch code {
	case "ALREADY_HAS_ACTIVE_ORDER":
		return ReasonActiveOrder
	case "ORDER_NO_LONGER_AVAILABLE", "ORDER_NOT_AVAILABLE":
		return ReasonOrderTaken
	case "INVALID_ORDER_ID":
		return ReasonInvalidOrder
	case "MISSING_ORDER_ID":
		return ReasonMissingOrder
	default:
		return ReasonServer
	}
}

// acceptAck is the single acknowledgement on the acceptOrder exchange.
type acceptAck struct {
	Status  string       `json:"status"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	Data    models.Order `json:"data"`
}

// Accept runs the acceptOrder RPC. It is single-flight per call: callers
// de-duplicate concurrent attempts for the same order themselves.
//
// Resolution is idempotent. The pending-ack registration doubles as the
// settled flag: whichever of {acknowledgement, timeout, cancellation}
// claims it first determines the outcome, and a late acknowledgement
// finds nothing to resolve.
func (m *Manager) Accept(ctx context.Context, orderID, driverID string) (models.Order, error) {
	if orderID == "" {
		return models.Order{}, &AcceptError{Reason: ReasonMissingOrder}
	}

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return models.Order{}, &AcceptError{Reason: ReasonNotConnected}
	}
	conn := m.conn
	m.mu.Unlock()

	ackID := m.ackSeq.Add(1)
	ch := make(chan acceptAck, 1)
	m.ackMu.Lock()
	m.pending[ackID] = ch
	m.ackMu.Unlock()

	payload, _ := json.Marshal(map[string]string{
		"orderId":          orderID,
		"deliveryPersonId": driverID,
	})
	if err := m.writeFrame(conn, frame{Event: EventAcceptOrder, Data: payload, AckID: ackID}); err != nil {
		m.takePending(ackID)
		return models.Order{}, &AcceptError{Reason: ReasonNotConnected, Message: err.Error()}
	}

	timer := time.NewTimer(m.acceptTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return m.resolveAccept(orderID, ack)
	case <-timer.C:
		if m.takePending(ackID) == nil {
			// the ack claimed the exchange first; it is already in flight
			ack := <-ch
			return m.resolveAccept(orderID, ack)
		}
		return models.Order{}, &AcceptError{Reason: ReasonTimeout}
	case <-ctx.Done():
		if m.takePending(ackID) == nil {
			ack := <-ch
			return m.resolveAccept(orderID, ack)
		}
		return models.Order{}, ctx.Err()
	}
}

func (m *Manager) resolveAccept(orderID string, ack acceptAck) (models.Order, error) {
	if ack.Status != "success" {
		return models.Order{}, &AcceptError{Reason: reasonFromCode(ack.Code), Message: ack.Message}
	}
	o := ack.Data
	o.ID = orderID
	o.Status = models.NormalizeStatus(string(o.Status))
	if o.Status == models.StatusAvailable {
		o.Status = models.StatusAccepted
	}
	return o, nil
}

// resolveAck hands a server acknowledgement to the waiting Accept call.
// An exchange already settled by timeout or cancellation is a no-op.
func (m *Manager) resolveAck(f frame) {
	ch := m.takePending(f.AckID)
	if ch == nil {
		m.log.Debug("late ack ignored", "ack_id", f.AckID)
		return
	}
	var ack acceptAck
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		ack = acceptAck{Status: "error", Message: "undecodable acknowledgement"}
	}
	ch <- ack
}

func (m *Manager) takePending(ackID int64) chan acceptAck {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	ch := m.pending[ackID]
	delete(m.pending, ackID)
	return ch
}
