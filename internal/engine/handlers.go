package engine

import (
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/socket"
)

// The engine is the socket manager's handler: every inbound frame lands
// here and is folded into the directory.

func (e *Engine) HandleOrderBroadcast(o models.Order) {
	observability.OrderBroadcastsTotal.Inc()
	if !e.dir.ApplyBroadcast(o) {
		return
	}
	e.log.Info("order broadcast", "order_id", o.ID, "fee", float64(o.DeliveryFee))
	e.notify.Notify("New order available. Check the orders list before someone else takes it.")
}

func (e *Engine) HandleOrderTaken(orderID string) {
	e.dir.ApplyAcceptedElsewhere(orderID)
	e.log.Debug("order taken elsewhere", "order_id", orderID)
}

func (e *Engine) HandleOrdersCount(n int) {
	e.dir.SetAvailableCount(n)
}

func (e *Engine) HandleChat(m models.ChatMessage) {
	e.mu.Lock()
	e.chats = append(e.chats, m)
	if len(e.chats) > chatBacklog {
		e.chats = e.chats[len(e.chats)-chatBacklog:]
	}
	e.mu.Unlock()
}

func (e *Engine) HandleServerError(message string) {
	e.log.Warn("server error frame", "message", message)
	e.notify.Notify(message)
}

func (e *Engine) HandleConnectionChange(s socket.State, errMsg string) {
	if errMsg != "" {
		e.log.Warn("connection state changed", "state", s.String(), "error", errMsg)
		return
	}
	e.log.Info("connection state changed", "state", s.String())
}
