// Package socket owns the persistent dispatch connection: lifecycle gated
// by the online flag and credential, inbound event dispatch, and the
// acceptOrder request/acknowledgement exchange.
package socket

import "encoding/json"

// Event names on the dispatch socket.
const (
	// EventDeliveryMessage is overloaded: an order broadcast or a group
	// chat line, told apart by payload shape.
	EventDeliveryMessage = "deliveryMessage"
	EventOrderCooked     = "order:cooked"
	EventOrderAccepted   = "order:accepted"
	EventOrdersCount     = "available-orders-count"
	EventErrorMessage    = "errorMessage"

	EventAcceptOrder = "acceptOrder"
	EventAck         = "ack"
)

// frame is the wire envelope. Requests that expect an acknowledgement
// carry an AckID the server echoes back on the matching ack frame.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
}

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}
