package models

import (
	"time"

	"github.com/example/courier-dispatch/internal/money"
)

// OrderStatus tracks an order through the delivery flow.
type OrderStatus string

const (
	StatusAvailable OrderStatus = "available"
	StatusAccepted  OrderStatus = "accepted"
	StatusPickedUp  OrderStatus = "picked_up"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// AllowedTransitions represents the delivery state flow as code.
var AllowedTransitions = map[OrderStatus][]OrderStatus{
	StatusAvailable: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to OrderStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// NormalizeStatus maps the wire status vocabulary onto OrderStatus.
// The kitchen side reports freshly prepared orders as "cooked".
func NormalizeStatus(s string) OrderStatus {
	switch s {
	case "cooked", "available", "":
		return StatusAvailable
	case "accepted":
		return StatusAccepted
	case "picked_up", "pickedUp":
		return StatusPickedUp
	case "in_transit", "inTransit", "on_the_way":
		return StatusInTransit
	case "delivered", "completed":
		return StatusDelivered
	case "cancelled", "canceled":
		return StatusCancelled
	}
	return OrderStatus(s)
}

// Place is a named point on the map as it appears on the wire.
type Place struct {
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Order is the shared order shape for socket broadcasts, REST snapshots
// and acceptance responses. Monetary fields decode through money.Amount so
// every boundary applies the same normalization.
type Order struct {
	ID            string       `json:"id"`
	Code          string       `json:"orderCode,omitempty"`
	Status        OrderStatus  `json:"status"`
	Restaurant    *Place       `json:"restaurantLocation,omitempty"`
	Destination   *Place       `json:"deliverLocation,omitempty"`
	DeliveryFee   money.Amount `json:"deliveryFee"`
	Tip           money.Amount `json:"tip"`
	GrandTotal    money.Amount `json:"grandTotal"`
	PickupCode    string       `json:"pickUpVerification,omitempty"`
	CustomerName  string       `json:"customerName,omitempty"`
	CustomerPhone string       `json:"customerPhone,omitempty"`
	Description   string       `json:"description,omitempty"`
	DistanceKm    float64      `json:"distanceKm,omitempty"`
	CreatedAt     time.Time    `json:"createdAt,omitzero"`
	UpdatedAt     time.Time    `json:"updatedAt,omitzero"`
}

// Total is what the driver earns for the delivery.
func (o Order) Total() float64 {
	return float64(o.DeliveryFee) + float64(o.Tip)
}

// LocationSample is one GPS reading. The latest sample is cached by the
// telemetry source; history lives in the real-time store only.
type LocationSample struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy,omitempty"`
	At       time.Time `json:"at"`
}

// ChatMessage is the group-chat shape carried on the overloaded
// deliveryMessage socket event.
type ChatMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}
