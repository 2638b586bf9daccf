// Package store writes driver and order telemetry into the shared
// real-time store. Writes are best-effort and at-most-once: a failed write
// is counted and dropped, the next tick resends the current position.
package store

import (
	"context"

	"github.com/example/courier-dispatch/internal/models"
)

// DriverRecord is the per-driver channel payload at
// driverTelemetry/{driverId}; history entries append the same shape.
type DriverRecord struct {
	DriverID       string   `json:"driverId"`
	Name           string   `json:"name,omitempty"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Accuracy       float64  `json:"accuracy,omitempty"`
	Online         bool     `json:"online"`
	Tracking       bool     `json:"tracking"`
	ActiveOrderIDs []string `json:"activeOrderIds,omitempty"`
	Status         string   `json:"status"` // Delivering | Available
	Timestamp      int64    `json:"timestamp"` // Unix milliseconds
}

// OrderRecord is the per-order channel payload at
// orderTracking/{orderId}. Optional fields are omitted when absent, never
// written as null placeholders.
type OrderRecord struct {
	OrderID       string        `json:"orderId"`
	OrderCode     string        `json:"orderCode,omitempty"`
	Status        string        `json:"status"`
	DriverID      string        `json:"driverId"`
	DriverName    string        `json:"driverName,omitempty"`
	Lat           float64       `json:"lat"`
	Lon           float64       `json:"lon"`
	Accuracy      float64       `json:"accuracy,omitempty"`
	DeliveryFee   float64       `json:"deliveryFee"`
	Tip           float64       `json:"tip"`
	Restaurant    *models.Place `json:"restaurantLocation,omitempty"`
	Destination   *models.Place `json:"deliverLocation,omitempty"`
	PickupCode    string        `json:"pickUpVerification,omitempty"`
	CustomerName  string        `json:"customerName,omitempty"`
	CustomerPhone string        `json:"customerPhone,omitempty"`
	Description   string        `json:"description,omitempty"`

	// distance and ETA to the next waypoint: restaurant until pickup,
	// then the customer
	DistanceMeters float64 `json:"distanceMeters,omitempty"`
	EtaSeconds     float64 `json:"etaSeconds,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// Store is the minimal write surface the telemetry publisher needs.
type Store interface {
	WriteDriver(ctx context.Context, rec DriverRecord) error
	WriteOrder(ctx context.Context, rec OrderRecord) error
}
