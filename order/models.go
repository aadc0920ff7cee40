package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmationWindow is how long a buyer has after delivery to confirm receipt
// or raise a dispute before the order auto-completes.
const ConfirmationWindow = 24 * time.Hour

// FulfillmentMode distinguishes yard pickup from site delivery.
type FulfillmentMode string

const (
	FulfillmentPickup   FulfillmentMode = "pickup"
	FulfillmentDelivery FulfillmentMode = "delivery"
)

func (m FulfillmentMode) Valid() bool {
	return m == FulfillmentPickup || m == FulfillmentDelivery
}

// Order is the domain representation of a materials order. It mirrors the
// orders table and carries no JSON annotations so it can be reused by
// different presentation layers.
type Order struct {
	ID              string
	SupplierID      string
	BuyerID         string
	BuyerPhone      string
	Fulfillment     FulfillmentMode
	Status          Status
	WindowStart     *time.Time
	WindowEnd       *time.Time
	Negotiable      bool
	PreferenceNote  *string
	DeliveredAt     *time.Time
	ConfirmedAt     *time.Time
	AutoCompletedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []Item
}

// Item is one order line. Prices use decimal arithmetic; quantities are
// fractional for bulk materials sold by weight or volume.
type Item struct {
	Name      string
	Quantity  decimal.Decimal
	Unit      string
	UnitPrice decimal.Decimal
}

// ConfirmationDeadline derives the auto-completion instant from delivered_at.
// It is recomputed on every call and never persisted, so it cannot drift from
// its source event. The second return is false before delivery.
func (o Order) ConfirmationDeadline() (time.Time, bool) {
	if o.DeliveredAt == nil {
		return time.Time{}, false
	}
	return o.DeliveredAt.Add(ConfirmationWindow), true
}

// Window describes a concrete slot chosen for an order.
type Window struct {
	Start time.Time
	End   time.Time
}

const (
	// OutboxTopicOrderCompleted is published whenever an order reaches completed,
	// by buyer confirmation or by the expiry sweep.
	OutboxTopicOrderCompleted = "order.completed"
	OutboxTopicOrderCreated   = "order.created"
	OutboxTopicOrderWindow    = "order.window_confirmed"
	OutboxTopicOrderDispatch  = "order.in_transit"
	OutboxTopicOrderDelivered = "order.delivered"
)
