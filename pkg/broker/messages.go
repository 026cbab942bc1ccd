package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types carried in the event_type header.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCanceled  = "OrderCanceled"
)

// Header keys set on every message.
const (
	HeaderEventID    = "event_id"
	HeaderEventType  = "event_type"
	HeaderRoutingKey = "routing_key"
)

type OrderCreatedItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderCreatedMessage goes to orders.new. Items are carried for inventory
// style consumers.
type OrderCreatedMessage struct {
	OrderID       string             `json:"order_id"`
	Username      string             `json:"username"`
	Items         []OrderCreatedItem `json:"items"`
	TotalQuantity int                `json:"total_quantity"`
	TotalPrice    decimal.Decimal    `json:"total_price"`
	CreatedAt     time.Time          `json:"created_at"`
}

type OrderLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// OrderConfirmedMessage is routed with order.confirmed for procurement.
type OrderConfirmedMessage struct {
	OrderID string      `json:"order_id"`
	Comment string      `json:"comment,omitempty"`
	Items   []OrderLine `json:"items"`
}

// OrderCanceledMessage is routed with order.canceled for quality reporting.
type OrderCanceledMessage struct {
	OrderID    string          `json:"order_id"`
	Reason     string          `json:"reason"`
	LostAmount decimal.Decimal `json:"lost_amount"`
}

// Decode unmarshals a payload into out. Failures wrap ErrDecode so the
// consumer runner acknowledges and discards the message.
func Decode(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
