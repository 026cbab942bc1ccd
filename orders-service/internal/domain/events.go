package domain

import (
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated   EventType = "OrderCreated"
	EventOrderConfirmed EventType = "OrderConfirmed"
	EventOrderCanceled  EventType = "OrderCanceled"
)

// Event is a lifecycle change announced after commit. Each event carries a
// snapshot of the order as committed.
type Event interface {
	EventType() EventType
	Snapshot() Order
}

type OrderCreated struct {
	Order Order
}

func (e OrderCreated) EventType() EventType { return EventOrderCreated }
func (e OrderCreated) Snapshot() Order      { return e.Order }

type OrderConfirmed struct {
	Order   Order
	Comment string
}

func (e OrderConfirmed) EventType() EventType { return EventOrderConfirmed }
func (e OrderConfirmed) Snapshot() Order      { return e.Order }

// OrderCanceled carries the order total as the amount lost to the business.
type OrderCanceled struct {
	Order      Order
	Reason     string
	LostAmount decimal.Decimal
}

func (e OrderCanceled) EventType() EventType { return EventOrderCanceled }
func (e OrderCanceled) Snapshot() Order      { return e.Order }
