// Package contracts holds the order snapshot shapes shared between
// orders-service, admin-service, downstream-service and dashboard clients.
package contracts

// Realtime and admin action event types.
const (
	EventNew       = "NEW"
	EventConfirmed = "CONFIRMED"
	EventCanceled  = "CANCELED"
)

// RealtimeTopic is the push channel dashboards subscribe to.
const RealtimeTopic = "topic:/orders"

type OrderItemView struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// OrderView is the order snapshot rendered by the dashboard and carried on
// the realtime channel. Monetary values are fixed two-decimal strings.
type OrderView struct {
	ID                 string          `json:"id"`
	CustomerName       string          `json:"customer_name"`
	Email              string          `json:"email"`
	Phone              string          `json:"phone"`
	Address            string          `json:"address"`
	City               string          `json:"city"`
	PostalCode         string          `json:"postal_code"`
	DeliveryMethod     string          `json:"delivery_method"`
	PaymentMethod      string          `json:"payment_method"`
	CardLastFour       string          `json:"card_last_four,omitempty"`
	Status             string          `json:"status"`
	TotalPrice         string          `json:"total_price"`
	TotalQuantity      int             `json:"total_quantity"`
	CreatedAt          string          `json:"created_at"`
	Notes              string          `json:"notes,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	UserID             string          `json:"user_id,omitempty"`
	Items              []OrderItemView `json:"items"`
}

// OrderEvent is the {type, order} envelope used by the realtime channel and
// returned by admin actions.
type OrderEvent struct {
	Type  string    `json:"type"`
	Order OrderView `json:"order"`
}

type DashboardSnapshot struct {
	NewOrders       []OrderView `json:"new_orders"`
	ConfirmedOrders []OrderView `json:"confirmed_orders"`
	CanceledOrders  []OrderView `json:"canceled_orders"`
}

type ConfirmRequest struct {
	Comment string `json:"comment"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required,notblank"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
