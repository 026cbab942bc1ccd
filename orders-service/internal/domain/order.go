package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

// MaxQuantity bounds line and order quantities to the INTEGER columns that
// store them.
const MaxQuantity = math.MaxInt32

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case OrderStatusNew, OrderStatusConfirmed, OrderStatusCanceled:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

type OrderItem struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// CheckoutDetails is what the customer submitted at checkout. CardNumber is
// never stored; only its last four digits survive.
type CheckoutDetails struct {
	FullName       string
	Email          string
	Phone          string
	Address        string
	City           string
	PostalCode     string
	DeliveryMethod string
	PaymentMethod  string
	CardNumber     string
	Notes          string
}

// CartLine is one priced line of the cart at checkout time.
type CartLine struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type Totals struct {
	Quantity int
	Amount   decimal.Decimal
}

type Order struct {
	ID                 uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	FullName           string
	Email              string
	Phone              string
	Address            string
	City               string
	PostalCode         string
	DeliveryMethod     string
	PaymentMethod      string
	CardLastFour       string
	Notes              string
	CancellationReason string
	Status             OrderStatus
	TotalQuantity      int
	TotalAmount        decimal.Decimal
	UserID             string
	Items              []OrderItem
}

// NewOrder builds a NEW order from checkout input. Line subtotals and order
// totals are always recomputed from the lines. A caller-supplied total that
// is non-zero and disagrees with the computed one is rejected.
func NewOrder(details CheckoutDetails, lines []CartLine, supplied Totals, ownerID string, now time.Time) (*Order, error) {
	computed, items, err := priceLines(lines)
	if err != nil {
		return nil, err
	}
	if supplied.Quantity != 0 && supplied.Quantity != computed.Quantity {
		return nil, &ValidationError{
			Field:  "total_quantity",
			Reason: fmt.Sprintf("got %d, lines add up to %d", supplied.Quantity, computed.Quantity),
		}
	}
	if !supplied.Amount.IsZero() && !RoundMoney(supplied.Amount).Equal(computed.Amount) {
		return nil, &ValidationError{
			Field:  "total_price",
			Reason: fmt.Sprintf("got %s, lines add up to %s", supplied.Amount.StringFixed(2), computed.Amount.StringFixed(2)),
		}
	}

	o := &Order{
		ID:             uuid.New(),
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
		FullName:       strings.TrimSpace(details.FullName),
		Email:          strings.TrimSpace(details.Email),
		Phone:          strings.TrimSpace(details.Phone),
		Address:        strings.TrimSpace(details.Address),
		City:           strings.TrimSpace(details.City),
		PostalCode:     strings.TrimSpace(details.PostalCode),
		DeliveryMethod: strings.TrimSpace(details.DeliveryMethod),
		PaymentMethod:  strings.TrimSpace(details.PaymentMethod),
		Notes:          strings.TrimSpace(details.Notes),
		Status:         OrderStatusNew,
		TotalQuantity:  computed.Quantity,
		TotalAmount:    computed.Amount,
		UserID:         strings.TrimSpace(ownerID),
		Items:          items,
	}
	if IsCardPayment(o.PaymentMethod) {
		o.CardLastFour = MaskCard(details.CardNumber)
	}
	return o, nil
}

// ComputeTotals prices lines without building an order.
func ComputeTotals(lines []CartLine) (Totals, error) {
	t, _, err := priceLines(lines)
	return t, err
}

func priceLines(lines []CartLine) (Totals, []OrderItem, error) {
	if len(lines) == 0 {
		return Totals{}, nil, &ValidationError{Field: "items", Reason: "order must contain at least one line"}
	}

	items := make([]OrderItem, 0, len(lines))
	total := Totals{Amount: decimal.Zero}
	for i, l := range lines {
		if l.Quantity <= 0 {
			return Totals{}, nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if l.Quantity > MaxQuantity-total.Quantity {
			return Totals{}, nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: fmt.Sprintf("order quantity exceeds %d", MaxQuantity)}
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, nil, &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Reason: "must not be negative"}
		}
		unit := RoundMoney(l.UnitPrice)
		subtotal := RoundMoney(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
		items = append(items, OrderItem{
			ProductID:   l.ProductID,
			ProductName: strings.TrimSpace(l.ProductName),
			Quantity:    l.Quantity,
			UnitPrice:   unit,
			Subtotal:    subtotal,
		})
		total.Quantity += l.Quantity
		total.Amount = total.Amount.Add(subtotal)
	}
	total.Amount = RoundMoney(total.Amount)
	return total, items, nil
}

// Confirm moves the order to CONFIRMED. Any cancellation reason is cleared and
// a non-blank comment is appended to the notes on its own line.
func (o *Order) Confirm(comment string, now time.Time) {
	o.Status = OrderStatusConfirmed
	o.CancellationReason = ""
	if c := strings.TrimSpace(comment); c != "" {
		if o.Notes == "" {
			o.Notes = c
		} else {
			o.Notes = o.Notes + "\n" + c
		}
	}
	o.UpdatedAt = now.UTC()
}

// Cancel moves the order to CANCELED with the trimmed reason.
func (o *Order) Cancel(reason string, now time.Time) {
	o.Status = OrderStatusCanceled
	o.CancellationReason = strings.TrimSpace(reason)
	o.UpdatedAt = now.UTC()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return c
}

// Username is how downstream services refer to the customer.
func (o *Order) Username() string {
	if o.UserID != "" {
		return "user-" + o.UserID
	}
	return o.FullName
}

func IsCardPayment(method string) bool {
	return strings.Contains(strings.ToLower(method), "card")
}

// MaskCard keeps the last four digits of a card number. Spaces and dashes
// are ignored. Fewer than four digits yields "".
func MaskCard(number string) string {
	digits := make([]rune, 0, len(number))
	for _, r := range number {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}

// RoundMoney rounds to cents, halves away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
