package domain

import (
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
)

// View renders the order the way dashboards and REST clients see it.
func (o *Order) View() contracts.OrderView {
	items := make([]contracts.OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, contracts.OrderItemView{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Subtotal:    it.Subtotal.StringFixed(2),
		})
	}
	return contracts.OrderView{
		ID:                 o.ID.String(),
		CustomerName:       o.FullName,
		Email:              o.Email,
		Phone:              o.Phone,
		Address:            o.Address,
		City:               o.City,
		PostalCode:         o.PostalCode,
		DeliveryMethod:     o.DeliveryMethod,
		PaymentMethod:      o.PaymentMethod,
		CardLastFour:       o.CardLastFour,
		Status:             string(o.Status),
		TotalPrice:         o.TotalAmount.StringFixed(2),
		TotalQuantity:      o.TotalQuantity,
		CreatedAt:          o.CreatedAt.UTC().Format(time.RFC3339),
		Notes:              o.Notes,
		CancellationReason: o.CancellationReason,
		UserID:             o.UserID,
		Items:              items,
	}
}
