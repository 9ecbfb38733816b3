package reconcile

import (
	"github.com/shopspring/decimal"

	"cashclose/internal/domain"
)

type SalesTotals struct {
	TotalSales     decimal.Decimal
	TotalSubtotal  decimal.Decimal
	TotalTax       decimal.Decimal
	TotalDiscounts decimal.Decimal
	OrderCount     int
}

func (t SalesTotals) add(order domain.Order) SalesTotals {
	return SalesTotals{
		TotalSales:     t.TotalSales.Add(order.TotalAmount),
		TotalSubtotal:  t.TotalSubtotal.Add(order.Subtotal),
		TotalTax:       t.TotalTax.Add(order.TaxAmount),
		TotalDiscounts: t.TotalDiscounts.Add(order.DiscountAmount),
		OrderCount:     t.OrderCount + 1,
	}
}

func SumSales(orders []domain.Order) SalesTotals {
	totals := SalesTotals{}
	for _, order := range orders {
		totals = totals.add(order)
	}
	return totals
}

func OrderIDs(orders []domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	return ids
}
