package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cashclose/internal/domain"
)

const (
	SourceSessionPayments = "session_payments"
	SourceOrderPayments   = "order_payments"
	SourceLegacyTag       = "legacy_tag"
	SourceNone            = "none"
)

// PaymentSource is the subset of the repository the classifier reads from.
type PaymentSource interface {
	ListPaymentsBySession(ctx context.Context, sessionID string) ([]domain.Payment, error)
	ListPaymentsByOrders(ctx context.Context, orderIDs []string) ([]domain.Payment, error)
}

type Buckets struct {
	Cash         decimal.Decimal
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Transfer     decimal.Decimal
	Installments decimal.Decimal
	Other        decimal.Decimal
}

// Breakdown is the result of classifying one tier. Count is the number of
// rows the winning tier produced.
type Breakdown struct {
	Buckets
	Source string
	Count  int
}

// entry is one amount tagged with a payment method, the common shape every
// tier reduces its rows to before bucketing.
type entry struct {
	method string
	amount decimal.Decimal
}

type strategy struct {
	source string
	fetch  func(ctx context.Context) ([]entry, error)
}

var legacyAliases = map[string]string{
	"debit_card":  domain.PaymentMethodDebit,
	"credit_card": domain.PaymentMethodCredit,
}

// Classify walks the tiers in preference order and buckets the first one that
// yields any rows. Tiers are never merged.
func Classify(ctx context.Context, src PaymentSource, sessionID string, orders []domain.Order) (Breakdown, error) {
	for _, s := range strategies(src, sessionID, orders) {
		entries, err := s.fetch(ctx)
		if err != nil {
			return Breakdown{}, err
		}
		if len(entries) == 0 {
			continue
		}
		return Breakdown{
			Buckets: fold(entries),
			Source:  s.source,
			Count:   len(entries),
		}, nil
	}
	return Breakdown{Source: SourceNone}, nil
}

func strategies(src PaymentSource, sessionID string, orders []domain.Order) []strategy {
	list := make([]strategy, 0, 3)
	if sessionID != "" {
		list = append(list, strategy{
			source: SourceSessionPayments,
			fetch: func(ctx context.Context) ([]entry, error) {
				payments, err := src.ListPaymentsBySession(ctx, sessionID)
				if err != nil {
					return nil, fmt.Errorf("error fetching session payments: %w", err)
				}
				return paymentEntries(payments), nil
			},
		})
	}
	if len(orders) > 0 {
		list = append(list,
			strategy{
				source: SourceOrderPayments,
				fetch: func(ctx context.Context) ([]entry, error) {
					payments, err := src.ListPaymentsByOrders(ctx, OrderIDs(orders))
					if err != nil {
						return nil, fmt.Errorf("error fetching order payments: %w", err)
					}
					return paymentEntries(payments), nil
				},
			},
			strategy{
				source: SourceLegacyTag,
				fetch: func(context.Context) ([]entry, error) {
					return legacyEntries(orders), nil
				},
			},
		)
	}
	return list
}

func paymentEntries(payments []domain.Payment) []entry {
	entries := make([]entry, 0, len(payments))
	for _, p := range payments {
		entries = append(entries, entry{method: p.PaymentMethod, amount: p.Amount})
	}
	return entries
}

func legacyEntries(orders []domain.Order) []entry {
	entries := make([]entry, 0, len(orders))
	for _, o := range orders {
		method := strings.ToLower(strings.TrimSpace(o.PaymentMethod))
		if alias, ok := legacyAliases[method]; ok {
			method = alias
		}
		entries = append(entries, entry{method: method, amount: o.TotalAmount})
	}
	return entries
}

func fold(entries []entry) Buckets {
	b := Buckets{}
	for _, e := range entries {
		b = b.add(e)
	}
	return b
}

// add places one amount into its bucket. Check, unclassified and unknown
// tags all land in Other.
func (b Buckets) add(e entry) Buckets {
	switch e.method {
	case domain.PaymentMethodCash:
		b.Cash = b.Cash.Add(e.amount)
	case domain.PaymentMethodDebit:
		b.Debit = b.Debit.Add(e.amount)
	case domain.PaymentMethodCredit:
		b.Credit = b.Credit.Add(e.amount)
	case domain.PaymentMethodTransfer:
		b.Transfer = b.Transfer.Add(e.amount)
	case domain.PaymentMethodInstallments:
		b.Installments = b.Installments.Add(e.amount)
	default:
		b.Other = b.Other.Add(e.amount)
	}
	return b
}

// OtherWithTransfer is the stored other_payment_sales value: closures have
// no transfer column.
func (b Buckets) OtherWithTransfer() decimal.Decimal {
	return b.Other.Add(b.Transfer)
}
