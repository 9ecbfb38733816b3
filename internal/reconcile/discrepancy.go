package reconcile

import "github.com/shopspring/decimal"

// Counts are the amounts the cashier entered. A nil field was not counted.
type Counts struct {
	Cash       *decimal.Decimal
	CardDebit  *decimal.Decimal
	CardCredit *decimal.Decimal
}

type Discrepancy struct {
	ExpectedCash     decimal.Decimal
	CashDifference   decimal.Decimal
	DebitDifference  decimal.Decimal
	CreditDifference decimal.Decimal
	CardDifference   decimal.Decimal
}

// ExpectedCash is what the drawer should physically hold. Card and transfer
// buckets never contribute.
func ExpectedCash(opening decimal.Decimal, b Buckets) decimal.Decimal {
	return opening.Add(b.Cash)
}

// ComputeDiscrepancy compares counted amounts against the classified buckets.
// An omitted count yields a zero difference, not a missing one. Shortfalls
// are negative and overages positive.
func ComputeDiscrepancy(opening decimal.Decimal, b Buckets, counts Counts) Discrepancy {
	expected := ExpectedCash(opening, b)
	debit := difference(counts.CardDebit, b.Debit)
	credit := difference(counts.CardCredit, b.Credit)
	return Discrepancy{
		ExpectedCash:     expected,
		CashDifference:   difference(counts.Cash, expected),
		DebitDifference:  debit,
		CreditDifference: credit,
		CardDifference:   debit.Add(credit),
	}
}

func difference(counted *decimal.Decimal, expected decimal.Decimal) decimal.Decimal {
	if counted == nil {
		return decimal.Zero
	}
	return counted.Sub(expected)
}
