package domain

import (
	"database/sql"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAmountCoercesToZero(t *testing.T) {
	zeroes := []any{
		nil,
		"",
		"  ",
		"abc",
		[]byte("n/a"),
		math.NaN(),
		math.Inf(1),
		sql.NullString{},
		sql.NullFloat64{},
		decimal.NullDecimal{},
		(*decimal.Decimal)(nil),
		struct{}{},
	}
	for _, v := range zeroes {
		assert.True(t, Amount(v).IsZero(), "expected zero for %#v", v)
	}
}

func TestAmountParsesNumericValues(t *testing.T) {
	cases := map[string]any{
		"1500.25": "1500.25",
		"42":      []byte(" 42 "),
		"7":       int64(7),
		"3":       3,
		"0.5":     0.5,
		"99.9":    json.Number("99.9"),
		"12.5":    sql.NullString{String: "12.5", Valid: true},
		"-500":    decimal.NewFromInt(-500),
	}
	for want, v := range cases {
		assert.True(t, decimal.RequireFromString(want).Equal(Amount(v)), "input %#v", v)
	}
}

func TestAmountsMarshalAsNumbers(t *testing.T) {
	payload, err := json.Marshal(ClosureResult{Success: true, Closure: ClosureRecord{CashDifference: decimal.NewFromInt(-500)}})
	assert.NoError(t, err)
	assert.Contains(t, string(payload), `"cash_difference":-500`)
	assert.Contains(t, string(payload), `"actual_cash":null`)
}
