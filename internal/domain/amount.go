package domain

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount coerces a raw monetary value read from storage into a decimal.
// NULL, missing, non-numeric, NaN and infinite values all become zero.
func Amount(v any) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return val
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero
		}
		return *val
	case decimal.NullDecimal:
		if !val.Valid {
			return decimal.Zero
		}
		return val.Decimal
	case sql.NullString:
		if !val.Valid {
			return decimal.Zero
		}
		return parseAmount(val.String)
	case sql.NullFloat64:
		if !val.Valid {
			return decimal.Zero
		}
		return floatAmount(val.Float64)
	case sql.NullInt64:
		if !val.Valid {
			return decimal.Zero
		}
		return decimal.NewFromInt(val.Int64)
	case string:
		return parseAmount(val)
	case []byte:
		return parseAmount(string(val))
	case json.Number:
		return parseAmount(val.String())
	case float64:
		return floatAmount(val)
	case float32:
		return floatAmount(float64(val))
	case int:
		return decimal.NewFromInt(int64(val))
	case int32:
		return decimal.NewFromInt32(val)
	case int64:
		return decimal.NewFromInt(val)
	default:
		return decimal.Zero
	}
}

func parseAmount(raw string) decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func floatAmount(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
