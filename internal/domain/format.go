package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

var storeFolder = cases.Fold()

// NormalizeStoreID folds a store id so lookups match case-insensitively.
func NormalizeStoreID(storeID string) string {
	return storeFolder.String(strings.TrimSpace(storeID))
}

// FormatMoney renders cents as a fixed two-decimal amount, e.g. 25000 -> "250.00".
func FormatMoney(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Upper bounds for a single sale or stock line. They keep line and sale totals
// far below the int64 range and stock counts inside the INTEGER column.
const (
	MaxLineQty        = 100_000
	MaxUnitPriceCents = 100_000_000_000
)

// AddCents returns a+b, or false when the sum leaves the int64 range.
func AddCents(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// MulCents returns qty*unit for non-negative operands, or false on overflow.
func MulCents(qty int64, unit int64) (int64, bool) {
	if qty < 0 || unit < 0 {
		return 0, false
	}
	if qty == 0 || unit == 0 {
		return 0, true
	}
	if qty > math.MaxInt64/unit {
		return 0, false
	}
	return qty * unit, true
}

// AddQty returns a+b for stock quantities, or false when the sum overflows
// the INTEGER column the quantities are stored in.
func AddQty(a, b int) (int, bool) {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return 0, false
	}
	return int(sum), true
}
