package amount

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrOverflow = errors.New("amount overflow")
	ErrNegative = errors.New("amount must not be negative")
)

// Amount is a quantity of value in an asset's smallest denomination.
// All settlement arithmetic is integer arithmetic; there are no fractional
// denomination units anywhere in the core.
type Amount = int64

// CheckedMul multiplies quantity by unit price, failing instead of wrapping
// around int64.
func CheckedMul(quantity, unitPrice int64) (int64, error) {
	if quantity < 0 || unitPrice < 0 {
		return 0, ErrNegative
	}
	if quantity == 0 || unitPrice == 0 {
		return 0, nil
	}
	if quantity > math.MaxInt64/unitPrice {
		return 0, ErrOverflow
	}
	return quantity * unitPrice, nil
}

// CheckedAdd adds two amounts, failing on int64 overflow.
func CheckedAdd(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegative
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// ToDecimal converts an integer amount to the decimal representation used by
// ledger storage.
func ToDecimal(a int64) decimal.Decimal {
	return decimal.NewFromInt(a)
}

// FromDecimal converts a stored balance back to an integer amount. Stored
// balances are always whole numbers of denomination units; anything else is a
// corrupted row.
func FromDecimal(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("fractional balance %s", d)
	}
	if d.Cmp(decimal.NewFromInt(math.MaxInt64)) > 0 {
		return 0, ErrOverflow
	}
	return d.IntPart(), nil
}
