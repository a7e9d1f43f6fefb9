package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// maxTicks is the largest tick count a price may quantize to. MaxInt64
// itself is reserved for the market buy sentinel.
var maxTicks = decimal.NewFromInt(math.MaxInt64 - 1)

// Quantize converts a price to whole ticks of the given size, rounding
// half away from zero. Prices whose tick count does not fit in Ticks are
// rejected.
func Quantize(price, tickSize decimal.Decimal) (Ticks, error) {
	if !tickSize.IsPositive() {
		return 0, ErrInvalidTickSize
	}
	t := price.Div(tickSize).Round(0)
	if t.Abs().GreaterThan(maxTicks) {
		return 0, &ValidationError{Message: "price is out of range for the tick size"}
	}
	return Ticks(t.IntPart()), nil
}

// QuantizeLimit quantizes a limit price and rejects prices that do not
// land on a positive tick.
func QuantizeLimit(price, tickSize decimal.Decimal) (Ticks, error) {
	t, err := Quantize(price, tickSize)
	if err != nil {
		return 0, err
	}
	if t <= 0 {
		return 0, &ValidationError{Message: "price must round to at least one tick"}
	}
	return t, nil
}

// TicksToPrice converts ticks back to a money value.
func TicksToPrice(t Ticks, tickSize decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(t)).Mul(tickSize)
}
