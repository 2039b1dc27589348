package domain

import "github.com/shopspring/decimal"

// Fixed decimal scales. Quantities round to 4 places, prices to 6, both
// half-even. Floating point is never used for money or quantity.
const (
	QtyScale = 4
	PxScale  = 6
)

// RoundQty rounds a quantity to QtyScale half-even.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(QtyScale)
}

// RoundPx rounds a price to PxScale half-even.
func RoundPx(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PxScale)
}
