package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places of the smallest currency unit.
const MoneyScale = 2

// RoundMoney rounds half-up to the smallest currency unit. Every tax and
// price computation goes through it so recomputation is stable.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// FitsCurrencyUnit reports whether d carries no precision below the
// smallest currency unit.
func FitsCurrencyUnit(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// ToMinorUnits converts an amount to integer minor units for storage.
func ToMinorUnits(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(MoneyScale).IntPart()
}

// FromMinorUnits converts stored minor units back to an amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -MoneyScale)
}
