package entity

import "github.com/shopspring/decimal"

// RoundBase rounds an amount to base-currency precision.
func RoundBase(d decimal.Decimal) decimal.Decimal {
	return d.Round(BaseCurrencyScale)
}

// MinorUnits converts an amount to integer minor units (cents) for storage.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(BaseCurrencyScale).Round(0).IntPart()
}

// FromMinorUnits converts stored minor units back to an amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -BaseCurrencyScale)
}

// SmallestUnit is one minor unit of the base currency.
var SmallestUnit = decimal.New(1, -BaseCurrencyScale)
