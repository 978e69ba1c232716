package shared

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits kept for monetary amounts.
const MoneyScale int32 = 2

// RoundMoney rounds half away from zero to MoneyScale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
