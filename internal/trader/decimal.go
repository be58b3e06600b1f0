package trader

import (
	"math"

	"github.com/shopspring/decimal"
)

var decHundred = decimal.NewFromInt(100)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

// RealizedPnL 按方向计算盈亏与百分比：LONG (exit-entry)*qty，SHORT (entry-exit)*qty，
// 百分比 = 价差 / entry * 100。
func RealizedPnL(long bool, entry, exit, qty float64) (pnl, pct float64) {
	e := decFromFloat(entry)
	diff := decFromFloat(exit).Sub(e)
	if !long {
		diff = diff.Neg()
	}
	pnl = decToFloat(diff.Mul(decFromFloat(qty)))
	if e.IsPositive() {
		pct = decToFloat(diff.Div(e).Mul(decHundred))
	}
	return pnl, pct
}

// QuantityFor sizes an entry in base units; the venue adapter rounds it to lot size.
func QuantityFor(investment, price float64) float64 {
	if price <= 0 || investment <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(investment).Div(decFromFloat(price)))
}
