package trader

import (
	"github.com/moznion/go-optional"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/store"
)

// Levels 为一个持仓的止损/止盈价；缺失的一侧不参与判断。
type Levels struct {
	StopLoss   optional.Option[float64]
	TakeProfit optional.Option[float64]
}

// ExitPolicy 决定一个持仓的退出价位。实盘用 OracleLevelExit，回测用 FixedPercentExit。
type ExitPolicy interface {
	Name() string
	LevelsFor(t store.Trade) (Levels, bool)
}

// OracleLevelExit 使用创建持仓时模型给出的 SL/TP。没有关联 Decision 的持仓不做判断。
type OracleLevelExit struct{}

func (OracleLevelExit) Name() string { return "oracle_levels" }

func (OracleLevelExit) LevelsFor(t store.Trade) (Levels, bool) {
	if t.Decision == nil {
		return Levels{}, false
	}
	lv := Levels{StopLoss: fromPtr(t.Decision.StopLoss), TakeProfit: fromPtr(t.Decision.TakeProfit)}
	return lv, lv.StopLoss.IsSome() || lv.TakeProfit.IsSome()
}

// FixedPercentExit 以开仓价的固定百分比作为 SL/TP，SHORT 方向对称。
type FixedPercentExit struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// DefaultFixedPercentExit 为 -2% / +4%。
func DefaultFixedPercentExit() FixedPercentExit {
	return FixedPercentExit{StopLossPct: 0.02, TakeProfitPct: 0.04}
}

func (FixedPercentExit) Name() string { return "fixed_percent" }

func (p FixedPercentExit) LevelsFor(t store.Trade) (Levels, bool) {
	if t.EntryPrice <= 0 {
		return Levels{}, false
	}
	entry := decFromFloat(t.EntryPrice)
	one := decFromFloat(1)
	sl := decFromFloat(p.StopLossPct)
	tp := decFromFloat(p.TakeProfitPct)
	var lv Levels
	if t.IsLong() {
		lv.StopLoss = optional.Some(decToFloat(entry.Mul(one.Sub(sl))))
		lv.TakeProfit = optional.Some(decToFloat(entry.Mul(one.Add(tp))))
	} else {
		lv.StopLoss = optional.Some(decToFloat(entry.Mul(one.Add(sl))))
		lv.TakeProfit = optional.Some(decToFloat(entry.Mul(one.Sub(tp))))
	}
	return lv, true
}

// CheckExit 判断价格是否触及退出价。LONG: price<=SL 止损、price>=TP 止盈；
// SHORT 相反。同一价格同时满足两侧时止损优先。
func CheckExit(long bool, lv Levels, price float64) (string, bool) {
	if price <= 0 {
		return "", false
	}
	if lv.StopLoss.IsSome() {
		sl := lv.StopLoss.Unwrap()
		if (long && decimalLTE(price, sl)) || (!long && decimalGTE(price, sl)) {
			return store.ReasonStopLoss, true
		}
	}
	if lv.TakeProfit.IsSome() {
		tp := lv.TakeProfit.Unwrap()
		if (long && decimalGTE(price, tp)) || (!long && decimalLTE(price, tp)) {
			return store.ReasonTakeProfit, true
		}
	}
	return "", false
}

// UnwindSide 返回平仓方向：LONG 卖出，SHORT 买入。
func UnwindSide(t store.Trade) exchange.Side {
	return entrySide(t.Action).Opposite()
}

func entrySide(a store.Action) exchange.Side {
	if a == store.ActionSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func fromPtr(p *float64) optional.Option[float64] {
	if p == nil || *p <= 0 {
		return optional.None[float64]()
	}
	return optional.Some(*p)
}
