// Package backtest 在历史 K 线上离线重放决策流程：固定百分比止盈止损、
// 每隔若干根咨询一次模型，并输出资金曲线与成交明细。
package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentrade/internal/decision"
	"agentrade/internal/logger"
	"agentrade/internal/market"
	"agentrade/internal/pkg/symbol"
	"agentrade/internal/scheduler"
	"agentrade/internal/store"
	"agentrade/internal/trader"
)

const (
	DefaultCandleLimit   = 500
	DefaultWarmup        = 20
	DefaultOracleEvery   = 5
	DefaultMinConfidence = 0.7
	DefaultEntryFraction = 0.1
	DefaultLogCap        = 200
	progressEvery        = 10

	msgNoData = "no data found"
)

// Params 为回测的可调参数，零值字段使用默认值。
type Params struct {
	CandleLimit   int
	Warmup        int
	OracleEvery   int
	MinConfidence float64
	EntryFraction float64
	Exit          trader.FixedPercentExit
	LogCap        int
}

func DefaultParams() Params {
	return Params{
		CandleLimit:   DefaultCandleLimit,
		Warmup:        DefaultWarmup,
		OracleEvery:   DefaultOracleEvery,
		MinConfidence: DefaultMinConfidence,
		EntryFraction: DefaultEntryFraction,
		Exit:          trader.DefaultFixedPercentExit(),
		LogCap:        DefaultLogCap,
	}
}

func (p Params) normalize() Params {
	def := DefaultParams()
	if p.CandleLimit <= 0 {
		p.CandleLimit = def.CandleLimit
	}
	if p.Warmup <= 0 {
		p.Warmup = def.Warmup
	}
	if p.OracleEvery <= 0 {
		p.OracleEvery = def.OracleEvery
	}
	if p.MinConfidence <= 0 {
		p.MinConfidence = def.MinConfidence
	}
	if p.EntryFraction <= 0 || p.EntryFraction > 1 {
		p.EntryFraction = def.EntryFraction
	}
	if p.Exit.StopLossPct <= 0 || p.Exit.TakeProfitPct <= 0 {
		p.Exit = def.Exit
	}
	if p.LogCap <= 0 {
		p.LogCap = def.LogCap
	}
	return p
}

// Request 描述一次回测。
type Request struct {
	Symbol         string  `json:"symbol" validate:"required"`
	Timeframe      string  `json:"timeframe" validate:"required"`
	Strategy       string  `json:"strategy"`
	InitialCapital float64 `json:"initial_capital" validate:"gt=0"`
}

func (r Request) normalize() Request {
	if norm := symbol.Normalize(r.Symbol); norm != "" {
		r.Symbol = norm
	} else {
		r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	}
	r.Timeframe = market.NormalizeTimeframe(r.Timeframe)
	r.Strategy = strings.TrimSpace(r.Strategy)
	if r.Strategy == "" {
		r.Strategy = decision.DefaultStrategy
	}
	return r
}

// Runner 持有数据源与模型，可并发复用；每次 Run 的状态都在栈上。
type Runner struct {
	source market.Source
	oracle trader.Oracle
	params Params
}

func NewRunner(source market.Source, oracle trader.Oracle, params Params) (*Runner, error) {
	if source == nil {
		return nil, errors.New("backtest: market source is required")
	}
	if oracle == nil {
		return nil, errors.New("backtest: oracle is required")
	}
	return &Runner{source: source, oracle: oracle, params: params.normalize()}, nil
}

func (r *Runner) Params() Params { return r.params }

// simPosition 为回测中唯一的持仓槽位。
type simPosition struct {
	trade     store.Trade
	levels    trader.Levels
	entryTime time.Time
}

type run struct {
	req     Request
	params  Params
	obs     Observer
	log     *rollingLog
	total   int
	capital float64
}

func (s *run) emit(processed int, format string, args ...any) {
	line := progressLine(format, args...)
	s.log.Add(line)
	logger.Debugf("[backtest] %s %s: %s", s.req.Symbol, s.req.Timeframe, line)
	notifyObserver(s.obs, Progress{
		Processed: processed,
		Total:     s.total,
		Capital:   s.capital,
		Message:   line,
		Log:       s.log.Snapshot(),
		At:        time.Now().UTC(),
	})
}

// Run 执行一次回测。数据获取失败或为空时返回只带 Error 的结果。
func (r *Runner) Run(ctx context.Context, req Request, obs Observer) Result {
	req = req.normalize()
	if req.Symbol == "" || req.Timeframe == "" {
		return errorResult("symbol and timeframe are required")
	}
	if req.InitialCapital <= 0 {
		return errorResult("initial capital must be positive")
	}
	p := r.params
	s := &run{req: req, params: p, obs: obs, log: newRollingLog(p.LogCap), capital: req.InitialCapital}

	s.emit(0, "Fetching historical data for %s (%s)...", req.Symbol, req.Timeframe)
	candles, err := r.source.FetchCandles(ctx, req.Symbol, req.Timeframe, p.CandleLimit)
	if err != nil {
		logger.Warnf("[backtest] fetch %s %s failed: %v", req.Symbol, req.Timeframe, err)
		return errorResult(err.Error())
	}
	// 最后一根若仍在形成中（按墙钟判断）则不参与回放
	candles = scheduler.DropUnclosed(candles, req.Timeframe)
	if len(candles) == 0 {
		return errorResult(msgNoData)
	}
	n := len(candles)
	s.total = n

	res := Result{
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Strategy:       req.Strategy,
		InitialCapital: req.InitialCapital,
		Candles:        n,
		FinalCapital:   req.InitialCapital,
		EquityCurve:    []EquityPoint{{Time: candles[0].OpenAt(), Equity: req.InitialCapital}},
		Series:         candles,
	}
	var pos *simPosition

	for i := p.Warmup; i < n; i++ {
		if err := ctx.Err(); err != nil {
			logger.Warnf("[backtest] %s %s cancelled at %d/%d", req.Symbol, req.Timeframe, i, n)
			return errorResult(fmt.Sprintf("cancelled: %v", err))
		}
		if i%progressEvery == 0 {
			s.emit(i, "Processing candle %d/%d", i, n)
		}
		candle := candles[i]
		price := candle.Close
		at := candle.OpenAt()

		if pos != nil {
			reason, hit := trader.CheckExit(pos.trade.IsLong(), pos.levels, price)
			if !hit {
				continue
			}
			pnl, pct := trader.RealizedPnL(pos.trade.IsLong(), pos.trade.EntryPrice, price, pos.trade.Quantity)
			s.capital += pnl
			res.TotalPnL += pnl
			res.TotalTrades++
			if pnl > 0 {
				res.Wins++
			} else {
				res.Losses++
			}
			res.Trades = append(res.Trades, ClosedTrade{
				EntryTime:  pos.entryTime,
				ExitTime:   at,
				Direction:  direction(pos.trade.Action),
				Action:     string(pos.trade.Action),
				EntryPrice: pos.trade.EntryPrice,
				ExitPrice:  price,
				Quantity:   pos.trade.Quantity,
				PnL:        pnl,
				PnLPct:     pct,
				Reason:     reason,
			})
			res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: at, Equity: s.capital})
			s.emit(i, "Closed %s at %.4f (%s), PnL %.4f, capital %.2f", direction(pos.trade.Action), price, reason, pnl, s.capital)
			pos = nil
			// 平仓所在的 K 线不再开新仓
			continue
		}

		if i%p.OracleEvery != 0 {
			continue
		}
		s.emit(i, "Requesting AI analysis at candle %d...", i)
		res.OracleCalls++
		out, err := r.oracle.Recommend(ctx, decision.Request{
			Symbol:        req.Symbol,
			BaseTimeframe: req.Timeframe,
			Strategy:      req.Strategy,
			Context:       map[string][]market.Candle{req.Timeframe: candles[:i+1]},
		})
		if err != nil {
			s.emit(i, "AI analysis failed: %v", err)
			continue
		}
		if !out.Valid() {
			s.emit(i, "AI returned no actionable signal (%s)", out.Status)
			continue
		}
		rec := out.Recommendation
		s.emit(i, "AI Decision: %s (confidence %.2f)", rec.Action, rec.Confidence)
		if !rec.Action.IsEntry() || rec.Confidence <= p.MinConfidence {
			continue
		}
		qty := trader.QuantityFor(s.capital*p.EntryFraction, price)
		if qty <= 0 {
			continue
		}
		t := store.Trade{
			Symbol:       req.Symbol,
			Timeframe:    req.Timeframe,
			Action:       rec.Action,
			Amount:       s.capital * p.EntryFraction,
			Quantity:     qty,
			EntryPrice:   price,
			EntryTime:    at,
			Status:       store.TradeStatusOpen,
			IsSimulation: true,
		}
		lv, ok := p.Exit.LevelsFor(t)
		if !ok {
			continue
		}
		pos = &simPosition{trade: t, levels: lv, entryTime: at}
		s.emit(i, "OPEN %s at %.4f, qty %.6f", direction(rec.Action), price, qty)
	}

	if pos != nil {
		s.emit(n, "Position still open at end of data (%s at %.4f)", direction(pos.trade.Action), pos.trade.EntryPrice)
	}
	res.FinalCapital = s.capital
	s.emit(n, "Backtest completed. trades=%d pnl=%.4f final=%.2f", res.TotalTrades, res.TotalPnL, res.FinalCapital)
	logger.Infof("[backtest] %s %s done: trades=%d wins=%d losses=%d pnl=%.4f", req.Symbol, req.Timeframe, res.TotalTrades, res.Wins, res.Losses, res.TotalPnL)
	return res
}

func direction(a store.Action) string {
	if a == store.ActionSell {
		return "SHORT"
	}
	return "LONG"
}
