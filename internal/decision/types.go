package decision

import (
	"errors"

	"github.com/moznion/go-optional"

	"agentrade/internal/market"
	"agentrade/internal/store"
)

// ErrEmptyReply 表示模型返回了空内容（或没有任何候选）。
var ErrEmptyReply = errors.New("oracle returned an empty reply")

// Request 是一次决策咨询的输入。Context 以周期为键，必须包含 BaseTimeframe。
type Request struct {
	Symbol        string
	BaseTimeframe string
	Strategy      string
	Context       map[string][]market.Candle
	// FundingRate 仅永续合约有值。
	FundingRate optional.Option[float64]
}

// Recommendation 为解析后的模型建议；价格缺失或非正时为 None。
type Recommendation struct {
	Action     store.Action
	Confidence float64
	EntryPrice optional.Option[float64]
	StopLoss   optional.Option[float64]
	TakeProfit optional.Option[float64]
	Reasoning  string
}

type Status int

const (
	StatusValid Status = iota
	StatusNoSignal
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusNoSignal:
		return "no_signal"
	case StatusMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result 是带标签的解析结果。只有 StatusValid 时 Recommendation 有意义；
// 其余状态下 Err 说明原因。
type Result struct {
	Status         Status
	Recommendation Recommendation
	Raw            string
	Err            error
}

func (r Result) Valid() bool {
	return r.Status == StatusValid
}

func noSignal(raw string, err error) Result {
	return Result{Status: StatusNoSignal, Raw: raw, Err: err}
}

func malformed(raw string, err error) Result {
	return Result{Status: StatusMalformed, Raw: raw, Err: err}
}

// PtrOf converts an optional price to the ledger's nullable column form.
func PtrOf(o optional.Option[float64]) *float64 {
	if o.IsNone() {
		return nil
	}
	v := o.Unwrap()
	return &v
}
