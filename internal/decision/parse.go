package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/moznion/go-optional"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"agentrade/internal/pkg/jsonutil"
	"agentrade/internal/store"
)

// 模型偶尔把数字写成字符串，schema 对数值字段放宽为 number|string。
const recommendationSchemaText = `{
  "type": "object",
  "required": ["action", "confidence"],
  "properties": {
    "action": {"type": "string", "pattern": "^(?i)\\s*(buy|sell|hold)\\s*$"},
    "confidence": {"type": ["number", "string"]},
    "entry_price": {"type": ["number", "string", "null"]},
    "stop_loss": {"type": ["number", "string", "null"]},
    "take_profit": {"type": ["number", "string", "null"]},
    "reasoning": {"type": ["string", "null"]}
  }
}`

var recommendationSchema = jsonschema.MustCompileString("recommendation.json", recommendationSchemaText)

// Parse 将模型原始回复转换为带标签的结果，不返回 error：
// 空回复为 NoSignal，无法提取或不符合 schema 为 Malformed。
func Parse(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return noSignal(raw, ErrEmptyReply)
	}
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok || !gjson.Valid(obj) {
		return malformed(raw, fmt.Errorf("no json object in reply"))
	}
	if err := validateSchema(obj); err != nil {
		return malformed(raw, fmt.Errorf("schema: %w", err))
	}
	doc := gjson.Parse(obj)
	action, ok := store.ParseAction(doc.Get("action").String())
	if !ok {
		return malformed(raw, fmt.Errorf("unknown action %q", doc.Get("action").String()))
	}
	conf := doc.Get("confidence")
	confidence, ok := number(conf)
	if !ok {
		return malformed(raw, fmt.Errorf("confidence is not a number: %q", conf.Raw))
	}
	rec := Recommendation{
		Action:     action,
		Confidence: clamp01(confidence),
		EntryPrice: price(doc.Get("entry_price")),
		StopLoss:   price(doc.Get("stop_loss")),
		TakeProfit: price(doc.Get("take_profit")),
		Reasoning:  strings.TrimSpace(doc.Get("reasoning").String()),
	}
	return Result{Status: StatusValid, Recommendation: rec, Raw: raw}
}

func validateSchema(obj string) error {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return recommendationSchema.Validate(v)
}

func number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(r.Str), "%"))
		if s == "" {
			return 0, false
		}
		v := gjson.Parse(s)
		if v.Type != gjson.Number {
			return 0, false
		}
		return v.Float(), true
	default:
		return 0, false
	}
}

// price 把缺失、非数字与非正值统一为 None。
func price(r gjson.Result) optional.Option[float64] {
	v, ok := number(r)
	if !ok || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return optional.None[float64]()
	}
	return optional.Some(v)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
