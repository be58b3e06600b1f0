package market

import (
	"sort"
	"strings"
	"time"
)

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// higherTimeframes 决策时附带的大周期上下文。
var higherTimeframes = map[string][]string{
	"1m":  {"5m", "15m"},
	"3m":  {"15m", "1h"},
	"5m":  {"15m", "1h"},
	"15m": {"1h", "4h"},
	"30m": {"2h", "4h"},
	"1h":  {"4h", "1d"},
	"2h":  {"6h", "1d"},
	"4h":  {"1d", "1w"},
	"6h":  {"1d", "1w"},
	"8h":  {"1d", "1w"},
	"12h": {"1d", "1w"},
	"1d":  {"1w"},
}

func NormalizeTimeframe(tf string) string {
	return strings.ToLower(strings.TrimSpace(tf))
}

func IsSupportedTimeframe(tf string) bool {
	_, ok := timeframeDurations[NormalizeTimeframe(tf)]
	return ok
}

func TimeframeDuration(tf string) (time.Duration, bool) {
	d, ok := timeframeDurations[NormalizeTimeframe(tf)]
	return d, ok
}

// HigherTimeframes returns the macro-context timeframes for a base timeframe.
// Unknown or top-level timeframes yield nil.
func HigherTimeframes(base string) []string {
	higher := higherTimeframes[NormalizeTimeframe(base)]
	if len(higher) == 0 {
		return nil
	}
	return append([]string(nil), higher...)
}

// SupportedTimeframes 按时长升序返回所有支持的周期。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(timeframeDurations))
	for k := range timeframeDurations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return timeframeDurations[keys[i]] < timeframeDurations[keys[j]]
	})
	return keys
}
