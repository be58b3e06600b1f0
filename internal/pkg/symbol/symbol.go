package symbol

import (
	"strings"
)

// Symbol is a trading pair in BASE/QUOTE form.
type Symbol struct {
	Base  string
	Quote string
}

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Parse accepts "BTC/USDT", "BTCUSDT", "btc_usdt" and ccxt-style "BTC/USDT:USDT".
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "_", "-"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
		}
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

func (s Symbol) Valid() bool {
	return s.Base != "" && s.Quote != ""
}

// Internal 返回 "BTC/USDT" 形式。
func (s Symbol) Internal() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回 "BTCUSDT" 形式。
func (s Symbol) Binance() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + s.Quote
}

// Gate 返回 "BTC_USDT" 形式（gate 永续合约名）。
func (s Symbol) Gate() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + "_" + s.Quote
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// QuoteOf returns the quote asset, falling back to def for unparseable input.
func QuoteOf(s, def string) string {
	if sym := Parse(s); sym.Valid() {
		return sym.Quote
	}
	return def
}

func IsValid(s string) bool {
	return Parse(s).Valid()
}
