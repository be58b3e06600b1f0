package binance

import (
	"strings"
	"time"

	"agentrade/internal/gateway/exchange"
)

const (
	spotMainnetURL    = "https://api.binance.com"
	spotTestnetURL    = "https://testnet.binance.vision"
	futuresMainnetURL = "https://fapi.binance.com"
	futuresTestnetURL = "https://testnet.binancefuture.com"
)

type Config struct {
	APIKey    string
	SecretKey string

	// MarketType 为 spot 或 future（USDⓈ-M 永续）。
	MarketType string
	Testnet    bool

	SpotBaseURL    string
	FuturesBaseURL string
	HTTPTimeout    time.Duration
	ProxyURL       string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.SecretKey = strings.TrimSpace(out.SecretKey)
	out.MarketType = exchange.NormalizeMarketType(out.MarketType)
	out.SpotBaseURL = strings.TrimRight(strings.TrimSpace(out.SpotBaseURL), "/")
	if out.SpotBaseURL == "" {
		out.SpotBaseURL = spotMainnetURL
		if out.Testnet {
			out.SpotBaseURL = spotTestnetURL
		}
	}
	out.FuturesBaseURL = strings.TrimRight(strings.TrimSpace(out.FuturesBaseURL), "/")
	if out.FuturesBaseURL == "" {
		out.FuturesBaseURL = futuresMainnetURL
		if out.Testnet {
			out.FuturesBaseURL = futuresTestnetURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
