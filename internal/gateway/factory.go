package gateway

import (
	"fmt"
	"strings"

	"agentrade/internal/config"
	"agentrade/internal/gateway/binance"
	"agentrade/internal/gateway/gate"
	"agentrade/internal/market"
)

// Credentials override the configured exchange keys for one run.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// NewBinance builds the venue client for marketType ("spot"/"future").
func NewBinance(cfg config.MarketConfig, marketType string, creds Credentials) (*binance.Client, error) {
	apiKey := firstNonEmpty(creds.APIKey, cfg.APIKey)
	secret := firstNonEmpty(creds.SecretKey, cfg.SecretKey)
	if marketType == "" {
		marketType = cfg.MarketType
	}
	return binance.New(binance.Config{
		APIKey:         apiKey,
		SecretKey:      secret,
		MarketType:     marketType,
		Testnet:        cfg.Testnet,
		SpotBaseURL:    cfg.SpotBaseURL,
		FuturesBaseURL: cfg.FuturesBaseURL,
		HTTPTimeout:    cfg.Timeout(),
		ProxyURL:       cfg.ProxyURL,
	})
}

// NewSource returns the candle source named by dataSource. The binance source
// needs no keys for klines.
func NewSource(cfg config.MarketConfig, dataSource, marketType string) (market.Source, error) {
	switch strings.ToLower(strings.TrimSpace(dataSource)) {
	case "", "binance":
		return NewBinance(cfg, marketType, Credentials{})
	case "gate":
		return gate.New(gate.Config{
			RESTBaseURL: cfg.GateBaseURL,
			HTTPTimeout: cfg.Timeout(),
			ProxyURL:    cfg.ProxyURL,
		})
	default:
		return nil, fmt.Errorf("unsupported market data source: %s", dataSource)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
