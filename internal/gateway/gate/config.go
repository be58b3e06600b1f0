package gate

import (
	"strings"
	"time"
)

const defaultGateREST = "https://api.gateio.ws/api/v4"

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	ProxyURL    string
	// Settle 为永续结算币种，默认 usdt。
	Settle string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultGateREST
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	out.Settle = strings.ToLower(strings.TrimSpace(out.Settle))
	if out.Settle == "" {
		out.Settle = "usdt"
	}
	return out
}
