package provider

import (
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type ModelCfg struct {
	APIURL        string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	RatePerMinute int
	Headers       map[string]string
}

// NewOpenAIClient builds a client; RatePerMinute <= 0 disables throttling.
func NewOpenAIClient(cfg ModelCfg) *OpenAIChatClient {
	client := &OpenAIChatClient{
		BaseURL:      strings.TrimSpace(cfg.APIURL),
		APIKey:       strings.TrimSpace(cfg.APIKey),
		Model:        strings.TrimSpace(cfg.Model),
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		ExtraHeaders: cfg.Headers,
	}
	if cfg.RatePerMinute > 0 {
		client.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return client
}
