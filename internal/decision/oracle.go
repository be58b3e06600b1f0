package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentrade/internal/gateway/provider"
	"agentrade/internal/logger"
	"agentrade/internal/pkg/circuit"
)

type Config struct {
	Provider    provider.ModelProvider
	Catalog     *Catalog
	Breaker     *circuit.Breaker
	Temperature float64
	MaxTokens   int
}

// Oracle 组装提示词、调用模型并解析为带标签的结果。
type Oracle struct {
	provider    provider.ModelProvider
	catalog     *Catalog
	breaker     *circuit.Breaker
	temperature float64
	maxTokens   int
}

func New(cfg Config) (*Oracle, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("oracle provider is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuit.New("oracle-"+cfg.Provider.ID(), 5, 5*time.Minute)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Oracle{
		provider:    cfg.Provider,
		catalog:     cfg.Catalog,
		breaker:     cfg.Breaker,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (o *Oracle) Model() string {
	if o == nil || o.provider == nil {
		return ""
	}
	return o.provider.ID()
}

// Recommend 返回 (Result, nil) 表示模型已被咨询或熔断跳过；
// 只有请求非法或传输失败才返回 error。
func (o *Oracle) Recommend(ctx context.Context, req Request) (Result, error) {
	if o == nil || o.provider == nil {
		return Result{}, fmt.Errorf("oracle not initialized")
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return Result{}, fmt.Errorf("oracle request: symbol is required")
	}
	if len(req.Context[req.BaseTimeframe]) == 0 {
		return Result{}, fmt.Errorf("oracle request: no candles for base timeframe %q", req.BaseTimeframe)
	}
	strat := o.catalog.Lookup(req.Strategy)
	system, user := BuildPrompt(req, strat)
	model := o.provider.ID()
	logger.LogLLMRequest(model, req.Symbol, system, user, "")

	var reply string
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := o.provider.Call(ctx, provider.ChatPayload{
			System:      system,
			User:        user,
			ExpectJSON:  true,
			MaxTokens:   o.maxTokens,
			Temperature: o.temperature,
		})
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	switch {
	case errors.Is(err, circuit.ErrOpen):
		logger.Warnf("[oracle] %s 熔断中，跳过本次咨询", model)
		return noSignal("", err), nil
	case errors.Is(err, provider.ErrEmptyChoices):
		return noSignal("", ErrEmptyReply), nil
	case err != nil:
		return Result{}, fmt.Errorf("oracle call %s: %w", model, err)
	}
	logger.LogLLMResponse(model, req.Symbol, reply)

	res := Parse(reply)
	if res.Valid() {
		logger.Infof("[oracle] %s %s -> %s conf=%.2f", model, req.Symbol, res.Recommendation.Action, res.Recommendation.Confidence)
	} else {
		logger.Warnf("[oracle] %s %s -> %s: %v", model, req.Symbol, res.Status, res.Err)
	}
	return res, nil
}
