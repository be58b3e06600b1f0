package manager

import (
	"errors"
	"strings"
	"sync"
	"time"

	"agentrade/internal/config"
	"agentrade/internal/decision"
	"agentrade/internal/gateway/provider"
	"agentrade/internal/logger"
	"agentrade/internal/pkg/circuit"
)

// Oracles 构建 OpenAI 兼容模型的决策 oracle；同一模型共享一个熔断器，
// 实盘循环与回测因此一起熔断。
type Oracles struct {
	cfg     config.OracleConfig
	catalog *decision.Catalog

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

func NewOracles(cfg config.OracleConfig, catalog *decision.Catalog) *Oracles {
	if catalog == nil {
		catalog = decision.DefaultCatalog()
	}
	return &Oracles{cfg: cfg, catalog: catalog, breakers: make(map[string]*circuit.Breaker)}
}

func (o *Oracles) breaker(model string) *circuit.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if b, ok := o.breakers[model]; ok {
		return b
	}
	cooldown := time.Duration(o.cfg.BreakerCooldown) * time.Second
	b := circuit.New("oracle-"+model, o.cfg.BreakerFailures, cooldown)
	b.OnStateChange(func(name string, from, to circuit.State) {
		logger.Warnf("[oracle] breaker %s: %s -> %s", name, from, to)
	})
	o.breakers[model] = b
	return b
}

// Build 返回指定模型的 oracle；空 model/apiKey 回落到配置。
func (o *Oracles) Build(model, apiKey string) (*decision.Oracle, error) {
	key := strings.TrimSpace(firstNonEmpty(apiKey, o.cfg.APIKey))
	if key == "" {
		return nil, errors.New("oracle api key is not configured")
	}
	model = firstNonEmpty(model, o.cfg.Model)
	client := provider.NewOpenAIClient(provider.ModelCfg{
		APIURL:        o.cfg.APIURL,
		APIKey:        key,
		Model:         model,
		Timeout:       o.cfg.Timeout(),
		MaxRetries:    o.cfg.MaxRetries,
		RatePerMinute: o.cfg.RatePerMinute,
	})
	return decision.New(decision.Config{
		Provider:    client,
		Catalog:     o.catalog,
		Breaker:     o.breaker(model),
		Temperature: o.cfg.Temperature,
	})
}
