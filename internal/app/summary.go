package app

import (
	"fmt"
	"strings"

	"agentrade/internal/config"
	"agentrade/internal/decision"
)

// StartupSummary 在启动时打印关键配置，不包含任何密钥。
type StartupSummary struct {
	Market     MarketSummary
	Oracle     OracleSummary
	Trading    config.TradingConfig
	Backtest   config.BacktestConfig
	Strategies []string
	HTTPAddr   string
	LedgerPath string
}

type MarketSummary struct {
	Exchange   string
	DataSource string
	MarketType string
	Testnet    bool
	HasKeys    bool
}

type OracleSummary struct {
	APIURL          string
	Model           string
	RatePerMinute   int
	BreakerFailures int
	HasKey          bool
}

func newStartupSummary(cfg *config.Config, catalog *decision.Catalog) *StartupSummary {
	return &StartupSummary{
		Market: MarketSummary{
			Exchange:   cfg.Market.Exchange,
			DataSource: cfg.Market.DataSource,
			MarketType: cfg.Market.MarketType,
			Testnet:    cfg.Market.Testnet,
			HasKeys:    cfg.Market.APIKey != "" && cfg.Market.SecretKey != "",
		},
		Oracle: OracleSummary{
			APIURL:          cfg.Oracle.APIURL,
			Model:           cfg.Oracle.Model,
			RatePerMinute:   cfg.Oracle.RatePerMinute,
			BreakerFailures: cfg.Oracle.BreakerFailures,
			HasKey:          cfg.Oracle.APIKey != "",
		},
		Trading:    cfg.Trading,
		Backtest:   cfg.Backtest,
		Strategies: catalog.Names(),
		HTTPAddr:   cfg.App.HTTPAddr,
		LedgerPath: cfg.Storage.LedgerPath,
	}
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[交易所 (MARKET)]\n")
	fmt.Fprintf(&b, "  交易所: %s  数据源: %s  市场: %s  测试网: %t\n", s.Market.Exchange, s.Market.DataSource, s.Market.MarketType, s.Market.Testnet)
	fmt.Fprintf(&b, "  静态密钥: %s\n\n", configured(s.Market.HasKeys))

	b.WriteString("[决策模型 (ORACLE)]\n")
	fmt.Fprintf(&b, "  模型: %s  接口: %s\n", s.Oracle.Model, s.Oracle.APIURL)
	fmt.Fprintf(&b, "  限速: %d/min  熔断阈值: %d  密钥: %s\n\n", s.Oracle.RatePerMinute, s.Oracle.BreakerFailures, configured(s.Oracle.HasKey))

	t := s.Trading
	b.WriteString("[默认交易参数 (TRADING)]\n")
	fmt.Fprintf(&b, "  币种: %s  周期: %s  策略: %s\n", t.Symbol, t.Timeframe, t.Strategy)
	fmt.Fprintf(&b, "  投入: %.2f %s  杠杆: %dx  最大持仓: %d  间隔: %s\n", t.InvestmentAmount, t.QuoteAsset, t.Leverage, t.MaxOpenPositions, t.CheckInterval())
	fmt.Fprintf(&b, "  模拟盘: %t  自动启动: %t\n\n", t.PaperTrading, t.AutoStart)

	bt := s.Backtest
	b.WriteString("[回测 (BACKTEST)]\n")
	fmt.Fprintf(&b, "  数据源: %s  K线: %d  预热: %d  咨询间隔: %d\n", bt.DataSource, bt.CandleLimit, bt.WarmupCandles, bt.OracleEvery)
	fmt.Fprintf(&b, "  置信度>%.2f  仓位: %.0f%%  止损: %.1f%%  止盈: %.1f%%\n\n", bt.MinConfidence, bt.EntryFraction*100, bt.StopLossPct*100, bt.TakeProfitPct*100)

	b.WriteString("[策略 (STRATEGIES)]\n")
	fmt.Fprintf(&b, "  %s\n\n", formatList(s.Strategies))

	fmt.Fprintf(&b, "HTTP: %s  账本: %s\n", s.HTTPAddr, s.LedgerPath)
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func configured(ok bool) string {
	if ok {
		return "已配置"
	}
	return "未配置"
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
