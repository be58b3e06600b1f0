package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"agentrade/internal/app"
	"agentrade/internal/backtest"
	"agentrade/internal/config"
	"agentrade/internal/decision"
	"agentrade/internal/gateway"
	"agentrade/internal/logger"
	"agentrade/internal/manager"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "agentrade-backtest",
		Usage: "Replay historical candles through the trading oracle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				Value:   "configs/config.yaml",
				Sources: cli.EnvVars("AGENTRADE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one backtest and write an HTML equity chart",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Trading pair, e.g. BTC/USDT", Required: true},
					&cli.StringFlag{Name: "timeframe", Aliases: []string{"t"}, Usage: "Candle timeframe", Value: "1h"},
					&cli.StringFlag{Name: "strategy", Usage: "Strategy label from the catalog", Value: decision.DefaultStrategy},
					&cli.FloatFlag{Name: "capital", Usage: "Initial capital in quote asset (defaults to backtest.initial_capital)"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Chart output path (defaults under backtest.results_dir)"},
					&cli.BoolFlag{Name: "save", Usage: "Persist the run to the results database", Value: true},
				},
				Action: runAction,
			},
		},
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	logger.SetOutput(os.Stderr)
	logger.SetLevel("warn")

	capital := cmd.Float("capital")
	if capital <= 0 {
		capital = cfg.Backtest.InitialCapital
	}
	req := backtest.ParseRequest(cmd.String("symbol"), cmd.String("timeframe"), cmd.String("strategy"), capital)

	catalog, err := decision.LoadCatalog(cfg.StrategiesPath)
	if err != nil {
		return err
	}
	source, err := gateway.NewSource(cfg.Market, cfg.Backtest.DataSource, cfg.Market.MarketType)
	if err != nil {
		return fmt.Errorf("初始化数据源失败: %w", err)
	}
	engine := app.NewBacktestEngine(source, manager.NewOracles(cfg.Oracle, catalog), nil, app.BacktestParams(cfg.Backtest))

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("Backtesting %s %s", req.Symbol, req.Timeframe)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	res := engine.Run(ctx, req, progressObserver(bar))
	_ = bar.Finish()

	if cmd.Bool("save") {
		if err := saveRun(ctx, cfg.Backtest.ResultsDir, req, res); err != nil {
			logger.Warnf("保存回测结果失败: %v", err)
		}
	}
	if res.Failed() {
		return fmt.Errorf("backtest failed: %s", res.Error)
	}
	printResult(res)

	out := cmd.String("out")
	if out == "" {
		name := strings.ReplaceAll(req.Symbol, "/", "") + "_" + req.Timeframe + ".html"
		out = filepath.Join(cfg.Backtest.ResultsDir, name)
	}
	html, err := backtest.RenderEquityChart(res)
	if err != nil {
		return fmt.Errorf("渲染图表失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, html, 0o644); err != nil {
		return err
	}
	fmt.Printf("chart written to %s\n", out)
	return nil
}

// progressObserver 把引擎进度映射到进度条；总数在取数后才确定。
func progressObserver(bar *progressbar.ProgressBar) backtest.Observer {
	max := -1
	return backtest.ObserverFunc(func(p backtest.Progress) error {
		if p.Total > 0 && p.Total != max {
			max = p.Total
			bar.ChangeMax(max)
		}
		if p.Message != "" {
			bar.Describe(p.Message)
		}
		return bar.Set(p.Processed)
	})
}

func saveRun(ctx context.Context, dir string, req backtest.Request, res backtest.Result) error {
	st, err := backtest.NewResultStore(dir)
	if err != nil {
		return err
	}
	defer st.Close()
	id := uuid.NewString()
	run := backtest.Run{ID: id, Symbol: req.Symbol, Timeframe: req.Timeframe, Strategy: req.Strategy, InitialCapital: req.InitialCapital}
	if err := st.InsertRun(ctx, run); err != nil {
		return err
	}
	return st.FinishRun(context.WithoutCancel(ctx), id, res)
}

func printResult(res backtest.Result) {
	fmt.Printf("%s %s (%s)\n", res.Symbol, res.Timeframe, res.Strategy)
	fmt.Printf("  candles=%d oracle_calls=%d\n", res.Candles, res.OracleCalls)
	fmt.Printf("  trades=%d wins=%d losses=%d win_rate=%.1f%%\n", res.TotalTrades, res.Wins, res.Losses, res.WinRate())
	fmt.Printf("  pnl=%.4f final=%.2f return=%.2f%% max_drawdown=%.2f%%\n", res.TotalPnL, res.FinalCapital, res.ReturnPct(), res.MaxDrawdownPct())
	for _, t := range res.Trades {
		fmt.Printf("  %s %s %.6f @ %.4f -> %.4f pnl=%.4f (%s)\n", t.EntryTime.Format("2006-01-02 15:04"), t.Direction, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.Reason)
	}
}
