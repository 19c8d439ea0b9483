package main

import (
	"context"
	"fmt"

	"github.com/skalibog/aitrade/internal/analysis/classifier"
	"github.com/skalibog/aitrade/internal/analysis/technical"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/engine"
	"github.com/skalibog/aitrade/internal/exchange"
	"github.com/skalibog/aitrade/internal/position"
	"github.com/skalibog/aitrade/internal/predictor"
	"github.com/skalibog/aitrade/internal/risk"
	"github.com/skalibog/aitrade/internal/storage"
	"github.com/skalibog/aitrade/internal/telemetry"
	"github.com/skalibog/aitrade/internal/ui"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var liveCommand = &cli.Command{
	Name:  "live",
	Usage: "мониторинг рынка с бумажным исполнением сделок",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-ui",
			Usage: "отключить терминальную панель и писать логи в консоль",
		},
	},
	Action: runLive,
}

func runLive(c *cli.Context) error {
	var uiEnabled bool
	cfg, err := setup(func(cfg *config.Config) bool {
		uiEnabled = cfg.UI.Enabled && !c.Bool("no-ui")
		return !uiEnabled
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	client, err := exchange.NewBinanceClient(cfg.Binance, cfg.Trading.Interval)
	if err != nil {
		return fmt.Errorf("ошибка создания клиента Binance: %w", err)
	}
	var feed engine.Feed = client

	rm := risk.NewManager(cfg.Strategy, risk.NewAccount(cfg.Trading.InitialBalance))
	ledger := position.NewLedger(rm)
	generator := classifier.NewGenerator(technical.NewEngine(cfg.Indicators), cfg.Signal)
	pipeline := engine.NewPipeline(generator, rm, ledger, cfg.Indicators.History).
		WithExecutor(exchange.NewPaperExecutor())

	if cfg.Storage.Enabled {
		store, err := storage.NewInfluxDBStorage(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("ошибка подключения к InfluxDB: %w", err)
		}
		defer store.Close()
		pipeline.WithJournal(store)
		feed = storage.NewRecordingFeed(feed, store)
	}

	monitor := engine.NewMonitor(pipeline, feed, predictor.NewMomentum(cfg.Predictor), cfg.Trading.Symbols, cfg.Monitor)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.Enabled {
		hub := telemetry.NewHub()
		monitor.AddPublisher(hub)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return telemetry.Serve(gctx, hub, cfg.Telemetry.Addr)
		})
	}

	if uiEnabled {
		term := ui.NewTermUI(cfg.UI, cfg.Log.JSONFile)
		monitor.AddPublisher(term)
		g.Go(func() error {
			// Выход из панели завершает весь прогон
			defer cancel()
			return term.Run(gctx)
		})
	}

	g.Go(func() error {
		return monitor.Run(gctx)
	})

	err = g.Wait()

	snap := pipeline.Snapshot()
	logger.Info("Мониторинг остановлен",
		zap.Float64("balance", snap.Balance),
		zap.Int("open_positions", len(snap.Open)),
		zap.Int("total_trades", snap.Metrics.TotalTrades),
		zap.Float64("win_rate", snap.Metrics.WinRate),
		zap.Float64("max_drawdown", snap.Metrics.MaxDrawdown))
	return err
}
