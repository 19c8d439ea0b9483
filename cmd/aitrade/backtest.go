package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/skalibog/aitrade/internal/backtest"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/predictor"
	"github.com/skalibog/aitrade/internal/storage"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	modeThreshold = "threshold"
	modeReplay    = "replay"
)

var backtestCommand = &cli.Command{
	Name:  "backtest",
	Usage: "прогон стратегии по историческому ряду",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "csv",
			Usage: "файл с колонками timestamp,price[,prediction[,volume]]",
		},
		&cli.StringFlag{
			Name:  "symbol",
			Usage: "символ для загрузки ряда из InfluxDB",
		},
		&cli.TimestampFlag{
			Name:   "from",
			Layout: time.RFC3339,
			Usage:  "начало интервала в InfluxDB (RFC3339)",
		},
		&cli.TimestampFlag{
			Name:   "to",
			Layout: time.RFC3339,
			Usage:  "конец интервала в InfluxDB (RFC3339)",
		},
		&cli.StringFlag{
			Name:  "mode",
			Value: modeThreshold,
			Usage: "threshold - пороговый бэктест, replay - прогон через торговый конвейер",
		},
		&cli.Float64Flag{
			Name:  "threshold",
			Value: -1,
			Usage: "порог прогноза (по умолчанию из конфигурации)",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "файл для результата в JSON (по умолчанию stdout)",
		},
	},
	Action: runBacktest,
}

func runBacktest(c *cli.Context) error {
	cfg, err := setup(func(*config.Config) bool { return true })
	if err != nil {
		return err
	}

	mode := c.String("mode")
	if mode != modeThreshold && mode != modeReplay {
		return fmt.Errorf("неизвестный режим бэктеста: %s", mode)
	}

	ticks, predictions, err := loadSeries(c, cfg)
	if err != nil {
		return err
	}
	if predictions == nil {
		predictions, err = momentumPredictions(c.Context, predictor.NewMomentum(cfg.Predictor), ticks)
		if err != nil {
			return err
		}
	}

	runner := backtest.NewRunner(*cfg)
	var result models.BacktestResult
	switch mode {
	case modeReplay:
		result, err = runner.Replay(c.Context, ticks, predictions)
	default:
		threshold := c.Float64("threshold")
		if threshold < 0 {
			threshold = cfg.Backtest.Threshold
		}
		result, err = runner.Run(ticks, predictions, threshold)
	}
	if err != nil {
		return fmt.Errorf("ошибка бэктеста: %w", err)
	}

	return writeResult(c.String("out"), result)
}

// loadSeries читает ряд из CSV или из InfluxDB.
// Нулевой срез прогнозов означает, что их нужно вычислить.
func loadSeries(c *cli.Context, cfg *config.Config) ([]models.Tick, []float64, error) {
	if path := c.String("csv"); path != "" {
		symbol := c.String("symbol")
		if symbol == "" {
			symbol = cfg.Trading.Symbols[0]
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка открытия %s: %w", path, err)
		}
		defer file.Close()
		return readCSV(file, symbol)
	}

	if !cfg.Storage.Enabled {
		return nil, nil, errors.New("не задан --csv, а хранилище InfluxDB отключено")
	}
	symbol := c.String("symbol")
	from, to := c.Timestamp("from"), c.Timestamp("to")
	if symbol == "" || from == nil || to == nil {
		return nil, nil, errors.New("для загрузки из InfluxDB нужны --symbol, --from и --to")
	}

	store, err := storage.NewInfluxDBStorage(c.Context, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подключения к InfluxDB: %w", err)
	}
	defer store.Close()

	ticks, predictions, err := store.GetTicks(c.Context, symbol, *from, *to)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range predictions {
		if math.IsNaN(p) {
			logger.Info("В хранилище нет прогнозов, используется momentum-предиктор", zap.String("symbol", symbol))
			return ticks, nil, nil
		}
	}
	return ticks, predictions, nil
}

// momentumPredictions считает прогноз для каждого тика по ценам до него включительно.
// До прогрева предиктора прогноз равен 0.
func momentumPredictions(ctx context.Context, pred predictor.Predictor, ticks []models.Tick) ([]float64, error) {
	prices := make([]float64, 0, len(ticks))
	predictions := make([]float64, len(ticks))
	for i, tick := range ticks {
		prices = append(prices, tick.Price)
		score, err := pred.Predict(ctx, tick.Symbol, prices)
		switch {
		case errors.Is(err, predictor.ErrNotEnoughData):
			continue
		case err != nil:
			return nil, fmt.Errorf("ошибка прогноза на тике %d: %w", i, err)
		}
		predictions[i] = score
	}
	return predictions, nil
}

func writeResult(path string, result models.BacktestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации результата: %w", err)
	}

	if path == "" {
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", path, err)
	}
	logger.Info("Результат бэктеста сохранен", zap.String("path", path))
	return nil
}
