package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/skalibog/aitrade/internal/analysis/classifier"
	"github.com/skalibog/aitrade/internal/analysis/technical"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/engine"
	"github.com/skalibog/aitrade/internal/performance"
	"github.com/skalibog/aitrade/internal/position"
	"github.com/skalibog/aitrade/internal/risk"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrLengthMismatch ряды цен и прогнозов разной длины
	ErrLengthMismatch = errors.New("длины рядов цен и прогнозов не совпадают")
	// ErrEmptyInput пустой ряд
	ErrEmptyInput = errors.New("пустой ряд для бэктеста")
	// ErrInvalidInput цена или прогноз не являются корректными числами
	ErrInvalidInput = errors.New("некорректные данные бэктеста")
)

// Runner прогоняет исторический ряд синхронно и детерминированно
type Runner struct {
	initialCapital float64
	tradingFee     float64
	cfg            config.Config
}

// NewRunner создает раннер бэктеста
func NewRunner(cfg config.Config) *Runner {
	return &Runner{
		initialCapital: cfg.Backtest.InitialCapital,
		tradingFee:     cfg.Backtest.TradingFee,
		cfg:            cfg,
	}
}

// Run пороговый бэктест по ряду прогнозов: покупка на весь капитал при прогнозе выше порога,
// продажа при прогнозе ниже -порога. Комиссия берется с объема входа и выхода.
// Позиция, открытая на конце ряда, в итоговый капитал не входит.
func (r *Runner) Run(ticks []models.Tick, predictions []float64, threshold float64) (models.BacktestResult, error) {
	if err := validate(ticks, predictions); err != nil {
		return models.BacktestResult{}, err
	}
	if math.IsNaN(threshold) || threshold < 0 {
		return models.BacktestResult{}, fmt.Errorf("%w: порог %v", ErrInvalidInput, threshold)
	}

	capital := r.initialCapital
	var holding float64
	var trades []models.BacktestTrade
	var returns []float64

	for i, prediction := range predictions {
		tick := ticks[i]

		switch {
		case prediction > threshold && holding == 0:
			holding = capital / tick.Price * (1 - r.tradingFee)
			trades = append(trades, models.BacktestTrade{
				Index:     i,
				Timestamp: tick.Timestamp,
				Kind:      models.Buy,
				Price:     tick.Price,
			})
		case prediction < -threshold && holding > 0:
			proceeds := holding * tick.Price * (1 - r.tradingFee)
			tradeReturn := proceeds - capital
			capital = proceeds
			holding = 0
			returns = append(returns, tradeReturn/r.initialCapital)
			trades = append(trades, models.BacktestTrade{
				Index:     i,
				Timestamp: tick.Timestamp,
				Kind:      models.Sell,
				Price:     tick.Price,
				Returns:   tradeReturn,
			})
		}
	}

	result := r.result(capital, returns, trades)
	logger.Info("Бэктест завершен",
		zap.Int("тиков", len(ticks)),
		zap.Int("сделок", result.Metrics.TotalTrades),
		zap.Float64("total_returns", result.TotalReturns),
		zap.Float64("sharpe", result.SharpeRatio),
		zap.Float64("max_drawdown", result.MaxDrawdown))
	return result, nil
}

// Replay прогоняет ряд через живой конвейер со свежим счетом и журналом позиций.
// Оставшиеся открытыми позиции закрываются по последней цене.
func (r *Runner) Replay(ctx context.Context, ticks []models.Tick, scores []float64) (models.BacktestResult, error) {
	if err := validate(ticks, scores); err != nil {
		return models.BacktestResult{}, err
	}

	rm := risk.NewManager(r.cfg.Strategy, risk.NewAccount(r.initialCapital))
	ledger := position.NewLedger(rm)
	generator := classifier.NewGenerator(technical.NewEngine(r.cfg.Indicators), r.cfg.Signal)
	pipeline := engine.NewPipeline(generator, rm, ledger, r.cfg.Indicators.History)

	var trades []models.BacktestTrade
	for i, tick := range ticks {
		outcome, err := pipeline.Process(ctx, tick, scores[i])
		if err != nil {
			return models.BacktestResult{}, fmt.Errorf("ошибка на тике %d: %w", i, err)
		}
		if outcome.Skipped {
			return models.BacktestResult{}, fmt.Errorf("%w: время тика %d не возрастает", ErrInvalidInput, i)
		}
		for _, closed := range outcome.Closed {
			trades = append(trades, closeTrade(i, closed))
		}
		if outcome.Opened != nil {
			trades = append(trades, models.BacktestTrade{
				Index:     i,
				Timestamp: tick.Timestamp,
				Kind:      outcome.Signal.Kind,
				Price:     outcome.Opened.EntryPrice,
			})
		}
	}

	last := len(ticks) - 1
	for _, open := range ledger.OpenPositions() {
		closed, err := ledger.Close(open.ID, ticks[last].Price, models.Manual, ticks[last].Timestamp)
		if err != nil {
			return models.BacktestResult{}, fmt.Errorf("ошибка закрытия позиции %d в конце ряда: %w", open.ID, err)
		}
		trades = append(trades, closeTrade(last, closed))
	}

	return r.result(rm.Balance(), ledger.Returns(r.initialCapital), trades), nil
}

func (r *Runner) result(capital float64, returns []float64, trades []models.BacktestTrade) models.BacktestResult {
	metrics := performance.Evaluate(returns)
	if trades == nil {
		trades = []models.BacktestTrade{}
	}
	return models.BacktestResult{
		TotalReturns: (capital - r.initialCapital) / r.initialCapital,
		SharpeRatio:  metrics.SharpeRatio,
		MaxDrawdown:  metrics.MaxDrawdown,
		WinRate:      metrics.WinRate,
		FinalCapital: capital,
		Metrics:      metrics,
		Trades:       trades,
	}
}

func closeTrade(i int, p models.Position) models.BacktestTrade {
	kind := models.Sell
	if p.Side == models.Short {
		kind = models.Buy
	}
	return models.BacktestTrade{
		Index:     i,
		Timestamp: p.ClosedAt,
		Kind:      kind,
		Price:     p.ExitPrice,
		Returns:   p.RealizedPnL,
	}
}

func validate(ticks []models.Tick, predictions []float64) error {
	if len(ticks) != len(predictions) {
		return fmt.Errorf("%w: %d цен, %d прогнозов", ErrLengthMismatch, len(ticks), len(predictions))
	}
	if len(ticks) == 0 {
		return ErrEmptyInput
	}
	for i, tick := range ticks {
		if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
			return fmt.Errorf("%w: цена %v на индексе %d", ErrInvalidInput, tick.Price, i)
		}
		if math.IsNaN(predictions[i]) || math.IsInf(predictions[i], 0) {
			return fmt.Errorf("%w: прогноз %v на индексе %d", ErrInvalidInput, predictions[i], i)
		}
	}
	return nil
}
