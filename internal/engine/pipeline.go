package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skalibog/aitrade/internal/analysis/classifier"
	"github.com/skalibog/aitrade/internal/performance"
	"github.com/skalibog/aitrade/internal/position"
	"github.com/skalibog/aitrade/internal/risk"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// ErrInvalidTick цена тика не положительна или не число
var ErrInvalidTick = errors.New("некорректный тик")

// Executor принимает запросы на исполнение. Повторы на стороне исполнителя.
type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) error
}

// Journal журнал сигналов, сделок и метрик
type Journal interface {
	SaveSignal(ctx context.Context, signal models.Signal) error
	SaveTrade(ctx context.Context, p models.Position) error
	SaveMetrics(ctx context.Context, metrics models.PerformanceMetrics, balance float64) error
}

// Outcome результат обработки одного тика
type Outcome struct {
	Signal   models.Signal
	Snapshot models.IndicatorSnapshot
	// Decision решение риск-менеджера, имеет смысл только для Buy/Sell
	Decision risk.Reason
	Opened   *models.Position
	Closed   []models.Position
	// Skipped тик отброшен как дубликат или пришел не по порядку
	Skipped bool
}

// Snapshot неизменяемый срез состояния для дашбордов
type Snapshot struct {
	Time    time.Time                 `json:"time"`
	Balance float64                   `json:"balance"`
	Metrics models.PerformanceMetrics `json:"metrics"`
	Open    []models.Position         `json:"open"`
	Signals map[string]models.Signal  `json:"signals"`
	Recent  []models.Position         `json:"recent"`
}

type series struct {
	prices []float64
	last   time.Time
}

// Pipeline синхронно обрабатывает тики: оценка открытых позиций, индикаторы,
// сигнал, проверка риска, размер и открытие позиции.
type Pipeline struct {
	generator *classifier.Generator
	risk      *risk.Manager
	ledger    *position.Ledger
	executor  Executor
	journal   Journal
	history   int
	base      float64

	mu      sync.Mutex
	series  map[string]*series
	signals map[string]models.Signal
}

// NewPipeline создает конвейер поверх общих риск-менеджера и журнала позиций.
// Базой для доходностей служит баланс на момент создания.
func NewPipeline(generator *classifier.Generator, rm *risk.Manager, ledger *position.Ledger, history int) *Pipeline {
	return &Pipeline{
		generator: generator,
		risk:      rm,
		ledger:    ledger,
		history:   history,
		base:      rm.Balance(),
		series:    make(map[string]*series),
		signals:   make(map[string]models.Signal),
	}
}

// WithExecutor подключает исполнителя
func (p *Pipeline) WithExecutor(executor Executor) *Pipeline {
	p.executor = executor
	return p
}

// WithJournal подключает журнал
func (p *Pipeline) WithJournal(journal Journal) *Pipeline {
	p.journal = journal
	return p
}

// Ledger журнал позиций конвейера
func (p *Pipeline) Ledger() *position.Ledger {
	return p.ledger
}

// Warmup заполняет историю цен без торговли
func (p *Pipeline) Warmup(symbol string, ticks []models.Tick) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.seriesFor(symbol)
	accepted := 0
	for _, tick := range ticks {
		if !validPrice(tick.Price) || !tick.Timestamp.After(s.last) {
			continue
		}
		s.last = tick.Timestamp
		s.prices = append(s.prices, tick.Price)
		accepted++
	}
	s.trim(p.history)
	return accepted
}

// Prices копия истории цен символа
func (p *Pipeline) Prices(symbol string) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[symbol]
	if !ok {
		return nil
	}
	return append([]float64(nil), s.prices...)
}

// Process обрабатывает тик с готовой оценкой прогноза
func (p *Pipeline) Process(ctx context.Context, tick models.Tick, score float64) (Outcome, error) {
	return p.process(ctx, tick, func([]float64) (float64, error) { return score, nil })
}

// Step обрабатывает тик, запрашивая оценку у предиктора по истории с текущей ценой
func (p *Pipeline) Step(ctx context.Context, tick models.Tick, predict func(ctx context.Context, symbol string, prices []float64) (float64, error)) (Outcome, error) {
	return p.process(ctx, tick, func(prices []float64) (float64, error) {
		return predict(ctx, tick.Symbol, prices)
	})
}

func (p *Pipeline) process(ctx context.Context, tick models.Tick, score func(prices []float64) (float64, error)) (Outcome, error) {
	if !validPrice(tick.Price) {
		return Outcome{}, fmt.Errorf("%w: %s цена %v", ErrInvalidTick, tick.Symbol, tick.Price)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.seriesFor(tick.Symbol)
	if !tick.Timestamp.After(s.last) {
		logger.Debug("Тик отброшен",
			zap.String("symbol", tick.Symbol),
			zap.Time("timestamp", tick.Timestamp),
			zap.Time("last", s.last))
		return Outcome{Skipped: true}, nil
	}

	var outcome Outcome

	// Сначала закрываем позиции, задетые текущей ценой
	for _, pos := range p.ledger.OpenFor(tick.Symbol) {
		shouldClose, reason := position.Evaluate(pos, tick.Price)
		if !shouldClose {
			continue
		}
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		closed, err := p.close(ctx, pos.ID, tick.Price, reason, tick.Timestamp)
		if err != nil {
			return outcome, err
		}
		outcome.Closed = append(outcome.Closed, closed)
	}

	s.last = tick.Timestamp
	s.prices = append(s.prices, tick.Price)
	s.trim(p.history)
	prices := s.prices

	signal, snapshot, err := p.signal(tick, prices, score)
	if err != nil {
		logger.Warn("Сигнал не сформирован, тик пропущен",
			zap.String("symbol", tick.Symbol),
			zap.Error(err))
	}
	outcome.Signal = signal
	outcome.Snapshot = snapshot
	p.signals[tick.Symbol] = signal
	p.saveSignal(ctx, signal)

	if signal.Kind == models.Hold {
		return outcome, nil
	}

	outcome.Decision = p.risk.ValidateTrade(signal, p.ledger.OpenCount())
	if outcome.Decision != risk.Accepted {
		return outcome, nil
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	opened, err := p.open(ctx, signal)
	if err != nil {
		logger.Warn("Позиция не открыта",
			zap.String("symbol", signal.Symbol),
			zap.Stringer("kind", signal.Kind),
			zap.Error(err))
		return outcome, nil
	}
	outcome.Opened = &opened
	return outcome, nil
}

func (p *Pipeline) signal(tick models.Tick, prices []float64, score func([]float64) (float64, error)) (models.Signal, models.IndicatorSnapshot, error) {
	hold := models.Signal{Symbol: tick.Symbol, Kind: models.Hold, Price: tick.Price, Timestamp: tick.Timestamp}

	value, err := score(prices)
	if err != nil {
		return hold, models.IndicatorSnapshot{}, fmt.Errorf("ошибка предиктора: %w", err)
	}

	signal, snapshot, err := p.generator.Generate(tick.Symbol, prices, value, tick.Timestamp)
	if err != nil {
		return hold, snapshot, err
	}
	return signal, snapshot, nil
}

func (p *Pipeline) open(ctx context.Context, signal models.Signal) (models.Position, error) {
	side, ok := models.SideFor(signal.Kind)
	if !ok {
		return models.Position{}, position.ErrNoSide
	}

	stopLoss := p.risk.StopLoss(signal.Price, side)
	takeProfit := p.risk.TakeProfit(signal.Price, side)
	size, err := p.risk.PositionSize(signal.Price, stopLoss)
	if err != nil {
		return models.Position{}, fmt.Errorf("ошибка расчета размера позиции: %w", err)
	}

	opened, err := p.ledger.Open(signal, stopLoss, takeProfit, size)
	if err != nil {
		return models.Position{}, err
	}

	p.execute(ctx, models.ActionOpen, opened, opened.EntryPrice, signal.Timestamp)
	return opened, nil
}

// ClosePosition закрывает позицию по внешнему запросу
func (p *Pipeline) ClosePosition(ctx context.Context, id int, price float64) (models.Position, error) {
	if !validPrice(price) {
		return models.Position{}, fmt.Errorf("%w: цена закрытия %v", ErrInvalidTick, price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.close(ctx, id, price, models.Manual, time.Now())
}

// close не прерывается отменой контекста после обновления баланса
func (p *Pipeline) close(ctx context.Context, id int, price float64, reason models.CloseReason, at time.Time) (models.Position, error) {
	closed, err := p.ledger.Close(id, price, reason, at)
	if err != nil {
		return models.Position{}, fmt.Errorf("ошибка закрытия позиции: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	p.execute(ctx, models.ActionClose, closed, price, at)
	if p.journal != nil {
		if err := p.journal.SaveTrade(ctx, closed); err != nil {
			logger.Warn("Не удалось сохранить сделку", zap.Int("id", closed.ID), zap.Error(err))
		}
	}
	return closed, nil
}

func (p *Pipeline) execute(ctx context.Context, action models.ExecutionAction, pos models.Position, price float64, at time.Time) {
	if p.executor == nil {
		return
	}
	req := models.ExecutionRequest{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Action:     action,
		Side:       pos.Side,
		Size:       pos.Size,
		Price:      price,
		Timestamp:  at,
	}
	if err := p.executor.Execute(ctx, req); err != nil {
		logger.Error("Ошибка исполнения",
			zap.String("request_id", req.ID),
			zap.Stringer("action", action),
			zap.Int("position", pos.ID),
			zap.Error(err))
	}
}

func (p *Pipeline) saveSignal(ctx context.Context, signal models.Signal) {
	if p.journal == nil {
		return
	}
	if err := p.journal.SaveSignal(ctx, signal); err != nil {
		logger.Warn("Не удалось сохранить сигнал", zap.String("symbol", signal.Symbol), zap.Error(err))
	}
}

// Snapshot текущее состояние для дашбордов
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	signals := make(map[string]models.Signal, len(p.signals))
	for k, v := range p.signals {
		signals[k] = v
	}
	p.mu.Unlock()

	history := p.ledger.History()
	recent := history
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}

	return Snapshot{
		Time:    time.Now(),
		Balance: p.risk.Balance(),
		Metrics: performance.Evaluate(p.ledger.Returns(p.base)),
		Open:    p.ledger.OpenPositions(),
		Signals: signals,
		Recent:  recent,
	}
}

func (p *Pipeline) seriesFor(symbol string) *series {
	s, ok := p.series[symbol]
	if !ok {
		s = &series{}
		p.series[symbol] = s
	}
	return s
}

func (s *series) trim(limit int) {
	if limit > 0 && len(s.prices) > limit {
		s.prices = append(s.prices[:0:0], s.prices[len(s.prices)-limit:]...)
	}
}

func validPrice(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}
