package position

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrNoSide сигнал Hold не открывает позицию
	ErrNoSide = errors.New("сигнал не задает направление позиции")
	// ErrInvalidLevels уровни стоп-лосса и тейк-профита не охватывают цену входа
	ErrInvalidLevels = errors.New("некорректные уровни стоп-лосса/тейк-профита")
	// ErrInvalidSize размер позиции не положителен
	ErrInvalidSize = errors.New("некорректный размер позиции")
	// ErrUnknownPosition позиции с таким ID нет
	ErrUnknownPosition = errors.New("позиция не найдена")
	// ErrPositionNotOpen позиция уже закрыта
	ErrPositionNotOpen = errors.New("позиция уже закрыта")
)

// BalanceUpdater применяет реализованный результат к балансу счета
type BalanceUpdater interface {
	ApplyPnL(pnl float64) (float64, error)
}

// Ledger хранит открытые позиции и историю закрытых сделок.
// Позиции лежат в массиве по ID, закрытые никогда не изменяются.
type Ledger struct {
	mu        sync.RWMutex
	balance   BalanceUpdater
	positions []models.Position
	open      map[int]struct{}
	history   []int
}

// NewLedger создает пустой журнал позиций
func NewLedger(balance BalanceUpdater) *Ledger {
	return &Ledger{
		balance: balance,
		open:    make(map[int]struct{}),
	}
}

// Open открывает позицию по принятому сигналу
func (l *Ledger) Open(signal models.Signal, stopLoss, takeProfit, size float64) (models.Position, error) {
	side, ok := models.SideFor(signal.Kind)
	if !ok {
		return models.Position{}, ErrNoSide
	}
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return models.Position{}, fmt.Errorf("%w: %v", ErrInvalidSize, size)
	}
	if !levelsValid(side, signal.Price, stopLoss, takeProfit) {
		return models.Position{}, fmt.Errorf("%w: %s вход %v стоп %v тейк %v",
			ErrInvalidLevels, side, signal.Price, stopLoss, takeProfit)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := models.Position{
		ID:         len(l.positions),
		Symbol:     signal.Symbol,
		Side:       side,
		EntryPrice: signal.Price,
		Size:       size,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   signal.Timestamp,
		State:      models.Open,
	}
	l.positions = append(l.positions, p)
	l.open[p.ID] = struct{}{}

	logger.Info("Позиция открыта",
		zap.Int("id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.Stringer("side", p.Side),
		zap.Float64("entry", p.EntryPrice),
		zap.Float64("size", p.Size),
		zap.Float64("stop_loss", p.StopLoss),
		zap.Float64("take_profit", p.TakeProfit))

	return p, nil
}

// Evaluate решает, нужно ли закрыть позицию по текущей цене.
// Обе границы включительны; при одновременном срабатывании побеждает стоп-лосс.
func Evaluate(p models.Position, price float64) (bool, models.CloseReason) {
	if p.State != models.Open {
		return false, models.NotClosed
	}

	switch p.Side {
	case models.Long:
		if price <= p.StopLoss {
			return true, models.StopLoss
		}
		if price >= p.TakeProfit {
			return true, models.TakeProfit
		}
	case models.Short:
		if price >= p.StopLoss {
			return true, models.StopLoss
		}
		if price <= p.TakeProfit {
			return true, models.TakeProfit
		}
	}
	return false, models.NotClosed
}

// PnL реализованный результат позиции при цене выхода
func PnL(p models.Position, exitPrice float64) float64 {
	pnl := (exitPrice - p.EntryPrice) * p.Size
	if p.Side == models.Short {
		return -pnl
	}
	return pnl
}

// Close закрывает позицию, переносит ее в историю и обновляет баланс.
// Если баланс обновить не удалось, позиция остается открытой.
func (l *Ledger) Close(id int, exitPrice float64, reason models.CloseReason, at time.Time) (models.Position, error) {
	if math.IsNaN(exitPrice) || math.IsInf(exitPrice, 0) || exitPrice <= 0 {
		return models.Position{}, fmt.Errorf("некорректная цена выхода %v", exitPrice)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.positions) {
		return models.Position{}, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	if _, ok := l.open[id]; !ok {
		return models.Position{}, fmt.Errorf("%w: %d", ErrPositionNotOpen, id)
	}

	p := l.positions[id]
	pnl := PnL(p, exitPrice)

	balance, err := l.balance.ApplyPnL(pnl)
	if err != nil {
		return models.Position{}, fmt.Errorf("ошибка обновления баланса при закрытии позиции %d: %w", id, err)
	}

	p.State = models.Closed
	p.ExitPrice = exitPrice
	p.RealizedPnL = pnl
	p.ClosedAt = at
	p.CloseReason = reason
	l.positions[id] = p
	delete(l.open, id)
	l.history = append(l.history, id)

	logger.Info("Позиция закрыта",
		zap.Int("id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.Stringer("reason", reason),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("balance", balance))

	return p, nil
}

// Get возвращает позицию по ID
func (l *Ledger) Get(id int) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 0 || id >= len(l.positions) {
		return models.Position{}, false
	}
	return l.positions[id], true
}

// OpenCount число открытых позиций
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// OpenPositions копия открытых позиций в порядке открытия
func (l *Ledger) OpenPositions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]models.Position, 0, len(l.open))
	for _, p := range l.positions {
		if _, ok := l.open[p.ID]; ok {
			result = append(result, p)
		}
	}
	return result
}

// OpenFor копия открытых позиций символа
func (l *Ledger) OpenFor(symbol string) []models.Position {
	var result []models.Position
	for _, p := range l.OpenPositions() {
		if p.Symbol == symbol {
			result = append(result, p)
		}
	}
	return result
}

// History закрытые сделки в порядке закрытия
func (l *Ledger) History() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]models.Position, len(l.history))
	for i, id := range l.history {
		result[i] = l.positions[id]
	}
	return result
}

// Returns доходности закрытых сделок в долях базового капитала
func (l *Ledger) Returns(base float64) []float64 {
	history := l.History()
	returns := make([]float64, len(history))
	if base <= 0 {
		return returns
	}
	for i, p := range history {
		returns[i] = p.RealizedPnL / base
	}
	return returns
}

func levelsValid(side models.Side, entry, stopLoss, takeProfit float64) bool {
	if side == models.Short {
		return takeProfit < entry && entry < stopLoss
	}
	return stopLoss < entry && entry < takeProfit
}
