package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// Reason код решения по сделке
type Reason int

const (
	Accepted Reason = iota
	LowConfidence
	MaxOpenPositions
	InsufficientMargin
)

func (r Reason) String() string {
	switch r {
	case LowConfidence:
		return "LowConfidence"
	case MaxOpenPositions:
		return "MaxOpenPositions"
	case InsufficientMargin:
		return "InsufficientMargin"
	default:
		return "Accepted"
	}
}

var (
	// ErrZeroStopDistance цена входа совпадает со стоп-лоссом
	ErrZeroStopDistance = errors.New("цена входа равна стоп-лоссу")
	// ErrInvalidPrice цена не положительна или не число
	ErrInvalidPrice = errors.New("некорректная цена")
	// ErrInvalidBalance баланс не является конечным числом
	ErrInvalidBalance = errors.New("некорректный баланс")
)

// Manager проверяет сделки по лимитам риска и владеет балансом счета
type Manager struct {
	config  config.StrategyConfig
	account *Account
}

// NewManager создает риск-менеджер поверх счета
func NewManager(cfg config.StrategyConfig, account *Account) *Manager {
	return &Manager{
		config:  cfg,
		account: account,
	}
}

// Config лимиты риска
func (m *Manager) Config() config.StrategyConfig {
	return m.config
}

// Balance доступный баланс
func (m *Manager) Balance() float64 {
	return m.account.Balance()
}

// StopLoss уровень стоп-лосса для цены входа
func (m *Manager) StopLoss(entryPrice float64, side models.Side) float64 {
	distance := entryPrice * m.config.StopLossPct / 100
	if side == models.Short {
		return entryPrice + distance
	}
	return entryPrice - distance
}

// TakeProfit уровень тейк-профита для цены входа
func (m *Manager) TakeProfit(entryPrice float64, side models.Side) float64 {
	distance := entryPrice * m.config.TakeProfitPct / 100
	if side == models.Short {
		return entryPrice - distance
	}
	return entryPrice + distance
}

// PositionSize размер позиции по риску на сделку, ограниченный максимальной долей счета
func (m *Manager) PositionSize(entryPrice, stopLossPrice float64) (float64, error) {
	if !isFinite(entryPrice) || entryPrice <= 0 || !isFinite(stopLossPrice) {
		return 0, fmt.Errorf("%w: вход %v, стоп %v", ErrInvalidPrice, entryPrice, stopLossPrice)
	}
	distance := math.Abs(entryPrice - stopLossPrice)
	if distance == 0 {
		return 0, ErrZeroStopDistance
	}

	balance := m.account.Balance()
	riskAmount := balance * m.config.RiskPerTradePct / 100
	size := riskAmount / distance

	maxSize := balance * m.config.MaxPositionSizePct / 100 / entryPrice
	return math.Min(size, maxSize), nil
}

// ValidateTrade проверяет сигнал по правилам в фиксированном порядке, первое нарушенное побеждает
func (m *Manager) ValidateTrade(signal models.Signal, openPositions int) Reason {
	if signal.Confidence < m.config.MinConfidence {
		logger.Info("Сделка отклонена: низкая уверенность",
			zap.String("symbol", signal.Symbol),
			zap.Float64("confidence", signal.Confidence),
			zap.Float64("min_confidence", m.config.MinConfidence))
		return LowConfidence
	}

	if openPositions >= m.config.MaxOpenPositions {
		logger.Info("Сделка отклонена: достигнут лимит открытых позиций",
			zap.String("symbol", signal.Symbol),
			zap.Int("open", openPositions))
		return MaxOpenPositions
	}

	requiredMargin := signal.Price * m.config.MaxPositionSizePct / 100
	if balance := m.account.Balance(); balance < requiredMargin {
		logger.Info("Сделка отклонена: недостаточно средств",
			zap.String("symbol", signal.Symbol),
			zap.Float64("balance", balance),
			zap.Float64("required_margin", requiredMargin))
		return InsufficientMargin
	}

	return Accepted
}

// UpdateBalance устанавливает баланс счета
func (m *Manager) UpdateBalance(newBalance float64) error {
	if !isFinite(newBalance) {
		return fmt.Errorf("%w: %v", ErrInvalidBalance, newBalance)
	}
	_, err := m.commit(func(decimal.Decimal) decimal.Decimal {
		return decimal.NewFromFloat(newBalance)
	}, zap.Float64("balance", newBalance))
	return err
}

// ApplyPnL атомарно прибавляет результат сделки к балансу и возвращает новый баланс
func (m *Manager) ApplyPnL(pnl float64) (float64, error) {
	if !isFinite(pnl) {
		return 0, fmt.Errorf("%w: pnl %v", ErrInvalidBalance, pnl)
	}
	return m.commit(func(current decimal.Decimal) decimal.Decimal {
		return current.Add(decimal.NewFromFloat(pnl))
	}, zap.Float64("pnl", pnl))
}

// commit единственная точка записи баланса: чтение-изменение-запись под блокировкой счета
func (m *Manager) commit(next func(current decimal.Decimal) decimal.Decimal, fields ...zap.Field) (float64, error) {
	updated, err := m.account.update(func(current decimal.Decimal) (decimal.Decimal, error) {
		return next(current), nil
	})
	if err != nil {
		return 0, err
	}
	balance := updated.InexactFloat64()
	logger.Info("Баланс счета обновлен", append(fields, zap.Float64("new_balance", balance))...)
	return balance, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
