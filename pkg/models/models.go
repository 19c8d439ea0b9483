package models

import (
	"time"
)

// Tick представляет одно рыночное наблюдение
type Tick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}

// SignalKind тип торгового сигнала
type SignalKind int

const (
	Hold SignalKind = iota
	Buy
	Sell
)

func (k SignalKind) String() string {
	switch k {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Side направление позиции
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "SHORT"
	}
	return "LONG"
}

// SideFor возвращает направление позиции для сигнала; для Hold позиции нет
func SideFor(kind SignalKind) (Side, bool) {
	switch kind {
	case Buy:
		return Long, true
	case Sell:
		return Short, true
	default:
		return Long, false
	}
}

// IndicatorSnapshot значения индикаторов на индексе ценового ряда
type IndicatorSnapshot struct {
	Index         int     `json:"index"`
	RSI           float64 `json:"rsi"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	Extras        *Extras `json:"extras,omitempty"`
}

// Extras дополнительные индикаторы, не участвующие в классификации
type Extras struct {
	BBUpper      float64 `json:"bb_upper"`
	BBMiddle     float64 `json:"bb_middle"`
	BBLower      float64 `json:"bb_lower"`
	Momentum     float64 `json:"momentum"`
	RateOfChange float64 `json:"rate_of_change"`
}

// Signal представляет классифицированный торговый сигнал
type Signal struct {
	Symbol     string     `json:"symbol"`
	Kind       SignalKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	Price      float64    `json:"price"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PositionState состояние позиции
type PositionState int

const (
	Open PositionState = iota
	Closed
)

func (s PositionState) String() string {
	if s == Closed {
		return "CLOSED"
	}
	return "OPEN"
}

// CloseReason причина закрытия позиции
type CloseReason int

const (
	NotClosed CloseReason = iota
	StopLoss
	TakeProfit
	Manual
)

func (r CloseReason) String() string {
	switch r {
	case StopLoss:
		return "stop_loss"
	case TakeProfit:
		return "take_profit"
	case Manual:
		return "manual"
	default:
		return "none"
	}
}

// Position представляет позицию. Размер и уровни фиксируются при открытии.
type Position struct {
	ID          int           `json:"id"`
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	EntryPrice  float64       `json:"entry_price"`
	Size        float64       `json:"size"`
	StopLoss    float64       `json:"stop_loss"`
	TakeProfit  float64       `json:"take_profit"`
	OpenedAt    time.Time     `json:"opened_at"`
	State       PositionState `json:"state"`
	ExitPrice   float64       `json:"exit_price,omitempty"`
	RealizedPnL float64       `json:"realized_pnl,omitempty"`
	ClosedAt    time.Time     `json:"closed_at,omitempty"`
	CloseReason CloseReason   `json:"close_reason,omitempty"`
}

// ExecutionAction тип запроса на исполнение
type ExecutionAction int

const (
	ActionOpen ExecutionAction = iota
	ActionClose
)

func (a ExecutionAction) String() string {
	if a == ActionClose {
		return "CLOSE"
	}
	return "OPEN"
}

// ExecutionRequest запрос к внешнему исполнителю
type ExecutionRequest struct {
	ID         string          `json:"id"`
	PositionID int             `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Action     ExecutionAction `json:"action"`
	Side       Side            `json:"side"`
	Size       float64         `json:"size"`
	Price      float64         `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PerformanceMetrics агрегированные метрики по закрытым сделкам.
// Доходности выражены в долях начального капитала.
type PerformanceMetrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	AverageReturn float64 `json:"average_return"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	ProfitFactor  float64 `json:"profit_factor"`
	// ProfitFactorUndefined выставляется, когда убыточных сделок нет
	ProfitFactorUndefined bool `json:"profit_factor_undefined"`
}

// BacktestTrade запись о сделке бэктеста
type BacktestTrade struct {
	Index     int        `json:"index"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      SignalKind `json:"kind"`
	Price     float64    `json:"price"`
	Returns   float64    `json:"returns"`
}

// BacktestResult результат одного прогона бэктеста
type BacktestResult struct {
	TotalReturns float64            `json:"total_returns"`
	SharpeRatio  float64            `json:"sharpe_ratio"`
	MaxDrawdown  float64            `json:"max_drawdown"`
	WinRate      float64            `json:"win_rate"`
	FinalCapital float64            `json:"final_capital"`
	Metrics      PerformanceMetrics `json:"metrics"`
	Trades       []BacktestTrade    `json:"trades"`
}
