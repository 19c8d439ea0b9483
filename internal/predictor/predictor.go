package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/aitrade/internal/config"
)

var (
	// ErrNotEnoughData ряд короче периода предиктора
	ErrNotEnoughData = errors.New("недостаточно данных для прогноза")
	// ErrExhausted записанный ряд оценок закончился
	ErrExhausted = errors.New("ряд оценок исчерпан")
)

// Predictor источник оценки прогноза. Важны только знак и модуль оценки.
type Predictor interface {
	Predict(ctx context.Context, symbol string, prices []float64) (float64, error)
}

// Momentum базовый предиктор по скорости изменения цены.
// Оценка равна tanh(ROC * scale), где ROC в процентах.
type Momentum struct {
	period int
	scale  float64
}

// NewMomentum создает предиктор по скорости изменения цены
func NewMomentum(cfg config.PredictorConfig) *Momentum {
	m := &Momentum{period: cfg.Period, scale: cfg.Scale}
	if m.period < 1 {
		m.period = 10
	}
	if m.scale == 0 {
		m.scale = 1
	}
	return m
}

// Predict оценка по последней цене ряда
func (m *Momentum) Predict(ctx context.Context, symbol string, prices []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(prices) <= m.period {
		return 0, fmt.Errorf("%w: %s %d цен при периоде %d", ErrNotEnoughData, symbol, len(prices), m.period)
	}

	roc := talib.Roc(prices, m.period)
	last := roc[len(roc)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return 0, fmt.Errorf("некорректная скорость изменения цены для %s", symbol)
	}
	return math.Tanh(last * m.scale), nil
}

// Series отдает заранее записанные оценки по порядку вызовов для каждого символа
type Series struct {
	mu     sync.Mutex
	scores map[string][]float64
	next   map[string]int
}

// NewSeries создает предиктор из записанных оценок
func NewSeries(scores map[string][]float64) *Series {
	return &Series{
		scores: scores,
		next:   make(map[string]int),
	}
}

// Predict следующая записанная оценка символа
func (s *Series) Predict(_ context.Context, symbol string, _ []float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.next[symbol]
	if i >= len(s.scores[symbol]) {
		return 0, fmt.Errorf("%w: %s", ErrExhausted, symbol)
	}
	s.next[symbol] = i + 1
	return s.scores[symbol][i], nil
}
