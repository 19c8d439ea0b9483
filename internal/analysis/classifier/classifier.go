package classifier

import (
	"fmt"
	"math"
	"time"

	"github.com/skalibog/aitrade/internal/analysis/technical"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// Пороги RSI по умолчанию
const (
	DefaultOverbought = 70.0
	DefaultOversold   = 30.0
)

// Classify объединяет оценку прогноза и индикаторы в сигнал с порогами по умолчанию
func Classify(score, rsi, macd, price float64, ts time.Time) models.Signal {
	return classify(score, rsi, macd, price, ts, DefaultOverbought, DefaultOversold)
}

func classify(score, rsi, macd, price float64, ts time.Time, overbought, oversold float64) models.Signal {
	kind := models.Hold
	switch {
	case score > 0 && rsi < overbought && macd > 0:
		kind = models.Buy
	case score < 0 && rsi > oversold && macd < 0:
		kind = models.Sell
	}

	return models.Signal{
		Kind:       kind,
		Confidence: Confidence(score),
		Price:      price,
		Timestamp:  ts,
	}
}

// Confidence модуль оценки, ограниченный сверху единицей
func Confidence(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(math.Abs(score), 1)
}

// Generator строит сигналы по истории цен. Собственного состояния не хранит.
type Generator struct {
	indicators *technical.Engine
	overbought float64
	oversold   float64
}

// NewGenerator создает генератор сигналов
func NewGenerator(indicators *technical.Engine, cfg config.SignalConfig) *Generator {
	g := &Generator{
		indicators: indicators,
		overbought: cfg.Overbought,
		oversold:   cfg.Oversold,
	}
	if g.overbought == 0 && g.oversold == 0 {
		g.overbought, g.oversold = DefaultOverbought, DefaultOversold
	}
	return g
}

// Generate классифицирует последнюю цену ряда. Пока индикаторы не готовы, сигнал Hold.
func (g *Generator) Generate(symbol string, prices []float64, score float64, ts time.Time) (models.Signal, models.IndicatorSnapshot, error) {
	if len(prices) == 0 {
		return models.Signal{}, models.IndicatorSnapshot{}, fmt.Errorf("пустой ряд цен для %s", symbol)
	}
	price := prices[len(prices)-1]

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return hold(symbol, price, 0, ts), models.IndicatorSnapshot{}, fmt.Errorf("некорректная оценка прогноза для %s: %v", symbol, score)
	}

	snapshot, ok := g.indicators.Latest(prices)
	if !ok {
		logger.Debug("Индикаторы не готовы",
			zap.String("symbol", symbol),
			zap.Int("цен", len(prices)),
			zap.Int("требуется", g.indicators.Warmup()))
		return hold(symbol, price, score, ts), snapshot, nil
	}

	signal := classify(score, snapshot.RSI, snapshot.MACD, price, ts, g.overbought, g.oversold)
	signal.Symbol = symbol
	return signal, snapshot, nil
}

func hold(symbol string, price, score float64, ts time.Time) models.Signal {
	return models.Signal{Symbol: symbol, Kind: models.Hold, Confidence: Confidence(score), Price: price, Timestamp: ts}
}
