package technical

import (
	"github.com/markcheno/go-talib"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/models"
)

// Engine рассчитывает снимки индикаторов по ценовому ряду
type Engine struct {
	config config.IndicatorConfig
}

// NewEngine создает движок технических индикаторов
func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{
		config: cfg,
	}
}

// Warmup минимальная длина ряда для готового снимка
func (e *Engine) Warmup() int {
	return e.config.WarmupLength()
}

// Snapshots возвращает снимки для всех индексов, где RSI и сигнальная линия MACD готовы
func (e *Engine) Snapshots(prices []float64) []models.IndicatorSnapshot {
	rsi := RSI(prices, e.config.RSIPeriod)
	macd := MACD(prices, e.config.MACDFast, e.config.MACDSlow, e.config.MACDSignal)
	if len(rsi) == 0 || len(macd.MACD) == 0 {
		return []models.IndicatorSnapshot{}
	}

	start := e.firstReadyIndex()
	if start >= len(prices) {
		return []models.IndicatorSnapshot{}
	}

	snapshots := make([]models.IndicatorSnapshot, 0, len(prices)-start)
	for i := start; i < len(prices); i++ {
		snapshots = append(snapshots, snapshotAt(i, rsi, e.config.RSIPeriod, macd))
	}
	return snapshots
}

// Latest возвращает снимок на последней цене вместе с дополнительными индикаторами.
// false означает, что индикаторы еще не готовы.
func (e *Engine) Latest(prices []float64) (models.IndicatorSnapshot, bool) {
	last := len(prices) - 1
	if last < e.firstReadyIndex() {
		return models.IndicatorSnapshot{}, false
	}

	rsi := RSI(prices, e.config.RSIPeriod)
	macd := MACD(prices, e.config.MACDFast, e.config.MACDSlow, e.config.MACDSignal)
	if len(rsi) == 0 || len(macd.MACD) == 0 {
		return models.IndicatorSnapshot{}, false
	}

	snapshot := snapshotAt(last, rsi, e.config.RSIPeriod, macd)
	snapshot.Extras = e.Extras(prices)
	return snapshot, true
}

// Extras рассчитывает полосы Боллинджера, моментум и скорость изменения цены.
// nil, если ряд короче нужного периода.
func (e *Engine) Extras(prices []float64) *models.Extras {
	if e.config.BBPeriod < 2 || e.config.MomentumPeriod < 1 {
		return nil
	}
	if len(prices) <= e.config.BBPeriod || len(prices) <= e.config.MomentumPeriod {
		return nil
	}

	deviation := e.config.BBDeviation
	if deviation <= 0 {
		deviation = 2
	}

	upper, middle, lower := talib.BBands(prices, e.config.BBPeriod, deviation, deviation, talib.SMA)
	momentum := talib.Mom(prices, e.config.MomentumPeriod)
	roc := talib.Roc(prices, e.config.MomentumPeriod)

	last := len(prices) - 1
	return &models.Extras{
		BBUpper:      upper[last],
		BBMiddle:     middle[last],
		BBLower:      lower[last],
		Momentum:     momentum[last],
		RateOfChange: roc[last],
	}
}

func (e *Engine) firstReadyIndex() int {
	start := SignalReadyIndex(e.config.MACDSlow, e.config.MACDSignal)
	if e.config.RSIPeriod > start {
		start = e.config.RSIPeriod
	}
	return start
}

func snapshotAt(i int, rsi []float64, rsiPeriod int, macd MACDResult) models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		Index:         i,
		RSI:           rsi[i-rsiPeriod],
		MACD:          macd.MACD[i],
		MACDSignal:    macd.Signal[i],
		MACDHistogram: macd.Histogram[i],
	}
}
