package performance

import (
	"math"

	"github.com/skalibog/aitrade/pkg/models"
)

// TradingDaysPerYear константа годовой нормировки коэффициента Шарпа
const TradingDaysPerYear = 252

// Evaluate считает метрики по последовательности доходностей сделок.
// Доходности передаются в долях начального капитала.
func Evaluate(returns []float64) models.PerformanceMetrics {
	var wins, losses int
	for _, r := range returns {
		switch {
		case r > 0:
			wins++
		case r < 0:
			losses++
		}
	}

	profitFactor, defined := ProfitFactor(returns)

	return models.PerformanceMetrics{
		TotalTrades:           len(returns),
		WinningTrades:         wins,
		LosingTrades:          losses,
		WinRate:               WinRate(returns),
		AverageReturn:         mean(returns),
		SharpeRatio:           SharpeRatio(returns),
		MaxDrawdown:           MaxDrawdown(returns),
		ProfitFactor:          profitFactor,
		ProfitFactorUndefined: !defined,
	}
}

// WinRate доля прибыльных сделок, 0 для пустой истории
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var wins int
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

const zeroStdDevTolerance = 1e-12

// SharpeRatio годовой коэффициент Шарпа по дневным доходностям.
// 0 при n < 2 или нулевом стандартном отклонении.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	avg := mean(returns)
	std := populationStdDev(returns)
	// остаток округления у одинаковых доходностей считается нулевым отклонением
	if math.IsNaN(std) || std <= zeroStdDevTolerance*math.Max(1, math.Abs(avg)) {
		return 0
	}
	return avg / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown максимальная просадка кривой капитала, построенной накопленной суммой доходностей от нуля
func MaxDrawdown(returns []float64) float64 {
	var equity, peak, maxDrawdown float64
	for _, r := range returns {
		equity += r
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// ProfitFactor отношение суммы прибылей к модулю суммы убытков.
// false, если убытков нет и коэффициент не определен.
func ProfitFactor(returns []float64) (float64, bool) {
	var profits, losses float64
	for _, r := range returns {
		if r > 0 {
			profits += r
		} else if r < 0 {
			losses += r
		}
	}
	if losses == 0 {
		return 0, false
	}
	return profits / math.Abs(losses), true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64) float64 {
	avg := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - avg) * (v - avg)
	}
	return math.Sqrt(sum / float64(len(values)))
}
