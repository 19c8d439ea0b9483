package technical

// RSI рассчитывает индекс относительной силы со сглаживанием Уайлдера.
// Результат содержит len(prices)-period значений: элемент j относится к цене j+period.
// Ряд короче периода прогрева дает пустой результат.
func RSI(prices []float64, period int) []float64 {
	if period < 1 || len(prices) <= period {
		return []float64{}
	}

	// Начальные средние по первым period изменениям
	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	n := float64(period)
	avgGain := gain / n
	avgLoss := loss / n

	result := make([]float64, 0, len(prices)-period)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		var g, l float64
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*(n-1) + g) / n
		avgLoss = (avgLoss*(n-1) + l) / n
		result = append(result, rsiValue(avgGain, avgLoss))
	}

	return result
}

// rsiValue без убытков в окне RSI равен 100
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// EMA экспоненциальная скользящая средняя, начальное значение равно первому наблюдению
func EMA(series []float64, period int) []float64 {
	if period < 1 || len(series) == 0 {
		return []float64{}
	}

	k := 2 / (float64(period) + 1)
	result := make([]float64, len(series))
	result[0] = series[0]
	for i := 1; i < len(series); i++ {
		result[i] = (series[i]-result[i-1])*k + result[i-1]
	}
	return result
}

// MACDResult три ряда MACD, выровненные по индексу входных цен
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD рассчитывает линию MACD, сигнальную линию и гистограмму.
// Ряд короче медленного периода дает пустой результат.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if fast < 1 || signal < 1 || slow <= fast || len(prices) < slow {
		return MACDResult{MACD: []float64{}, Signal: []float64{}, Histogram: []float64{}}
	}

	fastEMA := EMA(prices, fast)
	slowEMA := EMA(prices, slow)

	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	signalLine := EMA(macd, signal)
	histogram := make([]float64, len(prices))
	for i := range macd {
		histogram[i] = macd[i] - signalLine[i]
	}

	return MACDResult{MACD: macd, Signal: signalLine, Histogram: histogram}
}

// MACDReadyIndex первый индекс, с которого линия MACD считается готовой
func MACDReadyIndex(slow int) int {
	return slow - 1
}

// SignalReadyIndex первый индекс, с которого готова сигнальная линия MACD
func SignalReadyIndex(slow, signal int) int {
	return slow + signal - 2
}
