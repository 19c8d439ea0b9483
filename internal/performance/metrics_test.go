package performance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateEmpty(t *testing.T) {
	t.Parallel()
	m := Evaluate(nil)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.AverageReturn)
	assert.True(t, m.ProfitFactorUndefined)
	assert.False(t, math.IsNaN(m.ProfitFactor))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	returns := []float64{0.02, -0.01, 0.03, -0.02, 0.01}
	m := Evaluate(returns)

	assert.Equal(t, 5, m.TotalTrades)
	assert.Equal(t, 3, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.InDelta(t, 0.6, m.WinRate, 1e-12)
	assert.InDelta(t, 0.006, m.AverageReturn, 1e-12)
	assert.InDelta(t, 2.0, m.ProfitFactor, 1e-12)
	assert.False(t, m.ProfitFactorUndefined)
	// кривая 0.02, 0.01, 0.04, 0.02, 0.03: худшее падение с 0.04 до 0.02
	assert.InDelta(t, 0.02, m.MaxDrawdown, 1e-12)

	std := math.Sqrt((0.014*0.014 + 0.016*0.016 + 0.024*0.024 + 0.026*0.026 + 0.004*0.004) / 5)
	assert.InDelta(t, 0.006/std*math.Sqrt(252), m.SharpeRatio, 1e-9)
}

func TestSharpeDegenerate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.5}))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}))
	// дает ненулевое отклонение порядка 1e-17 из-за округления
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.1, 0.1, 0.1}))
	assert.Equal(t, 0.0, SharpeRatio([]float64{-0.3, -0.3, -0.3, -0.3}))
	assert.Equal(t, 0.0, Evaluate([]float64{0.1, 0.1, 0.1}).SharpeRatio)

	assert.Greater(t, SharpeRatio([]float64{0.1, 0.1, 0.1 + 1e-6}), 0.0)
}

func TestMaxDrawdownUsesEquityCurve(t *testing.T) {
	t.Parallel()
	// на сырых доходностях "пик минус текущая" дал бы 0.05, по кривой капитала просадка 0.06
	assert.InDelta(t, 0.06, MaxDrawdown([]float64{0.05, -0.03, -0.03, 0.10}), 1e-12)
	// убыток первой сделки считается от нулевого капитала
	assert.InDelta(t, 0.02, MaxDrawdown([]float64{-0.02}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{0.01, 0.02}))
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	t.Parallel()
	pf, ok := ProfitFactor([]float64{0.01, 0.02, 0})
	assert.False(t, ok)
	assert.Equal(t, 0.0, pf)
}

func TestMetricInvariants(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(99))
	for i := 0; i < 200; i++ {
		n := r.Intn(50) + 1
		returns := make([]float64, n)
		for j := range returns {
			returns[j] = r.NormFloat64() * 0.02
		}
		m := Evaluate(returns)
		assert.GreaterOrEqual(t, m.WinRate, 0.0)
		assert.LessOrEqual(t, m.WinRate, 1.0)
		assert.GreaterOrEqual(t, m.MaxDrawdown, 0.0)
		assert.False(t, math.IsNaN(m.SharpeRatio) || math.IsInf(m.SharpeRatio, 0))
		assert.False(t, math.IsNaN(m.ProfitFactor) || math.IsInf(m.ProfitFactor, 0))
	}
}
