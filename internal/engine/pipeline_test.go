package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/aitrade/internal/analysis/classifier"
	"github.com/skalibog/aitrade/internal/analysis/technical"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/position"
	"github.com/skalibog/aitrade/internal/risk"
	"github.com/skalibog/aitrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1700000000, 0)

// rising восходящий тренд с откатами: на 61-й цене (140) RSI около 60, MACD около 4.5
func rising(n int) []float64 {
	steps := []float64{3, 3, -4}
	out := make([]float64, n)
	out[0] = 100
	for i := 1; i < n; i++ {
		out[i] = out[i-1] + steps[i%3]
	}
	return out
}

func ticks(symbol string, prices []float64) []models.Tick {
	out := make([]models.Tick, len(prices))
	for i, p := range prices {
		out[i] = models.Tick{Symbol: symbol, Timestamp: base.Add(time.Duration(i) * time.Minute), Price: p}
	}
	return out
}

func tickAt(symbol string, i int, price float64) models.Tick {
	return models.Tick{Symbol: symbol, Timestamp: base.Add(time.Duration(i) * time.Minute), Price: price}
}

type recordingExecutor struct {
	mu       sync.Mutex
	requests []models.ExecutionRequest
	err      error
}

func (e *recordingExecutor) Execute(_ context.Context, req models.ExecutionRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.err
}

func (e *recordingExecutor) Requests() []models.ExecutionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ExecutionRequest(nil), e.requests...)
}

type recordingJournal struct {
	mu      sync.Mutex
	signals []models.Signal
	trades  []models.Position
	metrics []models.PerformanceMetrics
}

func (j *recordingJournal) SaveSignal(_ context.Context, s models.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.signals = append(j.signals, s)
	return nil
}

func (j *recordingJournal) SaveTrade(_ context.Context, p models.Position) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, p)
	return nil
}

func (j *recordingJournal) SaveMetrics(_ context.Context, m models.PerformanceMetrics, _ float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.metrics = append(j.metrics, m)
	return nil
}

type brokenBalance struct{}

func (brokenBalance) ApplyPnL(float64) (float64, error) {
	return 0, errors.New("счет заблокирован")
}

func newPipeline(t *testing.T, mutate func(*config.Config)) (*Pipeline, *risk.Manager, *recordingExecutor) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	rm := risk.NewManager(cfg.Strategy, risk.NewAccount(cfg.Trading.InitialBalance))
	gen := classifier.NewGenerator(technical.NewEngine(cfg.Indicators), cfg.Signal)
	exec := &recordingExecutor{}
	p := NewPipeline(gen, rm, position.NewLedger(rm), cfg.Indicators.History).WithExecutor(exec)
	return p, rm, exec
}

// warm загружает первые 60 цен тренда, следующая цена 140 дает сигнал Buy
func warm(t *testing.T, p *Pipeline, symbol string) {
	t.Helper()
	require.Equal(t, 60, p.Warmup(symbol, ticks(symbol, rising(60))))
}

func TestPipelineOpensAndTakesProfit(t *testing.T) {
	t.Parallel()
	p, rm, exec := newPipeline(t, nil)
	journal := &recordingJournal{}
	p.WithJournal(journal)
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	out, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	assert.Equal(t, models.Buy, out.Signal.Kind)
	assert.Equal(t, risk.Accepted, out.Decision)
	require.NotNil(t, out.Opened)

	opened := *out.Opened
	assert.Equal(t, models.Long, opened.Side)
	assert.InDelta(t, 137.2, opened.StopLoss, 1e-9)
	assert.InDelta(t, 145.6, opened.TakeProfit, 1e-9)
	// 10% от баланса ограничивает размер: 1000 / 140
	assert.InDelta(t, 1000.0/140, opened.Size, 1e-9)

	out, err = p.Process(ctx, tickAt("BTCUSDT", 61, 147), 0)
	require.NoError(t, err)
	require.Len(t, out.Closed, 1)
	assert.Equal(t, models.TakeProfit, out.Closed[0].CloseReason)
	assert.Equal(t, models.Hold, out.Signal.Kind)
	assert.InDelta(t, 10050.0, rm.Balance(), 1e-6)

	reqs := exec.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, models.ActionOpen, reqs[0].Action)
	assert.Equal(t, models.ActionClose, reqs[1].Action)
	assert.Equal(t, opened.ID, reqs[1].PositionID)
	assert.Equal(t, 147.0, reqs[1].Price)
	assert.NotEqual(t, reqs[0].ID, reqs[1].ID)

	assert.Len(t, journal.signals, 2)
	require.Len(t, journal.trades, 1)
	assert.Equal(t, models.Closed, journal.trades[0].State)
}

func TestPipelineStopLoss(t *testing.T) {
	t.Parallel()
	p, rm, _ := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	out, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	out, err = p.Process(ctx, tickAt("BTCUSDT", 61, 137), 0)
	require.NoError(t, err)
	require.Len(t, out.Closed, 1)
	assert.Equal(t, models.StopLoss, out.Closed[0].CloseReason)
	assert.InDelta(t, 10000-3*1000.0/140, rm.Balance(), 1e-6)
	assert.Equal(t, 0, p.Ledger().OpenCount())
}

func TestPipelineRejections(t *testing.T) {
	t.Parallel()
	p, _, exec := newPipeline(t, func(c *config.Config) { c.Strategy.MaxOpenPositions = 1 })
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	out, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.55)
	require.NoError(t, err)
	assert.Equal(t, models.Buy, out.Signal.Kind)
	assert.Equal(t, risk.LowConfidence, out.Decision)
	assert.Nil(t, out.Opened)

	// следующая цена тренда, индикаторы остаются в зоне покупки
	out, err = p.Process(ctx, tickAt("BTCUSDT", 61, 143), 0.9)
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	out, err = p.Process(ctx, tickAt("BTCUSDT", 62, 143.5), 0.9)
	require.NoError(t, err)
	if out.Signal.Kind == models.Buy {
		assert.Equal(t, risk.MaxOpenPositions, out.Decision)
	}
	assert.Nil(t, out.Opened)
	assert.Len(t, exec.Requests(), 1)
}

func TestPipelineDropsStaleTicks(t *testing.T) {
	t.Parallel()
	p, _, _ := newPipeline(t, nil)
	ctx := context.Background()

	_, err := p.Process(ctx, tickAt("BTCUSDT", 5, 100), 0)
	require.NoError(t, err)

	out, err := p.Process(ctx, tickAt("BTCUSDT", 5, 101), 0)
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	out, err = p.Process(ctx, tickAt("BTCUSDT", 4, 101), 0)
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	assert.Equal(t, []float64{100}, p.Prices("BTCUSDT"))

	_, err = p.Process(ctx, tickAt("BTCUSDT", 6, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidTick)
}

func TestPipelineHoldsBeforeWarmup(t *testing.T) {
	t.Parallel()
	p, _, exec := newPipeline(t, nil)
	ctx := context.Background()

	for i, price := range []float64{100, 102, 101, 105, 103} {
		out, err := p.Process(ctx, tickAt("BTCUSDT", i, price), 0.9)
		require.NoError(t, err)
		assert.Equal(t, models.Hold, out.Signal.Kind)
	}
	assert.Empty(t, exec.Requests())
}

func TestPipelinePredictorFailureHolds(t *testing.T) {
	t.Parallel()
	p, _, exec := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")

	failing := func(context.Context, string, []float64) (float64, error) {
		return 0, errors.New("модель недоступна")
	}
	out, err := p.Step(context.Background(), tickAt("BTCUSDT", 60, 140), failing)
	require.NoError(t, err)
	assert.Equal(t, models.Hold, out.Signal.Kind)
	assert.Empty(t, exec.Requests())
	assert.Len(t, p.Prices("BTCUSDT"), 61)
}

func TestPipelineStepPassesHistory(t *testing.T) {
	t.Parallel()
	p, _, _ := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")

	var seen []float64
	predict := func(_ context.Context, _ string, prices []float64) (float64, error) {
		seen = append([]float64(nil), prices...)
		return 0.9, nil
	}
	out, err := p.Step(context.Background(), tickAt("BTCUSDT", 60, 140), predict)
	require.NoError(t, err)
	require.Len(t, seen, 61)
	assert.Equal(t, 140.0, seen[60])
	assert.NotNil(t, out.Opened)
}

func TestPipelineCloseFailureSurfaces(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	rm := risk.NewManager(cfg.Strategy, risk.NewAccount(10000))
	gen := classifier.NewGenerator(technical.NewEngine(cfg.Indicators), cfg.Signal)
	p := NewPipeline(gen, rm, position.NewLedger(brokenBalance{}), cfg.Indicators.History)
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	out, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	_, err = p.Process(ctx, tickAt("BTCUSDT", 61, 150), 0)
	require.Error(t, err)
	assert.Equal(t, 1, p.Ledger().OpenCount())
	assert.Equal(t, 10000.0, rm.Balance())
}

func TestPipelineCancelledBeforeClose(t *testing.T) {
	t.Parallel()
	p, rm, _ := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")

	out, err := p.Process(context.Background(), tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, tickAt("BTCUSDT", 61, 150), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Ledger().OpenCount())
	assert.Equal(t, 10000.0, rm.Balance())
}

func TestPipelineClosePosition(t *testing.T) {
	t.Parallel()
	p, rm, exec := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	out, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	require.NotNil(t, out.Opened)

	closed, err := p.ClosePosition(ctx, out.Opened.ID, 141)
	require.NoError(t, err)
	assert.Equal(t, models.Manual, closed.CloseReason)
	assert.InDelta(t, 10000+1000.0/140, rm.Balance(), 1e-6)
	assert.Len(t, exec.Requests(), 2)

	_, err = p.ClosePosition(ctx, out.Opened.ID, 141)
	assert.ErrorIs(t, err, position.ErrPositionNotOpen)
}

func TestPipelineExecutorFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	p, _, exec := newPipeline(t, nil)
	exec.err = errors.New("биржа недоступна")
	warm(t, p, "BTCUSDT")

	out, err := p.Process(context.Background(), tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	assert.NotNil(t, out.Opened)
	assert.Len(t, exec.Requests(), 1)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	p, _, _ := newPipeline(t, nil)
	warm(t, p, "BTCUSDT")
	ctx := context.Background()

	_, err := p.Process(ctx, tickAt("BTCUSDT", 60, 140), 0.9)
	require.NoError(t, err)
	_, err = p.Process(ctx, tickAt("BTCUSDT", 61, 147), 0)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.InDelta(t, 10050.0, snap.Balance, 1e-6)
	assert.Empty(t, snap.Open)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, 1, snap.Metrics.TotalTrades)
	assert.InDelta(t, 0.005, snap.Metrics.AverageReturn, 1e-9)
	assert.Equal(t, models.Hold, snap.Signals["BTCUSDT"].Kind)
}
