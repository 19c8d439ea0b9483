package position

import (
	"errors"
	"testing"
	"time"

	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/risk"
	"github.com/skalibog/aitrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBalance struct{ calls int }

func (f *failingBalance) ApplyPnL(float64) (float64, error) {
	f.calls++
	return 0, errors.New("счет недоступен")
}

func newRisk(balance float64) *risk.Manager {
	return risk.NewManager(config.Default().Strategy, risk.NewAccount(balance))
}

func buy(price float64) models.Signal {
	return models.Signal{Symbol: "BTCUSDT", Kind: models.Buy, Confidence: 0.9, Price: price, Timestamp: time.Unix(1700000000, 0)}
}

func sell(price float64) models.Signal {
	return models.Signal{Symbol: "BTCUSDT", Kind: models.Sell, Confidence: 0.9, Price: price, Timestamp: time.Unix(1700000000, 0)}
}

func TestCloseLongUpdatesBalance(t *testing.T) {
	t.Parallel()
	rm := newRisk(10000)
	ledger := NewLedger(rm)

	p, err := ledger.Open(buy(100), 98, 104, 50)
	require.NoError(t, err)
	assert.Equal(t, models.Open, p.State)
	assert.Equal(t, 1, ledger.OpenCount())

	closed, err := ledger.Close(p.ID, 110, models.TakeProfit, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 500.0, closed.RealizedPnL)
	assert.Equal(t, models.Closed, closed.State)
	assert.Equal(t, 110.0, closed.ExitPrice)
	assert.Equal(t, 10500.0, rm.Balance())

	assert.Equal(t, 0, ledger.OpenCount())
	require.Len(t, ledger.History(), 1)
	assert.Equal(t, []float64{0.05}, ledger.Returns(10000))
}

func TestCloseShortNegatesPnL(t *testing.T) {
	t.Parallel()
	rm := newRisk(10000)
	ledger := NewLedger(rm)

	p, err := ledger.Open(sell(100), 102, 96, 10)
	require.NoError(t, err)
	assert.Equal(t, models.Short, p.Side)

	closed, err := ledger.Close(p.ID, 103, models.StopLoss, time.Now())
	require.NoError(t, err)
	assert.Equal(t, -30.0, closed.RealizedPnL)
	assert.Equal(t, 9970.0, rm.Balance())
}

func TestClosedPositionIsTerminal(t *testing.T) {
	t.Parallel()
	ledger := NewLedger(newRisk(10000))
	p, err := ledger.Open(buy(100), 98, 104, 1)
	require.NoError(t, err)

	_, err = ledger.Close(p.ID, 104, models.TakeProfit, time.Now())
	require.NoError(t, err)

	_, err = ledger.Close(p.ID, 90, models.Manual, time.Now())
	assert.ErrorIs(t, err, ErrPositionNotOpen)

	got, ok := ledger.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, 104.0, got.ExitPrice)

	_, err = ledger.Close(42, 100, models.Manual, time.Now())
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestCloseKeepsPositionOpenWhenBalanceFails(t *testing.T) {
	t.Parallel()
	balance := &failingBalance{}
	ledger := NewLedger(balance)
	p, err := ledger.Open(buy(100), 98, 104, 1)
	require.NoError(t, err)

	_, err = ledger.Close(p.ID, 104, models.TakeProfit, time.Now())
	assert.Error(t, err)
	assert.Equal(t, 1, balance.calls)
	assert.Equal(t, 1, ledger.OpenCount())
	assert.Empty(t, ledger.History())
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()
	ledger := NewLedger(newRisk(10000))

	_, err := ledger.Open(models.Signal{Kind: models.Hold, Price: 100}, 98, 104, 1)
	assert.ErrorIs(t, err, ErrNoSide)

	_, err = ledger.Open(buy(100), 101, 104, 1)
	assert.ErrorIs(t, err, ErrInvalidLevels)

	_, err = ledger.Open(sell(100), 98, 96, 1)
	assert.ErrorIs(t, err, ErrInvalidLevels)

	_, err = ledger.Open(buy(100), 98, 104, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	assert.Equal(t, 0, ledger.OpenCount())
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	long := models.Position{Side: models.Long, EntryPrice: 100, StopLoss: 98, TakeProfit: 104, State: models.Open}
	short := models.Position{Side: models.Short, EntryPrice: 100, StopLoss: 102, TakeProfit: 96, State: models.Open}

	tests := []struct {
		name   string
		pos    models.Position
		price  float64
		close  bool
		reason models.CloseReason
	}{
		{"long inside", long, 101, false, models.NotClosed},
		{"long stop inclusive", long, 98, true, models.StopLoss},
		{"long gap below stop", long, 90, true, models.StopLoss},
		{"long take inclusive", long, 104, true, models.TakeProfit},
		{"short inside", short, 99, false, models.NotClosed},
		{"short stop inclusive", short, 102, true, models.StopLoss},
		{"short take inclusive", short, 96, true, models.TakeProfit},
		{"short gap below take", short, 80, true, models.TakeProfit},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			shouldClose, reason := Evaluate(tt.pos, tt.price)
			assert.Equal(t, tt.close, shouldClose)
			assert.Equal(t, tt.reason, reason)
		})
	}

	closed := long
	closed.State = models.Closed
	shouldClose, _ := Evaluate(closed, 50)
	assert.False(t, shouldClose)
}

func TestEvaluateStopLossWinsCollision(t *testing.T) {
	t.Parallel()
	// вырожденные уровни, при которых цена задевает обе границы
	p := models.Position{Side: models.Long, StopLoss: 100, TakeProfit: 100, State: models.Open}
	shouldClose, reason := Evaluate(p, 100)
	assert.True(t, shouldClose)
	assert.Equal(t, models.StopLoss, reason)
}

func TestOpenPositionsBySymbol(t *testing.T) {
	t.Parallel()
	ledger := NewLedger(newRisk(10000))
	a, err := ledger.Open(buy(100), 98, 104, 1)
	require.NoError(t, err)
	eth := buy(10)
	eth.Symbol = "ETHUSDT"
	_, err = ledger.Open(eth, 9, 11, 1)
	require.NoError(t, err)

	assert.Len(t, ledger.OpenPositions(), 2)
	assert.Len(t, ledger.OpenFor("ETHUSDT"), 1)

	_, err = ledger.Close(a.ID, 99, models.Manual, time.Now())
	require.NoError(t, err)
	assert.Empty(t, ledger.OpenFor("BTCUSDT"))
	assert.Equal(t, []float64{-0.0001}, ledger.Returns(10000))
}
