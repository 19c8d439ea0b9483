package storage

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Unix(1700000000, 0)

func line(p *write.Point) string {
	return write.PointToLineProtocol(p, time.Nanosecond)
}

func TestTickPoint(t *testing.T) {
	t.Parallel()
	tick := models.Tick{Symbol: "BTCUSDT", Timestamp: at, Price: 101.5, Volume: 3}

	withPrediction := line(tickPoint(tick, 0.25))
	assert.True(t, strings.HasPrefix(withPrediction, "ticks,symbol=BTCUSDT "))
	assert.Contains(t, withPrediction, "price=101.5")
	assert.Contains(t, withPrediction, "prediction=0.25")

	withoutPrediction := line(tickPoint(tick, math.NaN()))
	assert.NotContains(t, withoutPrediction, "prediction")
}

func TestSignalAndTradePoints(t *testing.T) {
	t.Parallel()
	sig := line(signalPoint(models.Signal{Symbol: "ETHUSDT", Kind: models.Sell, Confidence: 0.7, Price: 1800, Timestamp: at}))
	assert.Contains(t, sig, "signals,kind=SELL,symbol=ETHUSDT")
	assert.Contains(t, sig, "confidence=0.7")

	trade := line(tradePoint(models.Position{
		ID: 3, Symbol: "ETHUSDT", Side: models.Short, EntryPrice: 1800, ExitPrice: 1750,
		Size: 2, RealizedPnL: 100, CloseReason: models.TakeProfit, ClosedAt: at,
	}))
	assert.Contains(t, trade, "reason=take_profit")
	assert.Contains(t, trade, "pnl=100")
	assert.Contains(t, trade, "position_id=3i")
}

func TestMetricsPoint(t *testing.T) {
	t.Parallel()
	m := models.PerformanceMetrics{TotalTrades: 4, WinRate: 0.5, ProfitFactorUndefined: true}
	l := line(metricsPoint(m, 10250, at))
	assert.True(t, strings.HasPrefix(l, "metrics "))
	assert.Contains(t, l, "balance=10250")
	assert.Contains(t, l, "total_trades=4i")
	assert.Contains(t, l, "profit_factor_undefined=true")
}

func TestTicksQuery(t *testing.T) {
	t.Parallel()
	q := ticksQuery("market", "BTCUSDT", at, at.Add(time.Hour))
	assert.Contains(t, q, `from(bucket: "market")`)
	assert.Contains(t, q, "range(start: 2023-11-14T22:13:20Z, stop: 2023-11-14T23:13:20Z)")
	assert.Contains(t, q, `r._measurement == "ticks"`)
	assert.Contains(t, q, `r.symbol == "BTCUSDT"`)
}

func TestInfluxDBStorageWrites(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"2.7.1","commit":"abc"}`)
		case "/api/v2/write":
			assert.Equal(t, "trading", r.URL.Query().Get("bucket"))
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s, err := NewInfluxDBStorage(context.Background(), config.StorageConfig{
		Enabled: true, URL: srv.URL, Token: "token", Organization: "org", Bucket: "trading",
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveSignal(ctx, models.Signal{Symbol: "BTCUSDT", Kind: models.Buy, Timestamp: at}))
	require.NoError(t, s.SaveTicks(ctx, []models.Tick{{Symbol: "BTCUSDT", Timestamp: at, Price: 100}}, []float64{0.4}))
	assert.Error(t, s.SaveTicks(ctx, []models.Tick{{Symbol: "BTCUSDT", Timestamp: at, Price: 100}}, []float64{}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "signals,kind=BUY,symbol=BTCUSDT")
	assert.Contains(t, bodies[1], "prediction=0.4")
}

type fakeFeed struct {
	tick models.Tick
	err  error
}

func (f fakeFeed) LatestTick(context.Context, string) (models.Tick, error) {
	return f.tick, f.err
}

func (f fakeFeed) History(context.Context, string, int) ([]models.Tick, error) {
	return []models.Tick{f.tick, f.tick}, f.err
}

type memoryWriter struct {
	ticks []models.Tick
	err   error
}

func (w *memoryWriter) SaveTicks(_ context.Context, ticks []models.Tick, _ []float64) error {
	w.ticks = append(w.ticks, ticks...)
	return w.err
}

func TestRecordingFeed(t *testing.T) {
	t.Parallel()
	writer := &memoryWriter{}
	feed := NewRecordingFeed(fakeFeed{tick: models.Tick{Symbol: "BTCUSDT", Price: 100, Timestamp: at}}, writer)
	ctx := context.Background()

	tick, err := feed.LatestTick(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tick.Price)

	history, err := feed.History(ctx, "BTCUSDT", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, writer.ticks, 3)

	// ошибка записи не влияет на результат
	writer.err = errors.New("influx недоступен")
	_, err = feed.LatestTick(ctx, "BTCUSDT")
	assert.NoError(t, err)

	failing := NewRecordingFeed(fakeFeed{err: errors.New("биржа недоступна")}, writer)
	_, err = failing.LatestTick(ctx, "BTCUSDT")
	assert.Error(t, err)
}
