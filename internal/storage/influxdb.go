// internal/storage/influxdb.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// Имена измерений
const (
	MeasurementTicks   = "ticks"
	MeasurementSignals = "signals"
	MeasurementTrades  = "trades"
	MeasurementMetrics = "metrics"
)

// ErrNoData запрос не вернул ни одной точки
var ErrNoData = errors.New("нет данных в хранилище")

// InfluxDBStorage журнал сигналов, сделок и метрик в InfluxDB.
// Состояние прогона в нем не хранится, только история.
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveTicks сохраняет тики вместе с оценками прогноза, если они есть
func (s *InfluxDBStorage) SaveTicks(ctx context.Context, ticks []models.Tick, predictions []float64) error {
	if predictions != nil && len(predictions) != len(ticks) {
		return fmt.Errorf("длины тиков (%d) и прогнозов (%d) не совпадают", len(ticks), len(predictions))
	}
	points := make([]*write.Point, len(ticks))
	for i, tick := range ticks {
		prediction := math.NaN()
		if predictions != nil {
			prediction = predictions[i]
		}
		points[i] = tickPoint(tick, prediction)
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("ошибка записи тиков: %w", err)
	}
	return nil
}

// SaveSignal сохраняет сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal models.Signal) error {
	if err := s.writeAPI.WritePoint(ctx, signalPoint(signal)); err != nil {
		return fmt.Errorf("ошибка записи сигнала: %w", err)
	}
	return nil
}

// SaveTrade сохраняет закрытую сделку
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, p models.Position) error {
	if err := s.writeAPI.WritePoint(ctx, tradePoint(p)); err != nil {
		return fmt.Errorf("ошибка записи сделки %d: %w", p.ID, err)
	}
	return nil
}

// SaveMetrics сохраняет срез метрик
func (s *InfluxDBStorage) SaveMetrics(ctx context.Context, metrics models.PerformanceMetrics, balance float64) error {
	if err := s.writeAPI.WritePoint(ctx, metricsPoint(metrics, balance, time.Now())); err != nil {
		return fmt.Errorf("ошибка записи метрик: %w", err)
	}
	return nil
}

// GetTicks тики символа за период в порядке времени вместе с оценками прогноза.
// Для тиков без оценки прогноз равен 0.
func (s *InfluxDBStorage) GetTicks(ctx context.Context, symbol string, start, stop time.Time) ([]models.Tick, []float64, error) {
	result, err := s.queryAPI.Query(ctx, ticksQuery(s.bucket, symbol, start, stop))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка запроса тиков: %w", err)
	}

	var ticks []models.Tick
	var predictions []float64
	for result.Next() {
		record := result.Record()

		price, _ := record.ValueByKey("price").(float64)
		volume, _ := record.ValueByKey("volume").(float64)
		prediction, _ := record.ValueByKey("prediction").(float64)

		ticks = append(ticks, models.Tick{
			Symbol:    symbol,
			Timestamp: record.Time(),
			Price:     price,
			Volume:    volume,
		})
		predictions = append(predictions, prediction)
	}

	// Проверяем на ошибки при обработке результатов
	if result.Err() != nil {
		return nil, nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	if len(ticks) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	logger.Debug("Загружены тики из InfluxDB",
		zap.String("symbol", symbol),
		zap.Int("count", len(ticks)))
	return ticks, predictions, nil
}

func ticksQuery(bucket, symbol string, start, stop time.Time) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
	`, bucket, start.UTC().Format(time.RFC3339), stop.UTC().Format(time.RFC3339), MeasurementTicks, symbol)
}

func tickPoint(tick models.Tick, prediction float64) *write.Point {
	fields := map[string]interface{}{
		"price":  tick.Price,
		"volume": tick.Volume,
	}
	if !math.IsNaN(prediction) {
		fields["prediction"] = prediction
	}
	return influxdb2.NewPoint(MeasurementTicks,
		map[string]string{"symbol": tick.Symbol},
		fields,
		tick.Timestamp,
	)
}

func signalPoint(signal models.Signal) *write.Point {
	return influxdb2.NewPoint(MeasurementSignals,
		map[string]string{
			"symbol": signal.Symbol,
			"kind":   signal.Kind.String(),
		},
		map[string]interface{}{
			"confidence": signal.Confidence,
			"price":      signal.Price,
		},
		signal.Timestamp,
	)
}

func tradePoint(p models.Position) *write.Point {
	return influxdb2.NewPoint(MeasurementTrades,
		map[string]string{
			"symbol": p.Symbol,
			"side":   p.Side.String(),
			"reason": p.CloseReason.String(),
		},
		map[string]interface{}{
			"position_id": p.ID,
			"entry":       p.EntryPrice,
			"exit":        p.ExitPrice,
			"size":        p.Size,
			"pnl":         p.RealizedPnL,
		},
		p.ClosedAt,
	)
}

func metricsPoint(m models.PerformanceMetrics, balance float64, at time.Time) *write.Point {
	return influxdb2.NewPoint(MeasurementMetrics,
		map[string]string{},
		map[string]interface{}{
			"balance":                 balance,
			"total_trades":            m.TotalTrades,
			"win_rate":                m.WinRate,
			"sharpe_ratio":            m.SharpeRatio,
			"max_drawdown":            m.MaxDrawdown,
			"profit_factor":           m.ProfitFactor,
			"profit_factor_undefined": m.ProfitFactorUndefined,
		},
		at,
	)
}
