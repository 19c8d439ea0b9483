package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/predictor"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// ErrBusy предыдущая итерация мониторинга еще не завершена
var ErrBusy = errors.New("итерация мониторинга уже выполняется")

// Feed источник рыночных данных
type Feed interface {
	LatestTick(ctx context.Context, symbol string) (models.Tick, error)
	History(ctx context.Context, symbol string, limit int) ([]models.Tick, error)
}

// Publisher получатель снимков состояния
type Publisher interface {
	Publish(snapshot Snapshot)
}

// Monitor периодически прогоняет конвейер по всем символам
type Monitor struct {
	pipeline   *Pipeline
	feed       Feed
	predictor  predictor.Predictor
	symbols    []string
	interval   time.Duration
	warmup     int
	publishers []Publisher

	busy     atomic.Bool
	inflight sync.WaitGroup
}

// NewMonitor создает цикл мониторинга
func NewMonitor(pipeline *Pipeline, feed Feed, pred predictor.Predictor, symbols []string, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		pipeline:  pipeline,
		feed:      feed,
		predictor: pred,
		symbols:   symbols,
		interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		warmup:    cfg.WarmupCandles,
	}
}

// AddPublisher подписывает получателя снимков
func (m *Monitor) AddPublisher(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// Warmup загружает историю цен по всем символам
func (m *Monitor) Warmup(ctx context.Context) error {
	if m.warmup <= 0 {
		return nil
	}
	for _, symbol := range m.symbols {
		ticks, err := m.feed.History(ctx, symbol, m.warmup)
		if err != nil {
			return fmt.Errorf("ошибка загрузки истории %s: %w", symbol, err)
		}
		n := m.pipeline.Warmup(symbol, ticks)
		logger.Info("История загружена", zap.String("symbol", symbol), zap.Int("цен", n))
	}
	return nil
}

// Run запускает цикл до отмены контекста. Возвращается после завершения текущей итерации.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Warmup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.inflight.Wait()

	logger.Info("Мониторинг запущен",
		zap.Strings("symbols", m.symbols),
		zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Мониторинг остановлен")
			return nil
		case <-ticker.C:
			if !m.busy.CompareAndSwap(false, true) {
				logger.Warn("Предыдущая итерация еще выполняется, пропуск")
				continue
			}
			m.inflight.Add(1)
			go func() {
				defer m.inflight.Done()
				defer m.busy.Store(false)
				if err := m.iterate(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Ошибка итерации мониторинга", zap.Error(err))
				}
			}()
		}
	}
}

// Iterate выполняет одну итерацию. Если предыдущая не завершена, возвращает ErrBusy.
func (m *Monitor) Iterate(ctx context.Context) error {
	if !m.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.busy.Store(false)
	return m.iterate(ctx)
}

func (m *Monitor) iterate(ctx context.Context) error {
	defer m.publish()

	for _, symbol := range m.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		tick, err := m.feed.LatestTick(ctx, symbol)
		if err != nil {
			logger.Warn("Нет рыночных данных", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		outcome, err := m.pipeline.Step(ctx, tick, m.predictor.Predict)
		if err != nil {
			// ошибка закрытия позиции прерывает итерацию
			return fmt.Errorf("%s: %w", symbol, err)
		}
		if outcome.Skipped {
			continue
		}

		logger.Debug("Тик обработан",
			zap.String("symbol", symbol),
			zap.Float64("price", tick.Price),
			zap.Stringer("signal", outcome.Signal.Kind),
			zap.Float64("confidence", outcome.Signal.Confidence),
			zap.Int("closed", len(outcome.Closed)),
			zap.Bool("opened", outcome.Opened != nil))
	}
	return nil
}

func (m *Monitor) publish() {
	snapshot := m.pipeline.Snapshot()
	if m.pipeline.journal != nil {
		if err := m.pipeline.journal.SaveMetrics(context.Background(), snapshot.Metrics, snapshot.Balance); err != nil {
			logger.Warn("Не удалось сохранить метрики", zap.Error(err))
		}
	}
	for _, p := range m.publishers {
		p.Publish(snapshot)
	}
}
