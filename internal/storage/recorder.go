package storage

import (
	"context"

	"github.com/skalibog/aitrade/internal/engine"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// TickWriter принимает тики для сохранения
type TickWriter interface {
	SaveTicks(ctx context.Context, ticks []models.Tick, predictions []float64) error
}

// RecordingFeed пишет все полученные тики в хранилище для последующего бэктеста.
// Ошибка записи не мешает торговле.
type RecordingFeed struct {
	feed   engine.Feed
	writer TickWriter
}

// NewRecordingFeed оборачивает источник данных записью тиков
func NewRecordingFeed(feed engine.Feed, writer TickWriter) *RecordingFeed {
	return &RecordingFeed{feed: feed, writer: writer}
}

// LatestTick последний тик источника
func (f *RecordingFeed) LatestTick(ctx context.Context, symbol string) (models.Tick, error) {
	tick, err := f.feed.LatestTick(ctx, symbol)
	if err != nil {
		return tick, err
	}
	f.record(ctx, []models.Tick{tick})
	return tick, nil
}

// History история источника
func (f *RecordingFeed) History(ctx context.Context, symbol string, limit int) ([]models.Tick, error) {
	ticks, err := f.feed.History(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	f.record(ctx, ticks)
	return ticks, nil
}

func (f *RecordingFeed) record(ctx context.Context, ticks []models.Tick) {
	if len(ticks) == 0 {
		return
	}
	if err := f.writer.SaveTicks(ctx, ticks, nil); err != nil {
		logger.Warn("Не удалось сохранить тики",
			zap.String("symbol", ticks[0].Symbol),
			zap.Int("count", len(ticks)),
			zap.Error(err))
	}
}
