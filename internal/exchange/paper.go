package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// PaperExecutor бумажный исполнитель: подтверждает запросы без отправки ордеров
type PaperExecutor struct {
	mu     sync.Mutex
	filled []models.ExecutionRequest
	seen   map[string]struct{}
}

// NewPaperExecutor создает бумажный исполнитель
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{seen: make(map[string]struct{})}
}

// Execute подтверждает запрос. Повтор запроса с тем же ID отклоняется.
func (e *PaperExecutor) Execute(ctx context.Context, req models.ExecutionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.seen[req.ID]; ok {
		return fmt.Errorf("повторный запрос на исполнение %s", req.ID)
	}
	e.seen[req.ID] = struct{}{}
	e.filled = append(e.filled, req)

	logger.Info("Бумажное исполнение",
		zap.String("request_id", req.ID),
		zap.Stringer("action", req.Action),
		zap.String("symbol", req.Symbol),
		zap.Stringer("side", req.Side),
		zap.Float64("size", req.Size),
		zap.Float64("price", req.Price))
	return nil
}

// Filled подтвержденные запросы в порядке поступления
func (e *PaperExecutor) Filled() []models.ExecutionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ExecutionRequest(nil), e.filled...)
}
