package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/models"
)

// ErrNoClosedCandle биржа не вернула ни одной закрытой свечи
var ErrNoClosedCandle = errors.New("нет закрытых свечей")

// BinanceClient источник рыночных данных с фьючерсов Binance
type BinanceClient struct {
	futures  *futures.Client
	interval string
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, interval string) (*BinanceClient, error) {
	if interval == "" {
		return nil, errors.New("не задан интервал свечей")
	}
	// переключатель тестовой сети общий для всего пакета futures
	futures.UseTestnet = cfg.Testnet

	return &BinanceClient{
		futures:  futures.NewClient(cfg.APIKey, cfg.APISecret),
		interval: interval,
	}, nil
}

// LatestTick последняя закрытая свеча символа в виде тика
func (c *BinanceClient) LatestTick(ctx context.Context, symbol string) (models.Tick, error) {
	ticks, err := c.closedTicks(ctx, symbol, 1)
	if err != nil {
		return models.Tick{}, err
	}
	if len(ticks) == 0 {
		return models.Tick{}, fmt.Errorf("%w: %s", ErrNoClosedCandle, symbol)
	}
	return ticks[len(ticks)-1], nil
}

// History до limit последних закрытых свечей в порядке времени
func (c *BinanceClient) History(ctx context.Context, symbol string, limit int) ([]models.Tick, error) {
	return c.closedTicks(ctx, symbol, limit)
}

func (c *BinanceClient) closedTicks(ctx context.Context, symbol string, limit int) ([]models.Tick, error) {
	// последняя свеча еще формируется, поэтому запрашиваем на одну больше
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(c.interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}
	ticks, err := ticksFromKlines(symbol, klines, time.Now())
	if err != nil {
		return nil, err
	}
	if len(ticks) > limit {
		ticks = ticks[len(ticks)-limit:]
	}
	return ticks, nil
}

// ticksFromKlines переводит свечи в тики по цене закрытия, отбрасывая незакрытые
func ticksFromKlines(symbol string, klines []*futures.Kline, now time.Time) ([]models.Tick, error) {
	ticks := make([]models.Tick, 0, len(klines))
	for _, k := range klines {
		closeTime := time.UnixMilli(k.CloseTime)
		if closeTime.After(now) {
			continue
		}

		price, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора цены закрытия %q: %w", k.Close, err)
		}
		volume, err := strconv.ParseFloat(k.Volume, 64)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора объема %q: %w", k.Volume, err)
		}

		ticks = append(ticks, models.Tick{
			Symbol:    symbol,
			Timestamp: closeTime,
			Price:     price,
			Volume:    volume,
		})
	}
	return ticks, nil
}
