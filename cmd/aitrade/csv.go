package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/skalibog/aitrade/pkg/models"
)

// readCSV разбирает ряд timestamp,price[,prediction[,volume]].
// Заголовок необязателен. Если хотя бы в одной строке нет прогноза, прогнозы не возвращаются.
func readCSV(r io.Reader, symbol string) ([]models.Tick, []float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var ticks []models.Tick
	var predictions []float64
	complete := true
	line := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка чтения CSV: %w", err)
		}
		line++
		if line == 1 && isHeader(record) {
			continue
		}
		if len(record) < 2 {
			return nil, nil, fmt.Errorf("строка %d: нужны как минимум timestamp и price", line)
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, nil, fmt.Errorf("строка %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("строка %d: некорректная цена: %w", line, err)
		}
		tick := models.Tick{Symbol: symbol, Timestamp: ts, Price: price}

		prediction := 0.0
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			if prediction, err = strconv.ParseFloat(strings.TrimSpace(record[2]), 64); err != nil {
				return nil, nil, fmt.Errorf("строка %d: некорректный прогноз: %w", line, err)
			}
		} else {
			complete = false
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			if tick.Volume, err = strconv.ParseFloat(strings.TrimSpace(record[3]), 64); err != nil {
				return nil, nil, fmt.Errorf("строка %d: некорректный объем: %w", line, err)
			}
		}

		ticks = append(ticks, tick)
		predictions = append(predictions, prediction)
	}

	if !complete {
		return ticks, nil, nil
	}
	return ticks, predictions, nil
}

func isHeader(record []string) bool {
	if len(record) < 2 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

// parseTimestamp принимает unix-время в секундах или миллисекундах либо RFC3339
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("некорректное время %q", value)
	}
	return ts, nil
}
