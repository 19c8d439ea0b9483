package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/skalibog/aitrade/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig   `yaml:"binance"`
	Trading    TradingConfig   `yaml:"trading"`
	Strategy   StrategyConfig  `yaml:"strategy"`
	Indicators IndicatorConfig `yaml:"indicators"`
	Signal     SignalConfig    `yaml:"signal"`
	Monitor    MonitorConfig   `yaml:"monitor"`
	Backtest   BacktestConfig  `yaml:"backtest"`
	Storage    StorageConfig   `yaml:"storage"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	UI         UIConfig        `yaml:"ui"`
	Log        LogConfig       `yaml:"log"`
	Predictor  PredictorConfig `yaml:"predictor"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbols        []string `yaml:"symbols"`
	Interval       string   `yaml:"interval"`
	InitialBalance float64  `yaml:"initial_balance"`
}

// StrategyConfig лимиты риска. Неизменяемы в течение прогона.
type StrategyConfig struct {
	MaxPositionSizePct float64 `yaml:"max_position_size_pct"`
	RiskPerTradePct    float64 `yaml:"risk_per_trade_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	MinConfidence      float64 `yaml:"min_confidence"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
}

// IndicatorConfig настройки технических индикаторов
type IndicatorConfig struct {
	RSIPeriod      int     `yaml:"rsi_period"`
	MACDFast       int     `yaml:"macd_fast"`
	MACDSlow       int     `yaml:"macd_slow"`
	MACDSignal     int     `yaml:"macd_signal"`
	BBPeriod       int     `yaml:"bb_period"`
	BBDeviation    float64 `yaml:"bb_deviation"`
	MomentumPeriod int     `yaml:"momentum_period"`
	// History сколько последних цен хранит конвейер символа
	History int `yaml:"history"`
}

// SignalConfig пороги RSI для классификации
type SignalConfig struct {
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

// MonitorConfig настройки цикла мониторинга
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	WarmupCandles   int `yaml:"warmup_candles"`
}

// BacktestConfig настройки бэктеста
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	TradingFee     float64 `yaml:"trading_fee"`
	Threshold      float64 `yaml:"threshold"`
}

// StorageConfig настройки журнала в InfluxDB
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// TelemetryConfig настройки websocket-трансляции метрик
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
}

// PredictorConfig настройки базового предиктора
type PredictorConfig struct {
	Period int     `yaml:"period"`
	Scale  float64 `yaml:"scale"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Trading: TradingConfig{
			Symbols:        []string{"BTCUSDT"},
			Interval:       "1m",
			InitialBalance: 10000,
		},
		Strategy: StrategyConfig{
			MaxPositionSizePct: 10,
			RiskPerTradePct:    1,
			StopLossPct:        2,
			TakeProfitPct:      4,
			MinConfidence:      0.6,
			MaxOpenPositions:   5,
		},
		Indicators: IndicatorConfig{
			RSIPeriod:      14,
			MACDFast:       12,
			MACDSlow:       26,
			MACDSignal:     9,
			BBPeriod:       20,
			BBDeviation:    2,
			MomentumPeriod: 10,
			History:        500,
		},
		Signal: SignalConfig{
			Overbought: 70,
			Oversold:   30,
		},
		Monitor: MonitorConfig{
			IntervalSeconds: 60,
			WarmupCandles:   100,
		},
		Backtest: BacktestConfig{
			InitialCapital: 10000,
			TradingFee:     0.001,
			Threshold:      0.001,
		},
		Telemetry: TelemetryConfig{Addr: ":8090"},
		UI:        UIConfig{RefreshRate: 1000},
		Log: LogConfig{
			Level:    "info",
			File:     "app.log",
			JSONFile: "app.json.log",
		},
		Predictor: PredictorConfig{Period: 10, Scale: 1},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", cfg))
	logger.Info("Загружена конфигурация", zap.Strings("symbols", cfg.Trading.Symbols))
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	var errs []error

	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, errors.New("trading.symbols: не задан ни один символ"))
	}
	if c.Trading.InitialBalance <= 0 {
		errs = append(errs, errors.New("trading.initial_balance: должен быть больше 0"))
	}
	if err := c.Strategy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Indicators.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Signal.Oversold < 0 || c.Signal.Overbought > 100 || c.Signal.Oversold >= c.Signal.Overbought {
		errs = append(errs, fmt.Errorf("signal: некорректные пороги RSI %v/%v", c.Signal.Oversold, c.Signal.Overbought))
	}
	if c.Monitor.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("monitor.interval_seconds: должен быть больше 0"))
	}
	if c.Backtest.InitialCapital <= 0 {
		errs = append(errs, errors.New("backtest.initial_capital: должен быть больше 0"))
	}
	if c.Backtest.TradingFee < 0 || c.Backtest.TradingFee >= 1 {
		errs = append(errs, errors.New("backtest.trading_fee: должен быть в диапазоне [0,1)"))
	}
	if c.Backtest.Threshold < 0 {
		errs = append(errs, errors.New("backtest.threshold: не может быть отрицательным"))
	}
	if c.Storage.Enabled && (c.Storage.URL == "" || c.Storage.Bucket == "") {
		errs = append(errs, errors.New("storage: для InfluxDB нужны url и bucket"))
	}

	return errors.Join(errs...)
}

// Validate проверяет лимиты риска
func (s StrategyConfig) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"max_position_size_pct": s.MaxPositionSizePct,
		"risk_per_trade_pct":    s.RiskPerTradePct,
		"stop_loss_pct":         s.StopLossPct,
		"take_profit_pct":       s.TakeProfitPct,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("strategy.%s: %v вне диапазона (0,100]", name, v))
		}
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("strategy.min_confidence: %v вне диапазона [0,1]", s.MinConfidence))
	}
	if s.MaxOpenPositions <= 0 {
		errs = append(errs, errors.New("strategy.max_open_positions: должен быть больше 0"))
	}
	return errors.Join(errs...)
}

// Validate проверяет периоды индикаторов
func (i IndicatorConfig) Validate() error {
	var errs []error
	if i.RSIPeriod < 1 {
		errs = append(errs, errors.New("indicators.rsi_period: должен быть больше 0"))
	}
	if i.MACDFast < 1 || i.MACDSignal < 1 {
		errs = append(errs, errors.New("indicators.macd: периоды должны быть больше 0"))
	}
	if i.MACDSlow <= i.MACDFast {
		errs = append(errs, fmt.Errorf("indicators.macd_slow (%d) должен быть больше macd_fast (%d)", i.MACDSlow, i.MACDFast))
	}
	if i.BBPeriod < 2 || i.MomentumPeriod < 1 {
		errs = append(errs, errors.New("indicators: bb_period >= 2 и momentum_period >= 1"))
	}
	if i.History < i.WarmupLength() {
		errs = append(errs, fmt.Errorf("indicators.history (%d) меньше прогрева индикаторов (%d)", i.History, i.WarmupLength()))
	}
	return errors.Join(errs...)
}

// WarmupLength минимальная длина ряда, при которой готов полный снимок индикаторов
func (i IndicatorConfig) WarmupLength() int {
	macd := i.MACDSlow + i.MACDSignal - 1
	rsi := i.RSIPeriod + 1
	if rsi > macd {
		return rsi
	}
	return macd
}
