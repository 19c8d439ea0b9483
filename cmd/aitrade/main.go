package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var configPath string

func main() {
	app := cli.NewApp()
	app.Name = "aitrade"
	app.Usage = "торговое ядро: сигналы, риск, позиции и бэктест"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.yaml",
			Usage:       "путь к файлу конфигурации",
			Destination: &configPath,
		},
	}
	app.Commands = []*cli.Command{
		liveCommand,
		backtestCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

// setup загружает конфигурацию и инициализирует логгер.
// console решает по конфигурации, дублировать ли логи в stdout.
func setup(console func(cfg *config.Config) bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Options{
		Level:    cfg.Log.Level,
		File:     cfg.Log.File,
		JSONFile: cfg.Log.JSONFile,
		Console:  console(cfg),
	}); err != nil {
		return nil, fmt.Errorf("ошибка инициализации логгера: %w", err)
	}

	logger.Info("Конфигурация загружена", zap.String("path", configPath))
	return cfg, nil
}
