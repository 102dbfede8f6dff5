package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mjpegrelay/internal/app"
	"mjpegrelay/internal/config"
	"mjpegrelay/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの作成に失敗しました: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	relay, err := app.New(cfg, app.Options{
		ConfigPath: os.Getenv(config.ConfigFileEnv),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("初期化に失敗しました", zap.Error(err))
	}

	// SIGINT / SIGTERM で停止する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		logger.Error("サーバーの起動に失敗しました", zap.Error(err))
		os.Exit(1)
	}
}
