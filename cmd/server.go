// Package main は MJPEG リレーサーバーコマンドの実装です
package main

import (
	"context"
	"errors"
	"flag"
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
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		url        = flag.String("url", "", "カメラのベース URL (環境変数 "+config.StreamURLEnv+" より優先)")
		configPath = flag.String("config", "", "設定ファイルのパス (変更を監視して上流 URL を反映)")
		logLevel   = flag.String("log-level", "", "ログレベル (debug, info, warn, error)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("mjpegrelay - M-JPEG ストリームを WebSocket に中継します")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *configPath == "" {
		*configPath = os.Getenv(config.ConfigFileEnv)
	}

	// コマンドラインオプションで設定を上書き
	override := func(c *config.Config) {
		if *host != "" {
			c.Server.Host = *host
		}
		if *port != 0 {
			c.Server.Port = *port
		}
		if *url != "" {
			c.Upstream.URL = *url
		}
		if *logLevel != "" {
			c.Log.Level = *logLevel
		}
	}

	// 設定を読み込む
	cfg, err := config.LoadFile(*configPath, override)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		if errors.Is(err, config.ErrMissingStreamURL) {
			fmt.Fprintln(os.Stderr, "-url オプションでも指定できます")
		}
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの作成に失敗しました: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	relay, err := app.New(cfg, app.Options{
		ConfigPath: *configPath,
		Overrides:  []config.Override{override},
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("初期化に失敗しました", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		logger.Error("サーバーの起動に失敗しました", zap.Error(err))
		os.Exit(1)
	}
}
