// Package app は各コンポーネントを組み立ててリレーを起動する。
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mjpegrelay/internal/config"
	"mjpegrelay/internal/hub"
	"mjpegrelay/internal/metrics"
	"mjpegrelay/internal/relay"
	"mjpegrelay/internal/server"
)

// App はリレー全体
type App struct {
	config     *config.Config
	controller *relay.Controller
	hub        *hub.Hub
	server     *server.Server
	watcher    *config.Watcher
	logger     *zap.Logger
}

// Options は New の追加設定
type Options struct {
	ConfigPath string            // 監視する設定ファイル（空なら監視しない）
	Overrides  []config.Override // 再読み込み時にも適用する上書き
	HTTPClient *http.Client      // 上流への接続に使うクライアント
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// New はコンポーネントを組み立てる
//
// クライアントの接続・切断が DemandTracker を通じて上流の開始・停止につながる。
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector(metrics.DefaultNamespace, nil, logger)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	h := hub.New(hub.Options{
		QueueSize:      cfg.Client.QueueSize,
		WriteTimeout:   cfg.Client.WriteTimeout,
		OriginPatterns: cfg.OriginPatterns(),
		Logger:         logger,
		Metrics:        collector,
	})

	controller, err := relay.NewController(relay.Options{
		URL:         cfg.Upstream.URL,
		Client:      client,
		Broadcaster: h,
		Clients:     h,
		Timeout:     cfg.Upstream.Timeout,
		RetryDelay:  cfg.Upstream.RetryDelay,
		MaxBuffer:   cfg.Upstream.MaxBuffer,
		Logger:      logger,
		Metrics:     collector,
	})
	if err != nil {
		return nil, fmt.Errorf("上流コントローラーの作成に失敗: %w", err)
	}
	h.SetObserver(relay.NewDemandTracker(controller, logger))

	a := &App{
		config:     cfg,
		controller: controller,
		hub:        h,
		server: server.New(cfg, server.Options{
			Upstream: controller,
			Clients:  h,
			Metrics:  collector,
			Logger:   logger,
		}),
		logger: logger,
	}

	if opts.ConfigPath != "" {
		a.watcher = config.NewWatcher(opts.ConfigPath, logger, a.applyConfig, opts.Overrides...)
	}
	return a, nil
}

// applyConfig は再読み込みした設定のうち、実行中に変更できる項目を反映する
func (a *App) applyConfig(cfg *config.Config) {
	if err := a.controller.SetURL(cfg.Upstream.URL); err != nil {
		a.logger.Warn("上流 URL を変更できませんでした", zap.Error(err))
	}
}

// Handler は HTTP ハンドラーを返す
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run は ctx がキャンセルされるまでサーバーと設定監視を動かす
func (a *App) Run(ctx context.Context) error {
	defer a.controller.Close()

	a.logger.Info("MJPEG リレーを起動します",
		zap.String("addr", a.config.ServerAddress()),
		zap.String("upstream", a.controller.URL()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Start(ctx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}

	return g.Wait()
}
