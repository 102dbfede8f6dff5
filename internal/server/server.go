package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mjpegrelay/internal/config"
	"mjpegrelay/internal/hub"
	"mjpegrelay/internal/metrics"
	"mjpegrelay/internal/relay"
)

// RunningMessage は稼働確認用の応答テキスト
const RunningMessage = "MJPG-to-WebSocket server is running."

// Upstream は上流接続の状態を提供する
type Upstream interface {
	Snapshot() relay.Stats
}

// Clients は WebSocket クライアントの集合
type Clients interface {
	http.Handler
	ClientCount() int
	Clients() []hub.ClientInfo
	Close() error
}

// Options はサーバーが使う依存関係
type Options struct {
	Upstream Upstream
	Clients  Clients
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// StatusResponse は /api/status の応答
type StatusResponse struct {
	Status     string           `json:"status"`
	Server     ServerInfo       `json:"server"`
	Upstream   relay.Stats      `json:"upstream"`
	Clients    int              `json:"clients"`
	ClientList []hub.ClientInfo `json:"client_list"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ServerInfo はリッスンアドレスの情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine

	upstream Upstream
	clients  Clients
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		config:   cfg,
		engine:   engine,
		upstream: opts.Upstream,
		clients:  opts.Clients,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(zap.String("component", "server")),
	}
	s.setupRoutes()

	// ReadTimeout はハイジャック後の WebSocket 接続にも残るため、ヘッダーだけに適用する
	s.httpServer = &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.Use(recovery(s.logger), requestLogger(s.logger))

	// WebSocket はどのパスでも受け付ける
	if s.clients != nil {
		s.engine.Use(websocketUpgrade(s.clients))
	}

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	s.engine.GET("/api/status", s.handleStatus)

	// メトリクス
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)
	s.engine.NoRoute(s.handleRoot)
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		ClientList: []hub.ClientInfo{},
		Timestamp:  time.Now(),
	}
	if s.upstream != nil {
		resp.Upstream = s.upstream.Snapshot()
	}
	if s.clients != nil {
		resp.ClientList = s.clients.Clients()
		resp.Clients = len(resp.ClientList)
	}

	c.JSON(http.StatusOK, resp)
}

// handleRoot はルートパスと未定義パスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, RunningMessage)
}

// Start はサーバーを起動し、ctx がキャンセルされるとシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", s.config.ServerAddress()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
//
// ハイジャック済みの WebSocket 接続は http.Server.Shutdown の対象外なので、
// 先に Hub を閉じて各接続の送信ループを終わらせる。
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	if s.clients != nil {
		if err := s.clients.Close(); err != nil {
			s.logger.Warn("クライアントの切断に失敗しました", zap.Error(err))
		}
	}

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
