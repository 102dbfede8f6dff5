package hub

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mjpegrelay/internal/metrics"
	"mjpegrelay/internal/mjpeg"
)

// 既定値
const (
	DefaultQueueSize    = 2
	DefaultWriteTimeout = 5 * time.Second
)

// Observer はクライアントの接続・切断の通知を受け取る
type Observer interface {
	ClientAdded()
	ClientRemoved()
}

// Options は Hub の設定
type Options struct {
	QueueSize      int           // クライアントごとの送信キュー長
	WriteTimeout   time.Duration // 1メッセージの書き込みタイムアウト
	OriginPatterns []string      // 許可する Origin（"*" で全許可）
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Hub は WebSocket クライアントの集合
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	observer Observer
	closed   bool

	queueSize      int
	writeTimeout   time.Duration
	originPatterns []string
	logger         *zap.Logger
	metrics        *metrics.Collector
}

// New は新しい Hub を作成する
func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		queueSize:      opts.QueueSize,
		writeTimeout:   opts.WriteTimeout,
		originPatterns: opts.OriginPatterns,
		logger:         opts.Logger.With(zap.String("component", "hub")),
		metrics:        opts.Metrics,
	}
}

// SetObserver は接続・切断の通知先を設定する
func (h *Hub) SetObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// ServeHTTP は WebSocket 接続を受け入れ、切断されるまでフレームを送り続ける
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("WebSocket のハンドシェイクに失敗しました",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), r.RemoteAddr, conn, h.queueSize)
	if !h.register(client) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	// クライアントからのメッセージは読み捨て、切断だけを検知する
	ctx := conn.CloseRead(r.Context())
	h.writeLoop(ctx, client)

	h.unregister(client)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop はキューのフレームを順に書き込む
func (h *Hub) writeLoop(ctx context.Context, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case frame := <-client.queue:
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := client.conn.Write(writeCtx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("フレームの送信に失敗しました",
						zap.String("client_id", client.id),
						zap.Error(err))
				}
				return
			}
			client.sent.Add(1)
			h.metrics.FrameSent()
		}
	}
}

// register はクライアントを登録する。閉じた Hub には登録できない
func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client.id] = client
	total := len(h.clients)
	observer := h.observer
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Info("クライアントが接続しました",
		zap.String("client_id", client.id),
		zap.String("remote_addr", client.remoteAddr),
		zap.Int("total", total))

	if observer != nil {
		observer.ClientAdded()
	}
	return true
}

// unregister はクライアントを削除する。未登録なら何もしない
func (h *Hub) unregister(client *Client) {
	client.shutdown()

	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	total := len(h.clients)
	observer := h.observer
	h.mu.Unlock()

	h.metrics.ClientDisconnected()
	h.logger.Info("クライアントが切断しました",
		zap.String("client_id", client.id),
		zap.Uint64("sent", client.sent.Load()),
		zap.Uint64("dropped", client.dropped.Load()),
		zap.Int("total", total))

	if observer != nil {
		observer.ClientRemoved()
	}
}

// Broadcast はフレームを配信可能な全クライアントのキューに積む。ブロックしない
func (h *Hub) Broadcast(frame mjpeg.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.IsOpen() {
			continue
		}
		if !client.enqueue(frame) {
			h.metrics.FrameDropped()
		}
	}
}

// ClientCount は登録中のクライアント数を返す
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients は登録中のクライアントの状態を接続順に返す
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, client := range h.clients {
		infos = append(infos, client.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Close は全クライアントの送信を止め、以降の接続を拒否する
//
// 各接続の切断処理は ServeHTTP 側で行われる。
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, client := range h.clients {
		client.shutdown()
	}
	h.logger.Info("全クライアントの送信を停止しました", zap.Int("clients", len(h.clients)))
	return nil
}
