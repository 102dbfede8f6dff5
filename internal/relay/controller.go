package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"mjpegrelay/internal/metrics"
	"mjpegrelay/internal/mjpeg"
)

// 既定値
const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 5 * time.Second
)

// State は上流接続の状態を表す
type State string

const (
	StateIdle           State = "idle"            // 接続していない
	StateConnecting     State = "connecting"      // 応答待ち
	StateStreaming      State = "streaming"       // フレーム受信中
	StateRetryScheduled State = "retry_scheduled" // 再接続待ち
)

// Doer は上流への HTTP リクエストを実行する（*http.Client が満たす）
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Broadcaster はフレームを全クライアントへ配信する
type Broadcaster interface {
	Broadcast(frame mjpeg.Frame)
}

// ClientCounter は現在接続しているクライアント数を返す
type ClientCounter interface {
	ClientCount() int
}

// Options は Controller の設定
type Options struct {
	URL         string        // 上流のベース URL（action=stream は自動で付与）
	Client      Doer          // nil の場合は http.DefaultClient
	Broadcaster Broadcaster   // 必須
	Clients     ClientCounter // 必須
	Timeout     time.Duration // 無通信タイムアウト
	RetryDelay  time.Duration // 再接続までの待ち時間
	MaxBuffer   int           // Demuxer のバッファ上限（0 で無制限）
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// Stats は Controller の状態のスナップショット
type Stats struct {
	State       State     `json:"state"`
	URL         string    `json:"url"`
	Attempts    uint64    `json:"attempts"`
	Frames      uint64    `json:"frames"`
	LastFrameAt time.Time `json:"last_frame_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	LastClass   string    `json:"last_error_class,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitzero"`
}

// Controller は上流ストリームへの唯一の接続を管理する
type Controller struct {
	mu        sync.Mutex
	state     State
	streamURL string

	// generation は接続試行ごとに増える。Stop でも増やし、古い試行を無効化する
	generation uint64
	cancel     context.CancelCauseFunc
	done       chan struct{}
	retry      *time.Timer

	stats Stats

	client      Doer
	broadcaster Broadcaster
	clients     ClientCounter
	timeout     time.Duration
	retryDelay  time.Duration
	maxBuffer   int
	logger      *zap.Logger
	metrics     *metrics.Collector

	// テストで差し替える
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewController は新しい Controller を作成する
func NewController(opts Options) (*Controller, error) {
	if opts.Broadcaster == nil {
		return nil, errors.New("Broadcaster が指定されていません")
	}
	if opts.Clients == nil {
		return nil, errors.New("ClientCounter が指定されていません")
	}

	streamURL, err := StreamURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("上流 URL が無効: %w", err)
	}

	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Controller{
		state:       StateIdle,
		streamURL:   streamURL,
		client:      opts.Client,
		broadcaster: opts.Broadcaster,
		clients:     opts.Clients,
		timeout:     opts.Timeout,
		retryDelay:  opts.RetryDelay,
		maxBuffer:   opts.MaxBuffer,
		logger:      opts.Logger.With(zap.String("component", "upstream")),
		metrics:     opts.Metrics,
		afterFunc:   time.AfterFunc,
	}
	c.metrics.SetState(string(StateIdle))

	return c, nil
}

// Start は上流への接続を開始する。Idle 以外では何もしない
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.logger.Debug("上流ストリームは既に動作中です", zap.String("state", string(c.state)))
		return
	}

	c.connectLocked()
}

// Stop は上流への接続を停止する。Idle では何もしない
//
// 再試行タイマーと進行中の読み込みを取り消し、接続の後始末が終わるまで待つ。
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	done := c.haltLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.logger.Info("上流ストリームを停止しました", zap.String("url", c.URL()))
}

// Close は Stop と同じ。シャットダウン時に使う
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// SetURL は上流のベース URL を変更する
//
// 接続中であれば切断し、クライアントがいる場合は新しい URL で接続し直す。
func (c *Controller) SetURL(base string) error {
	streamURL, err := StreamURL(base)
	if err != nil {
		return fmt.Errorf("上流 URL が無効: %w", err)
	}

	c.mu.Lock()
	if streamURL == c.streamURL {
		c.mu.Unlock()
		return nil
	}
	c.logger.Info("上流 URL を変更します",
		zap.String("from", c.streamURL),
		zap.String("to", streamURL))
	c.streamURL = streamURL

	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	done := c.haltLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle && c.clients.ClientCount() > 0 {
		c.connectLocked()
	}
	return nil
}

// State は現在の状態を返す
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL は現在のストリーム URL を返す
func (c *Controller) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamURL
}

// Snapshot は現在の統計情報を返す
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.State = c.state
	stats.URL = c.streamURL
	return stats
}

// setStateLocked は状態を変更する（ロック済み前提）
func (c *Controller) setStateLocked(state State) {
	c.state = state
	c.metrics.SetState(string(state))
}

// connectLocked は新しい接続試行を開始する（ロック済み前提）
func (c *Controller) connectLocked() {
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})

	c.cancel = cancel
	c.done = done
	c.retry = nil
	c.stats.Attempts++
	c.setStateLocked(StateConnecting)

	streamURL := c.streamURL
	c.logger.Info("上流ストリームに接続します", zap.String("url", streamURL))

	go func() {
		defer close(done)
		defer cancel(nil)

		err := c.run(ctx, cancel, gen, streamURL)
		c.finish(gen, streamURL, err)
	}()
}

// haltLocked は現在の試行と再試行タイマーを取り消して Idle に戻す（ロック済み前提）
//
// 後始末の完了を待つためのチャネルを返す。
func (c *Controller) haltLocked() <-chan struct{} {
	c.generation++

	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancel != nil {
		c.cancel(errStopped)
		c.cancel = nil
	}

	done := c.done
	c.done = nil
	c.setStateLocked(StateIdle)

	return done
}

// run は1回分の接続を実行し、終了理由を返す
func (c *Controller) run(ctx context.Context, cancel context.CancelCauseFunc, gen uint64, streamURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("%w: リクエストの作成に失敗: %w", ErrUpstreamUnreachable, err)
	}

	dog := newWatchdog(c.timeout, func() { cancel(ErrTimeout) })
	defer dog.stop()

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	dog.kick()

	contentType := resp.Header.Get("Content-Type")
	c.logger.Info("上流から応答を受信しました",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", contentType))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ステータス %d", ErrUpstreamRejected, resp.StatusCode)
	}

	boundary, err := mjpeg.ParseBoundary(contentType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
	}

	if !c.markStreaming(gen, boundary) {
		return nil
	}

	body := &watchedReader{r: resp.Body, dog: dog, onRead: c.metrics.RecordUpstreamBytes}
	for frame, err := range mjpeg.Frames(body, boundary, c.maxBuffer) {
		if err != nil {
			if errors.Is(err, mjpeg.ErrBufferOverflow) {
				return fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
			}
			return c.transportError(ctx, err)
		}
		if !c.deliver(gen, frame) {
			return nil
		}
	}

	if cause := context.Cause(ctx); cause != nil {
		return c.transportError(ctx, cause)
	}
	return ErrStreamEnded
}

// transportError は通信エラーを分類する。タイムアウトによる取り消しは ErrTimeout を含める
func (c *Controller) transportError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnreachable, ErrTimeout)
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
}

// markStreaming は Streaming に遷移する。既に取り消された試行なら false
func (c *Controller) markStreaming(gen uint64, boundary mjpeg.Boundary) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return false
	}

	c.setStateLocked(StateStreaming)
	c.metrics.RecordAttempt("connected")
	c.logger.Info("上流ストリームの受信を開始しました", zap.String("boundary", boundary.String()))
	return true
}

// deliver はフレームを配信する。既に取り消された試行なら配信せず false
//
// 世代の確認と配信を同じロック内で行うため、Stop の後に古いフレームが届くことはない。
func (c *Controller) deliver(gen uint64, frame mjpeg.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.state != StateStreaming {
		return false
	}

	c.stats.Frames++
	c.stats.LastFrameAt = time.Now()
	c.metrics.RecordFrame(len(frame))
	c.broadcaster.Broadcast(frame)
	return true
}

// finish は試行の終了を処理し、必要なら再接続を予約する
func (c *Controller) finish(gen uint64, streamURL string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Stop や URL 変更で取り消された試行
	if c.generation != gen {
		return
	}

	c.cancel = nil
	c.done = nil
	c.setStateLocked(StateIdle)

	class := Classify(err)
	c.stats.LastError = err.Error()
	c.stats.LastClass = class
	c.stats.LastErrorAt = time.Now()
	c.metrics.RecordAttempt(class)

	fields := []zap.Field{
		zap.String("url", streamURL),
		zap.String("class", class),
		zap.Error(err),
	}
	switch class {
	case ClassEnded:
		c.logger.Info("上流ストリームが終了しました", fields...)
	case ClassProtocolMismatch:
		c.logger.Error("上流の応答から M-JPEG の boundary を取得できませんでした。"+
			"URL またはポートが誤っている可能性があります。"+
			"通常の Web ページではなく M-JPEG ストリームを指しているか確認してください", fields...)
	default:
		c.logger.Error("上流ストリームの取得に失敗しました", fields...)
	}

	clients := c.clients.ClientCount()
	if clients == 0 {
		c.logger.Info("クライアントがいないため再接続しません")
		return
	}

	c.setStateLocked(StateRetryScheduled)
	c.retry = c.afterFunc(c.retryDelay, func() { c.retryFired(gen) })
	c.logger.Info("再接続を予約しました",
		zap.Duration("delay", c.retryDelay),
		zap.Int("clients", clients))
}

// retryFired は予約した再接続を実行する
func (c *Controller) retryFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.state != StateRetryScheduled {
		return
	}

	c.setStateLocked(StateIdle)
	c.connectLocked()
}
