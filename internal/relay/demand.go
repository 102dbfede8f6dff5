package relay

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Lifecycle は需要に応じて開始・停止されるもの（Controller が満たす）
type Lifecycle interface {
	Start()
	Stop()
}

// DemandTracker はクライアントの接続・切断を数え、0↔1 の変化で Lifecycle を開始・停止する
//
// Start/Stop は mu を持ったまま呼ぶ。ロックの外で呼ぶと、切断直後の接続で
// Start が先に走り、遅れた Stop が需要のある上流を止めてしまう。
// Stop は取り消し済みの取得ゴルーチンの終了を待つだけなので、その間の
// ClientAdded の待ちは短い。ロック順は DemandTracker.mu → Controller.mu → Hub.mu。
type DemandTracker struct {
	mu        sync.Mutex
	count     atomic.Int64
	lifecycle Lifecycle
	logger    *zap.Logger
}

// NewDemandTracker は新しい DemandTracker を作成する
func NewDemandTracker(lifecycle Lifecycle, logger *zap.Logger) *DemandTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DemandTracker{
		lifecycle: lifecycle,
		logger:    logger.With(zap.String("component", "demand")),
	}
}

// ClientAdded はクライアントの接続を通知する
func (d *DemandTracker) ClientAdded() {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.count.Add(1)
	if n == 1 {
		d.logger.Info("最初のクライアントが接続したため上流ストリームを開始します")
		d.lifecycle.Start()
	}
}

// ClientRemoved はクライアントの切断を通知する
func (d *DemandTracker) ClientRemoved() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count.Load() == 0 {
		d.logger.Warn("接続数が 0 の状態で切断が通知されました")
		return
	}

	n := d.count.Add(-1)
	if n == 0 {
		d.logger.Info("最後のクライアントが切断したため上流ストリームを停止します")
		d.lifecycle.Stop()
	}
}

// Count は現在の需要（クライアント数）を返す。ロックを取らない
func (d *DemandTracker) Count() int {
	return int(d.count.Load())
}
