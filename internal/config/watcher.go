package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce は連続した書き込みをまとめる間隔
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher は設定ファイルの変更を監視し、再読み込みした設定を通知する
type Watcher struct {
	path      string
	debounce  time.Duration
	onChange  func(*Config)
	overrides []Override
	logger    *zap.Logger

	ready chan struct{}
}

// NewWatcher は path を監視する Watcher を作成する
// 再読み込みのたびに overrides を適用する
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config), overrides ...Override) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:      filepath.Clean(path),
		debounce:  DefaultReloadDebounce,
		onChange:  onChange,
		overrides: overrides,
		logger:    logger.With(zap.String("component", "config_watcher")),
		ready:     make(chan struct{}),
	}
}

// Run は ctx がキャンセルされるまで監視を続ける
//
// エディタの置き換え保存に対応するため、ファイルではなくディレクトリを監視する。
func (w *Watcher) Run(ctx context.Context) error {
	// Run が戻った後に発火したタイマーを無効にする
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("設定ファイルの監視に失敗 (%s): %w", w.path, err)
	}
	close(w.ready)
	w.logger.Info("設定ファイルの監視を開始しました", zap.String("path", w.path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("ファイル監視でエラーが発生しました", zap.Error(err))
		}
	}
}

// reload は設定を読み直して通知する。Run の終了後に発火したタイマーでは何もしない
func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := LoadFile(w.path, w.overrides...)
	if err != nil {
		// 書きかけのファイルなどは無視し、現在の設定を使い続ける
		w.logger.Warn("設定ファイルの再読み込みに失敗しました", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		return
	}
	w.logger.Info("設定ファイルを再読み込みしました", zap.String("path", w.path))
	w.onChange(cfg)
}
