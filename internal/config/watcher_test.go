package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string) <-chan *Config {
	t.Helper()

	changes := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(cfg *Config) { changes <- cfg })
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("監視の終了でエラーが発生しました: %v", err)
		}
	})

	select {
	case <-w.ready:
	case err := <-errCh:
		t.Fatalf("監視の開始に失敗しました: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("監視の開始がタイムアウトしました")
	}
	return changes
}

// TestWatcherReload は設定ファイルの変更で再読み込みされることをテストする
func TestWatcherReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "upstream:\n  url: http://first.example\n")

	changes := startWatcher(t, path)

	writeFile(t, dir, "upstream:\n  url: http://second.example\n")

	select {
	case cfg := <-changes:
		if cfg.Upstream.URL != "http://second.example" {
			t.Errorf("再読み込みした URL が一致しません: got %s", cfg.Upstream.URL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("再読み込みが通知されませんでした")
	}
}

// TestWatcherIgnoresInvalidFile は不正な内容では通知しないことをテストする
func TestWatcherIgnoresInvalidFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "upstream:\n  url: http://first.example\n")

	changes := startWatcher(t, path)

	// 同じディレクトリの別ファイルは対象外
	if err := os.WriteFile(dir+"/other.yaml", []byte("x: 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "upstream:\n  url: \"\"\n")

	select {
	case cfg := <-changes:
		t.Fatalf("不正な設定が通知されました: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "upstream:\n  url: http://fixed.example\n")

	select {
	case cfg := <-changes:
		if cfg.Upstream.URL != "http://fixed.example" {
			t.Errorf("再読み込みした URL が一致しません: got %s", cfg.Upstream.URL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("再読み込みが通知されませんでした")
	}
}

// TestWatcherReloadAfterStop は監視の終了後に発火した再読み込みが通知しないことをテストする
func TestWatcherReloadAfterStop(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "upstream:\n  url: http://late.example\n")

	called := false
	w := NewWatcher(path, nil, func(*Config) { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	w.reload(ctx)
	if !called {
		t.Fatal("監視中の再読み込みが通知されませんでした")
	}

	called = false
	cancel()
	w.reload(ctx)
	if called {
		t.Error("監視の終了後に再読み込みが通知されました")
	}
}
