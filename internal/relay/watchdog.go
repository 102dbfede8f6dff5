package relay

import (
	"io"
	"time"
)

// watchdog は一定時間通信が無ければ onTimeout を呼ぶ
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
}

func newWatchdog(timeout time.Duration, onTimeout func()) *watchdog {
	if timeout <= 0 {
		return &watchdog{}
	}
	return &watchdog{
		timer:   time.AfterFunc(timeout, onTimeout),
		timeout: timeout,
	}
}

// kick はタイマーを延長する
func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

// watchedReader は読み込みのたびに watchdog を延長する
type watchedReader struct {
	r      io.Reader
	dog    *watchdog
	onRead func(n int)
}

func (r *watchedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.dog.kick()
		if r.onRead != nil {
			r.onRead(n)
		}
	}
	return n, err
}
