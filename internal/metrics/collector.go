// Package metrics はリレーの Prometheus メトリクスを収集する。
//
// すべてのメソッドは nil レシーバーでも安全に呼べる（メトリクス無効時）。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultNamespace はメトリクス名の既定プレフィックス
const DefaultNamespace = "mjpegrelay"

// Collector はリレー全体のメトリクス
type Collector struct {
	registry *prometheus.Registry

	// 上流
	upstreamAttempts *prometheus.CounterVec
	upstreamBytes    prometheus.Counter
	upstreamState    *prometheus.GaugeVec

	// フレーム
	framesTotal prometheus.Counter
	frameBytes  prometheus.Histogram

	// クライアント
	clientsConnected prometheus.Gauge
	framesSent       prometheus.Counter
	framesDropped    prometheus.Counter

	mu        sync.Mutex
	lastState string

	logger *zap.Logger
}

// NewCollector はメトリクスを registry に登録して返す。registry が nil なら新規に作る
func NewCollector(namespace string, registry *prometheus.Registry, logger *zap.Logger) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	factory := promauto.With(registry)
	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.upstreamAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream connection attempts by outcome",
		},
		[]string{"result"},
	)

	c.upstreamBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_bytes_total",
		Help:      "Bytes received from the upstream stream",
	})

	c.upstreamState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_state",
			Help:      "Current upstream connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	c.framesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "JPEG frames demultiplexed from the upstream stream",
	})

	c.frameBytes = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_size_bytes",
		Help:      "Size of demultiplexed JPEG frames",
		Buckets:   prometheus.ExponentialBuckets(4096, 2, 10),
	})

	c.clientsConnected = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients_connected",
		Help:      "WebSocket clients currently connected",
	})

	c.framesSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sent_total",
		Help:      "Frames written to WebSocket clients",
	})

	c.framesDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames skipped because a client send queue was full",
	})

	return c
}

// Handler は /metrics 用のハンドラーを返す
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAttempt は上流接続の結果を記録する
func (c *Collector) RecordAttempt(result string) {
	if c == nil {
		return
	}
	c.upstreamAttempts.WithLabelValues(result).Inc()
}

// RecordUpstreamBytes は上流から受信したバイト数を加算する
func (c *Collector) RecordUpstreamBytes(n int) {
	if c == nil {
		return
	}
	c.upstreamBytes.Add(float64(n))
}

// SetState は上流接続の状態を切り替える
func (c *Collector) SetState(state string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastState != "" && c.lastState != state {
		c.upstreamState.WithLabelValues(c.lastState).Set(0)
	}
	c.upstreamState.WithLabelValues(state).Set(1)
	c.lastState = state
}

// RecordFrame は分割したフレームを記録する
func (c *Collector) RecordFrame(size int) {
	if c == nil {
		return
	}
	c.framesTotal.Inc()
	c.frameBytes.Observe(float64(size))
}

// ClientConnected はクライアント数を1増やす
func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.clientsConnected.Inc()
}

// ClientDisconnected はクライアント数を1減らす
func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.clientsConnected.Dec()
}

// FrameSent はクライアントへの送信成功を記録する
func (c *Collector) FrameSent() {
	if c == nil {
		return
	}
	c.framesSent.Inc()
}

// FrameDropped は送信キュー満杯による破棄を記録する
func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Inc()
}
