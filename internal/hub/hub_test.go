package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mjpegrelay/internal/metrics"
	"mjpegrelay/internal/mjpeg"
)

type countingObserver struct {
	added   atomic.Int32
	removed atomic.Int32
}

func (o *countingObserver) ClientAdded()   { o.added.Add(1) }
func (o *countingObserver) ClientRemoved() { o.removed.Add(1) }

// addTestClient は接続を持たないクライアントを直接登録する
func addTestClient(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := newClient(id, "test", nil, h.queueSize)
	require.True(t, h.register(c))
	return c
}

func TestNew_Defaults(t *testing.T) {
	h := New(Options{})

	assert.Equal(t, DefaultQueueSize, h.queueSize)
	assert.Equal(t, DefaultWriteTimeout, h.writeTimeout)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", registry, nil)
	h := New(Options{QueueSize: 2, Metrics: collector})
	c := addTestClient(t, h, "a")

	for i := range 5 {
		h.Broadcast(mjpeg.Frame{0xFF, 0xD8, byte(i)})
	}

	assert.Len(t, c.queue, 2)
	assert.Equal(t, uint64(3), c.Info().Dropped)
	expected := `
# HELP test_frames_dropped_total Frames skipped because a client send queue was full
# TYPE test_frames_dropped_total counter
test_frames_dropped_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_frames_dropped_total"))

	// 古いフレームから順に残っている
	assert.Equal(t, mjpeg.Frame{0xFF, 0xD8, 0}, <-c.queue)
	assert.Equal(t, mjpeg.Frame{0xFF, 0xD8, 1}, <-c.queue)
}

func TestHub_BroadcastSkipsClosedClients(t *testing.T) {
	h := New(Options{})
	open := addTestClient(t, h, "open")
	closed := addTestClient(t, h, "closed")
	closed.shutdown()

	h.Broadcast(mjpeg.Frame{0xFF, 0xD8})

	assert.Len(t, open.queue, 1)
	assert.Len(t, closed.queue, 0)
	assert.Equal(t, uint64(0), closed.Info().Dropped)
}

func TestHub_SlowClientDoesNotAffectOthers(t *testing.T) {
	h := New(Options{QueueSize: 1})
	slow := addTestClient(t, h, "slow")
	fast := addTestClient(t, h, "fast")

	h.Broadcast(mjpeg.Frame{0xFF, 0xD8, 1})
	<-fast.queue
	h.Broadcast(mjpeg.Frame{0xFF, 0xD8, 2})

	assert.Equal(t, mjpeg.Frame{0xFF, 0xD8, 2}, <-fast.queue)
	assert.Equal(t, uint64(1), slow.Info().Dropped)
	assert.Equal(t, uint64(0), fast.Info().Dropped)
}

func TestHub_ObserverNotifiedOncePerClient(t *testing.T) {
	h := New(Options{})
	obs := &countingObserver{}
	h.SetObserver(obs)

	a := addTestClient(t, h, "a")
	b := addTestClient(t, h, "b")
	assert.Equal(t, int32(2), obs.added.Load())
	assert.Equal(t, 2, h.ClientCount())

	h.unregister(a)
	h.unregister(a) // 2回目は無視される
	h.unregister(b)

	assert.Equal(t, int32(2), obs.removed.Load())
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_ObserverMayCallBack(t *testing.T) {
	// Observer から Hub を呼んでもデッドロックしない
	h := New(Options{})
	var seen atomic.Int32
	h.SetObserver(observerFunc(func() {
		seen.Store(int32(h.ClientCount()))
	}))

	addTestClient(t, h, "a")
	assert.Equal(t, int32(1), seen.Load())
}

type observerFunc func()

func (f observerFunc) ClientAdded()   { f() }
func (f observerFunc) ClientRemoved() { f() }

func TestHub_CloseRejectsNewClients(t *testing.T) {
	h := New(Options{})
	c := addTestClient(t, h, "a")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.False(t, c.IsOpen())
	assert.False(t, h.register(newClient("b", "test", nil, 1)))
}

func TestHub_ClientsSortedByConnectTime(t *testing.T) {
	h := New(Options{})
	first := addTestClient(t, h, "first")
	first.connectedAt = time.Now().Add(-time.Minute)
	addTestClient(t, h, "second")

	infos := h.Clients()
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].ID)
	assert.Equal(t, "second", infos[1].ID)
}

func TestHub_ServeHTTPDeliversBinaryFrames(t *testing.T) {
	obs := &countingObserver{}
	h := New(Options{OriginPatterns: []string{"*"}})
	h.SetObserver(obs)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/any/path"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	frames := []mjpeg.Frame{
		{0xFF, 0xD8, 0x01, 0xFF, 0xD9},
		{0xFF, 0xD8, 0x02, 0xFF, 0xD9},
	}
	for _, f := range frames {
		h.Broadcast(f)
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageBinary, typ)
		assert.Equal(t, []byte(f), data)
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), obs.added.Load())
	assert.Equal(t, int32(1), obs.removed.Load())
}

func TestHub_ServeHTTPRejectsPlainRequest(t *testing.T) {
	h := New(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.GreaterOrEqual(t, resp.StatusCode, 400)
	assert.Equal(t, 0, h.ClientCount())
}
