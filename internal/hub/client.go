package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"mjpegrelay/internal/mjpeg"
)

// ClientInfo はクライアントの状態
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        uint64    `json:"sent"`
	Dropped     uint64    `json:"dropped"`
}

// Client は1つの WebSocket 接続
type Client struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	conn        *websocket.Conn

	queue chan mjpeg.Frame
	done  chan struct{}
	once  sync.Once
	open  atomic.Bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newClient(id, remoteAddr string, conn *websocket.Conn, queueSize int) *Client {
	c := &Client{
		id:          id,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		conn:        conn,
		queue:       make(chan mjpeg.Frame, queueSize),
		done:        make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// ID はクライアント ID を返す
func (c *Client) ID() string {
	return c.id
}

// IsOpen は配信可能な状態かを返す
func (c *Client) IsOpen() bool {
	return c.open.Load()
}

// enqueue はフレームを送信キューに積む。満杯なら false
func (c *Client) enqueue(frame mjpeg.Frame) bool {
	select {
	case c.queue <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// shutdown は送信ループを止める。何度呼んでもよい
func (c *Client) shutdown() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
}

// Info は現在の状態を返す
func (c *Client) Info() ClientInfo {
	return ClientInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		Sent:        c.sent.Load(),
		Dropped:     c.dropped.Load(),
	}
}
