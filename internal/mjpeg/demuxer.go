package mjpeg

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrBufferOverflow は境界が見つからないままバッファ上限を超えたことを表す
var ErrBufferOverflow = errors.New("ストリームバッファが上限を超えました")

// DefaultMaxBuffer は未消費バッファの既定上限 (8MiB)
const DefaultMaxBuffer = 8 << 20

// soiMarker は JPEG の開始マーカー
var soiMarker = []byte{0xFF, 0xD8}

// Frame は1枚分の JPEG データ。SOI マーカーから始まる
type Frame []byte

// Demuxer は受信バイト列を境界トークンで分割してフレームを取り出す
//
// 1回の上流接続につき1つ作る。並行利用は想定しない。
type Demuxer struct {
	boundary  Boundary
	maxBuffer int

	buf []byte
	// scanned は buf の先頭から境界が無いと確認済みのバイト数
	scanned int
}

// NewDemuxer は新しい Demuxer を作成する。maxBuffer が 0 以下なら上限なし
func NewDemuxer(boundary Boundary, maxBuffer int) *Demuxer {
	return &Demuxer{
		boundary:  boundary,
		maxBuffer: maxBuffer,
	}
}

// Feed はチャンクを追加し、完成したフレームを検出順に返す
//
// 上限超過時も、それまでに取り出せたフレームは返す。
func (d *Demuxer) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	rest := d.buf
	for {
		from := d.scanned - (len(d.boundary) - 1)
		if from < 0 {
			from = 0
		}

		idx := bytes.Index(rest[from:], d.boundary)
		if idx < 0 {
			d.scanned = len(rest)
			break
		}
		idx += from

		segment := rest[:idx]
		rest = rest[idx+len(d.boundary):]
		d.scanned = 0

		if frame := extractFrame(segment); frame != nil {
			frames = append(frames, frame)
		}
	}

	// 消費済みの先頭を捨てる
	if consumed := len(d.buf) - len(rest); consumed > 0 {
		d.buf = append(d.buf[:0], rest...)
	}

	if d.maxBuffer > 0 && len(d.buf) > d.maxBuffer {
		return frames, fmt.Errorf("%d バイト (上限 %d): %w", len(d.buf), d.maxBuffer, ErrBufferOverflow)
	}

	return frames, nil
}

// Buffered は未消費のバイト数を返す
func (d *Demuxer) Buffered() int {
	return len(d.buf)
}

// extractFrame はパートから SOI 以降を複製して返す。SOI が無ければ nil
func extractFrame(segment []byte) Frame {
	if len(segment) == 0 {
		return nil
	}

	start := bytes.Index(segment, soiMarker)
	if start < 0 {
		return nil
	}

	return Frame(bytes.Clone(segment[start:]))
}
