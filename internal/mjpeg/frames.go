package mjpeg

import (
	"errors"
	"io"
	"iter"
)

// ChunkSize は Frames が1回に読み込むバイト数
const ChunkSize = 32 << 10

// Frames は r から読み込んだストリームのフレームを順に返すシーケンスを作る
//
// 呼び出すたびに新しい Demuxer を使う。読み込みエラーやバッファ超過は
// (nil, err) として1度だけ渡され、そこで終了する。io.EOF は正常終了として扱う。
func Frames(r io.Reader, boundary Boundary, maxBuffer int) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		demuxer := NewDemuxer(boundary, maxBuffer)
		chunk := make([]byte, ChunkSize)

		for {
			n, readErr := r.Read(chunk)
			if n > 0 {
				frames, err := demuxer.Feed(chunk[:n])
				for _, frame := range frames {
					if !yield(frame, nil) {
						return
					}
				}
				if err != nil {
					yield(nil, err)
					return
				}
			}

			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					yield(nil, readErr)
				}
				return
			}
		}
	}
}
