package relay

import (
	"errors"

	"mjpegrelay/internal/mjpeg"
)

// 上流接続の失敗分類。いずれも致命的ではなく、需要があれば再試行する
var (
	// ErrUpstreamUnreachable は接続エラー・通信エラー・タイムアウト
	ErrUpstreamUnreachable = errors.New("上流に接続できません")
	// ErrUpstreamRejected は 200 以外のステータス
	ErrUpstreamRejected = errors.New("上流がエラーを返しました")
	// ErrProtocolMismatch は 200 だが M-JPEG ストリームではない応答
	ErrProtocolMismatch = errors.New("上流の応答が M-JPEG ストリームではありません")
	// ErrStreamEnded は上流が正常に切断したこと
	ErrStreamEnded = errors.New("上流ストリームが終了しました")
	// ErrTimeout は接続・受信の無通信タイムアウト
	ErrTimeout = errors.New("上流の応答がタイムアウトしました")
)

// errStopped は Stop による取り消しを表す
var errStopped = errors.New("停止要求により切断しました")

// 失敗分類のラベル（ログとメトリクスで使用）
const (
	ClassUnreachable      = "unreachable"
	ClassRejected         = "rejected"
	ClassProtocolMismatch = "protocol_mismatch"
	ClassEnded            = "ended"
	ClassUnknown          = "unknown"
)

// Classify はエラーを失敗分類のラベルに変換する
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProtocolMismatch),
		errors.Is(err, mjpeg.ErrNoBoundary),
		errors.Is(err, mjpeg.ErrBufferOverflow):
		return ClassProtocolMismatch
	case errors.Is(err, ErrUpstreamRejected):
		return ClassRejected
	case errors.Is(err, ErrStreamEnded):
		return ClassEnded
	case errors.Is(err, ErrUpstreamUnreachable), errors.Is(err, ErrTimeout):
		return ClassUnreachable
	default:
		return ClassUnknown
	}
}
