// Package relay は上流 M-JPEG ストリームへの接続ライフサイクルを管理する。
//
// # 責務
//   - 上流への単一の HTTP 接続の開始・停止（Controller）
//   - タイムアウトと固定間隔での再接続
//   - 受信バイト列を mjpeg.Demuxer に渡し、得られたフレームを Broadcaster へ渡す
//   - クライアント数の 0↔1 の変化に応じた開始・停止（DemandTracker）
//
// # 状態遷移
//
//	Idle → Connecting → Streaming → (RetryScheduled → Connecting)* → Idle
//
// # 仕様
//   - 上流 URL には action=stream クエリを付与する
//   - 接続・受信が 10 秒途絶えたらタイムアウトとして扱う
//   - 失敗時はクライアントが残っている場合のみ 5 秒後に1回だけ再試行する
//   - Stop は進行中の読み込みと再試行タイマーを取り消し、接続の解放を待つ
//   - Stop 後に古い接続から得たフレームは配信しない
//
// ロックの取得順は DemandTracker → Controller → Broadcaster/ClientCounter。
package relay
