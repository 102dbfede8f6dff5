// Package hub は WebSocket クライアントの集合を管理し、フレームを配信する。
//
// # 責務
//   - WebSocket 接続の受け入れと登録・削除
//   - 接続・切断の Observer への通知（上流の開始・停止のきっかけ）
//   - フレームの全クライアントへの配信（1フレーム = 1バイナリメッセージ）
//
// # 仕様
//   - Broadcast はブロックしない。送信キューが満杯のクライアントにはそのフレームを送らない
//   - 1クライアントの送信失敗は他のクライアントや上流に影響しない
//   - 途中から接続したクライアントは接続後のフレームだけを受け取る
//   - Observer はロックを持たない状態で呼び出す
package hub
