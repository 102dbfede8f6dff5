// Package server は、HTTPサーバーとWebSocket接続の受け付けを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// WebSocket接続の Hub への引き渡し、状態確認エンドポイントを担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - WebSocket アップグレード要求の Hub への引き渡し（パスは問わない）
//   - 稼働確認テキスト、/health、/api/status、/metrics の応答
//   - リクエストログとパニックからの復帰
//
// 仕様:
//   - ルーティングには gin を使用
//   - WebSocket 以外の未定義パスには稼働確認テキストを返す
//   - シャットダウン時は先に全クライアントの送信を止める
package server
