// Package mjpeg は multipart/x-mixed-replace 形式の M-JPEG ストリームを
// JPEG フレーム単位に分割する。
//
// # 責務
//   - Content-Type ヘッダーからの境界トークン（Boundary）の取得
//   - 受信したバイト列の蓄積と境界トークンによる分割
//   - 各パートから JPEG 開始マーカー（SOI: 0xFFD8）以降をフレームとして取り出す
//
// # 仕様
//   - 境界トークンはチャンクをまたいでいても検出される（蓄積済みバッファ上で検索するため）
//   - SOI を含まないパート（プリアンブル等）は黙って捨てる
//   - Demuxer は接続ごとに新しく作り、再接続をまたいで状態を持ち越さない
//   - バッファ上限を超えた場合は ErrBufferOverflow を返す
//   - JPEG の中身は検証しない
package mjpeg
