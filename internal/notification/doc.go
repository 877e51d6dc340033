// Package notification はケースに関する通知の生成・配信・既読管理を提供する。
//
// ドメインイベント1件を通知1件に変換し、宛先（Audience）を解決して受信者ごとの行に展開する。
// 受信者ごとに既読・却下・削除の状態を持ち、未読数をカテゴリ別とサポート状態別に集計する。
// メール配信は受信者のメール配信設定で絞り込み、通知の保存後に非同期で行う。
//
// 構成要素:
//   - Resolver: 宛先カテゴリからユーザーIDの集合を解決する
//   - Store: 通知と受信者行の永続化、却下・削除・既読化
//   - Aggregator: 未読数の集計
//   - Gate: メール配信設定の参照と更新
//   - Service: 上記を組み合わせた操作の入口
//   - Trigger: ドメインイベントを通知の生成に対応付ける
//   - Server: HTTP API
package notification
