// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// イベントストアからのイベント取得、外部メール送信サービスへの送信依頼など、
// 外部サービスとのJSON通信パターンを統一する。内部実装にはrestyを使用する。
package httpclient
