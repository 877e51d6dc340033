// Package dispatch は通知メールの送信方式を提供する。
//
// 送信方式は設定の email.driver で選択する。
//   - log: 送信内容をログに出力する（開発用）
//   - http: メール送信サービスのHTTP APIに依頼する
//   - kafka: 受信者ごとのメール送信ジョブをKafkaトピックに発行する
//   - smtp: MIMEメッセージを組み立ててSMTPサーバーに送信する
//
// いずれも受信者ごとの結果を返す。再送は行わない。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/caseflow/pkg/mq"
)

// Status は受信者ごとの送信結果。
type Status string

const (
	// StatusSent は送信（または送信依頼）に成功したことを表す。
	StatusSent Status = "SENT"
	// StatusFailed は送信に失敗したことを表す。
	StatusFailed Status = "FAILED"
)

// Result は受信者1人分の送信結果。
type Result struct {
	// RecipientID は受信者のユーザーID。
	RecipientID string `json:"recipient_id"`
	// Status は送信結果。
	Status Status `json:"status"`
	// Error は失敗理由。成功した場合は空。
	Error string `json:"error,omitempty"`
}

// Dispatcher はメール送信方式の共通インターフェース。
type Dispatcher interface {
	// Send はテンプレートキーとテンプレート変数でrecipientIDsにメールを送る。
	Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]Result, error)
	// Close は送信方式が保持する接続を閉じる。
	Close() error
}

// Config は送信方式の生成に必要な設定。
type Config struct {
	// Driver は送信方式（log, http, kafka, smtp）。
	Driver string
	// ServiceURL はhttp方式の送信先ベースURL。
	ServiceURL string
	// ServiceAPIKey はhttp方式のAPIキー。
	ServiceAPIKey string
	// Brokers はkafka方式のブローカー。
	Brokers []string
	// Topic はkafka方式のトピック。
	Topic string
	// SMTP はsmtp方式の設定。
	SMTP SMTPConfig
}

// New は設定に応じた送信方式を生成する。
// smtp方式ではbookでユーザーIDからメールアドレスを解決する。
func New(cfg Config, book AddressBook, logger *slog.Logger) (Dispatcher, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogDispatcher(logger), nil
	case "http":
		return NewHTTPDispatcher(cfg.ServiceURL, cfg.ServiceAPIKey), nil
	case "kafka":
		return NewKafkaDispatcher(mq.NewWriter(cfg.Brokers, cfg.Topic)), nil
	case "smtp":
		return NewSMTPDispatcher(cfg.SMTP, book), nil
	default:
		return nil, fmt.Errorf("メール送信方式が不正です: %q", cfg.Driver)
	}
}

// allWith は全受信者に同じ結果を設定する。
func allWith(recipientIDs []string, status Status, reason string) []Result {
	results := make([]Result, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		results = append(results, Result{RecipientID: id, Status: status, Error: reason})
	}
	return results
}
