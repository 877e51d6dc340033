package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
)

// AddressBook はユーザーIDからメールアドレスを解決する。
// casedata.Reader が実装する。
type AddressBook interface {
	EmailsOf(ctx context.Context, userIDs []string) (map[string]string, error)
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	// Host はSMTPサーバーのホスト名。
	Host string
	// Port はSMTPサーバーのポート番号。
	Port int
	// Username は認証ユーザー名。空の場合は認証しない。
	Username string
	// Password は認証パスワード。
	Password string
	// From は送信元アドレス。
	From string
}

// sendMailFunc はSMTPでメッセージを送信する関数。net/smtp.SendMailと同じシグネチャ。
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher はMIMEメッセージを組み立ててSMTPサーバーに送信する。
type SMTPDispatcher struct {
	// cfg はSMTP送信の設定。
	cfg SMTPConfig
	// book はメールアドレスの解決先。
	book AddressBook
	// sendMail は送信関数。
	sendMail sendMailFunc
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewSMTPDispatcher は新しいSMTPDispatcherを生成する。
func NewSMTPDispatcher(cfg SMTPConfig, book AddressBook) *SMTPDispatcher {
	return &SMTPDispatcher{
		cfg:      cfg,
		book:     book,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// subjects はテンプレートキーごとの件名。
var subjects = map[string]string{
	"INNOVATION_SUBMITTED":    "新しいイノベーションが提出されました",
	"ORGANISATION_SUGGESTION": "あなたの組織がイノベーションの支援先に提案されました",
	"ASSESSMENT_COMPLETED":    "イノベーションのアセスメントが完了しました",
	"SUPPORT_STATUS_UPDATE":   "サポート状況が更新されました",
	"ACTION_CREATION":         "新しいアクションが作成されました",
	"ACTION_UPDATE":           "アクションが更新されました",
	"COMMENT_CREATION":        "新しいコメントがあります",
	"DOCUMENT_UPLOADED":       "ドキュメントがアップロードされました",
}

// defaultSubject は件名が定義されていないテンプレートの件名。
const defaultSubject = "新しい通知があります"

// Send は受信者ごとにメールを送信する。
// メールアドレスが登録されていない受信者と送信に失敗した受信者は失敗とする。
func (d *SMTPDispatcher) Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]Result, error) {
	emails, err := d.book.EmailsOf(ctx, recipientIDs)
	if err != nil {
		return allWith(recipientIDs, StatusFailed, err.Error()), fmt.Errorf("メールアドレスの解決に失敗: %w", err)
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	results := make([]Result, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{RecipientID: id, Status: StatusFailed, Error: err.Error()})
			continue
		}

		to, ok := emails[id]
		if !ok {
			results = append(results, Result{RecipientID: id, Status: StatusFailed, Error: "メールアドレスが登録されていません"})
			continue
		}

		msg, err := d.compose(to, templateKey, props)
		if err != nil {
			results = append(results, Result{RecipientID: id, Status: StatusFailed, Error: err.Error()})
			continue
		}
		if err := d.sendMail(addr, auth, d.cfg.From, []string{to}, msg); err != nil {
			results = append(results, Result{RecipientID: id, Status: StatusFailed, Error: err.Error()})
			continue
		}
		results = append(results, Result{RecipientID: id, Status: StatusSent})
	}
	return results, nil
}

// Close は何もしない。SMTP接続は送信ごとに開いて閉じる。
func (d *SMTPDispatcher) Close() error {
	return nil
}

// compose はテキスト形式のMIMEメッセージを組み立てる。
func (d *SMTPDispatcher) compose(to, templateKey string, props map[string]any) ([]byte, error) {
	subject, ok := subjects[templateKey]
	if !ok {
		subject = defaultSubject
	}

	var h mail.Header
	h.SetDate(d.now())
	h.SetAddressList("From", []*mail.Address{{Name: "caseflow", Address: d.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("メールヘッダーの書き込みに失敗: %w", err)
	}
	if _, err := io.WriteString(w, body(subject, props)); err != nil {
		return nil, fmt.Errorf("メール本文の書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("メッセージの組み立てに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// body はメール本文を組み立てる。
func body(subject string, props map[string]any) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\r\n\r\n", subject)
	if v, ok := props["case_id"]; ok {
		fmt.Fprintf(&b, "ケースID: %v\r\n", v)
	}
	if v, ok := props["category"]; ok {
		fmt.Fprintf(&b, "カテゴリ: %v\r\n", v)
	}
	if v, ok := props["notification_id"]; ok {
		fmt.Fprintf(&b, "通知ID: %v\r\n", v)
	}
	b.WriteString("\r\n詳細はcaseflowにログインして確認してください。\r\n")
	return b.String()
}
