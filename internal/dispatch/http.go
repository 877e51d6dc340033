package dispatch

import (
	"context"
	"fmt"

	"github.com/nao1215/caseflow/pkg/httpclient"
)

// sendPath はメール送信サービスの送信APIのパス。
const sendPath = "/api/v1/emails"

// HTTPDispatcher はメール送信サービスのHTTP APIに送信を依頼する。
type HTTPDispatcher struct {
	// client はメール送信サービスとの通信用HTTPクライアント。
	client *httpclient.Client
}

// NewHTTPDispatcher は新しいHTTPDispatcherを生成する。
// apiKeyが空でない場合はX-API-Keyヘッダーに付与する。
func NewHTTPDispatcher(baseURL, apiKey string) *HTTPDispatcher {
	var opts []httpclient.Option
	if apiKey != "" {
		opts = append(opts, httpclient.WithHeader("X-API-Key", apiKey))
	}
	return &HTTPDispatcher{client: httpclient.New(baseURL, opts...)}
}

// sendRequest はメール送信サービスへのリクエストのJSON構造。
type sendRequest struct {
	// Recipients は受信者のユーザーID一覧。
	Recipients []string `json:"recipients"`
	// Template はテンプレートキー。
	Template string `json:"template"`
	// Props はテンプレート変数。
	Props map[string]any `json:"props"`
}

// sendResponse はメール送信サービスのレスポンスのJSON構造。
type sendResponse struct {
	// Results は受信者ごとの結果。省略された場合は全員を送信済みとみなす。
	Results []Result `json:"results"`
}

// Send はメール送信サービスに送信を依頼する。
// 通信に失敗した場合は全受信者を失敗としてエラーを返す。
func (d *HTTPDispatcher) Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]Result, error) {
	req := sendRequest{Recipients: recipientIDs, Template: templateKey, Props: props}

	var resp sendResponse
	if err := d.client.PostJSON(ctx, sendPath, req, &resp); err != nil {
		return allWith(recipientIDs, StatusFailed, err.Error()), fmt.Errorf("メール送信サービスへの依頼に失敗: %w", err)
	}
	if len(resp.Results) == 0 {
		return allWith(recipientIDs, StatusSent, ""), nil
	}
	return resp.Results, nil
}

// Close は何もしない。
func (d *HTTPDispatcher) Close() error {
	return nil
}
