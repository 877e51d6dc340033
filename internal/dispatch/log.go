package dispatch

import (
	"context"
	"log/slog"
)

// LogDispatcher は送信内容をログに出力するだけの送信方式。開発環境で使用する。
type LogDispatcher struct {
	// logger は出力先のロガー。
	logger *slog.Logger
}

// NewLogDispatcher は新しいLogDispatcherを生成する。loggerがnilの場合は既定のロガーを使う。
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Send は受信者ごとに送信内容をログに出力し、全受信者を送信済みとする。
func (d *LogDispatcher) Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]Result, error) {
	for _, id := range recipientIDs {
		d.logger.InfoContext(ctx, "メールを送信しました（ログ出力のみ）",
			"recipient_id", id,
			"template", templateKey,
			"case_id", props["case_id"],
		)
	}
	return allWith(recipientIDs, StatusSent, ""), nil
}

// Close は何もしない。
func (d *LogDispatcher) Close() error {
	return nil
}
