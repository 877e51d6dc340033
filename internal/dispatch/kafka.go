package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nao1215/caseflow/pkg/mq"
)

// KafkaDispatcher は受信者ごとのメール送信ジョブをKafkaトピックに発行する。
// メッセージのキーは受信者のユーザーIDで、同じ受信者のジョブは同じパーティションに入る。
type KafkaDispatcher struct {
	// writer はKafkaのメッセージライター。
	writer mq.MessageWriter
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewKafkaDispatcher は新しいKafkaDispatcherを生成する。
func NewKafkaDispatcher(writer mq.MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EmailJob はKafkaに発行するメール送信ジョブ。
type EmailJob struct {
	// RecipientID は受信者のユーザーID。
	RecipientID string `json:"recipient_id"`
	// Template はテンプレートキー。
	Template string `json:"template"`
	// Props はテンプレート変数。
	Props map[string]any `json:"props"`
	// RequestedAt は依頼日時。
	RequestedAt time.Time `json:"requested_at"`
}

// Send は受信者ごとにメール送信ジョブを発行する。
// 一部のメッセージのみ失敗した場合はその受信者を失敗とし、エラーは返さない。
func (d *KafkaDispatcher) Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]Result, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}

	requestedAt := d.now()
	msgs := make([]kafka.Message, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		value, err := json.Marshal(EmailJob{RecipientID: id, Template: templateKey, Props: props, RequestedAt: requestedAt})
		if err != nil {
			return nil, fmt.Errorf("メール送信ジョブのシリアライズに失敗: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(id), Value: value})
	}

	err := d.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return allWith(recipientIDs, StatusSent, ""), nil
	}

	var writeErrs kafka.WriteErrors
	if !errors.As(err, &writeErrs) || len(writeErrs) != len(recipientIDs) {
		return allWith(recipientIDs, StatusFailed, err.Error()), fmt.Errorf("メール送信ジョブの発行に失敗: %w", err)
	}

	results := make([]Result, 0, len(recipientIDs))
	for i, id := range recipientIDs {
		if writeErrs[i] != nil {
			results = append(results, Result{RecipientID: id, Status: StatusFailed, Error: writeErrs[i].Error()})
			continue
		}
		results = append(results, Result{RecipientID: id, Status: StatusSent})
	}
	return results, nil
}

// Close はライターを閉じる。未送信のメッセージは送信を試みる。
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
