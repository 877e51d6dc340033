package eventfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/caseflow/pkg/event"
	"github.com/nao1215/caseflow/pkg/mq"
)

// KafkaConsumer はKafkaトピックからJSON形式のイベントを読み取り、Handlerに渡す。
// Handlerの成否にかかわらずオフセットをコミットする。解析できないメッセージも読み飛ばす。
type KafkaConsumer struct {
	// reader はKafkaのメッセージリーダー。
	reader mq.MessageReader
	// handler はイベントを受け取るHandler。
	handler Handler
}

// NewKafkaConsumer は新しいKafkaConsumerを生成する。
func NewKafkaConsumer(reader mq.MessageReader, handler Handler) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, handler: handler}
}

// Run はctxがキャンセルされるまでメッセージを処理する。
// キャンセルによる終了はnilを返す。
func (c *KafkaConsumer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Kafkaからのイベント購読を開始します")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("Kafkaからのイベント購読を停止しました")
				return nil
			}
			return fmt.Errorf("Kafkaメッセージの取得に失敗: %w", err)
		}

		ev, err := event.Parse(msg.Value)
		if err != nil {
			slog.WarnContext(ctx, "イベントとして解析できないメッセージを読み飛ばします",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if err := c.handler.HandleEvent(ctx, ev); err != nil {
			slog.WarnContext(ctx, "イベント処理に失敗したため読み飛ばします",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("オフセットのコミットに失敗: %w", err)
		}
	}
}

// Close はリーダーを閉じる。
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
