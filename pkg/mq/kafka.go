// Package mq はKafkaへの接続を共通化する。
// イベントフィードの購読とメール送信ジョブの発行で同じ設定を使う。
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader はコンシューマーグループでメッセージを読み取るインターフェース。
// *kafka.Reader が実装する。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter はメッセージを書き込むインターフェース。
// *kafka.Writer が実装する。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter は全レプリカの確認を待つWriterを生成する。
// topicが空の場合はメッセージごとにTopicを指定する必要がある。
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}
}

// NewReader はコンシューマーグループに参加するReaderを生成する。
// オフセットのコミットは呼び出し側が処理完了後に明示的に行う。
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		SessionTimeout: 30 * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
}
