// Package eventfeed はプラットフォームのドメインイベントをハンドラへ配信する。
//
// 取得元はEvent StoreのHTTPポーリング（Poller）とKafkaトピックの購読（KafkaConsumer）の2種類。
// どちらも受け取ったイベントをChainに渡し、Read Modelの投影、通知の生成の順に処理する。
package eventfeed

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/nao1215/caseflow/pkg/event"
)

// Handler はドメインイベントを処理するインターフェース。
type Handler interface {
	HandleEvent(ctx context.Context, ev *event.Event) error
}

// HandlerFunc は関数をHandlerとして扱うためのアダプタ。
type HandlerFunc func(ctx context.Context, ev *event.Event) error

// HandleEvent はf(ctx, ev)を呼び出す。
func (f HandlerFunc) HandleEvent(ctx context.Context, ev *event.Event) error {
	return f(ctx, ev)
}

// Chain は複数のHandlerを登録順に実行する。
// あるHandlerが失敗しても後続のHandlerは実行し、全ての失敗をまとめて返す。
type Chain struct {
	// handlers は実行順に並んだHandler。
	handlers []Handler
	// observe はイベント処理の結果を通知するコールバック。nilの場合は何もしない。
	observe func(eventType event.Type, err error)
}

// NewChain は新しいChainを生成する。
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// OnResult はイベントの処理結果を受け取るコールバックを設定する。メトリクス計測に使用する。
func (c *Chain) OnResult(fn func(eventType event.Type, err error)) *Chain {
	c.observe = fn
	return c
}

// HandleEvent は全Handlerにイベントを渡す。
func (c *Chain) HandleEvent(ctx context.Context, ev *event.Event) error {
	var errs error
	for i, h := range c.handlers {
		if err := h.HandleEvent(ctx, ev); err != nil {
			slog.ErrorContext(ctx, "イベント処理に失敗しました",
				"handler", i, "event_id", ev.ID, "event_type", ev.EventType, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("ハンドラ%dの処理に失敗: %w", i, err))
		}
	}
	if c.observe != nil {
		c.observe(ev.EventType, errs)
	}
	return errs
}
