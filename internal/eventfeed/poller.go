package eventfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/caseflow/pkg/event"
	"github.com/nao1215/caseflow/pkg/httpclient"
)

// Poller はEvent Storeを定期的にポーリングし、新しいイベントをHandlerに渡すバックグラウンドプロセス。
type Poller struct {
	// client はEvent Storeとの通信用HTTPクライアント。
	client *httpclient.Client
	// handler はイベントを受け取るHandler。
	handler Handler
	// interval はポーリング間隔。
	interval time.Duration
	// lastTimestamp は処理済みの最新イベントの直後の時刻。
	lastTimestamp time.Time
	// cursor はlastTimestampの保存先。nilの場合は保存しない。
	cursor Cursor
	// mu はlastTimestampへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はバックグラウンドゴルーチンの終了を通知するチャネル。
	done chan struct{}
}

// PollerOption はPollerの設定を変更する関数。
type PollerOption func(*Poller)

// WithCursor は読み取り位置の保存先を設定する。
func WithCursor(c Cursor) PollerOption {
	return func(p *Poller) {
		p.cursor = c
	}
}

// NewPoller は新しいPollerを生成する。
// client はEvent StoreのベースURLを設定済みのクライアント。
func NewPoller(client *httpclient.Client, handler Handler, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		handler:  handler,
		interval: interval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resume は保存済みの位置を読み込み、その位置からポーリングを再開できるようにする。
// Cursorが未設定の場合は何もしない。
func (p *Poller) Resume(ctx context.Context) error {
	if p.cursor == nil {
		return nil
	}
	position, err := p.cursor.Load(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if position.After(p.lastTimestamp) {
		p.lastTimestamp = position
	}
	p.mu.Unlock()
	return nil
}

// Start はバックグラウンドでEvent Storeのポーリングを開始する。
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		slog.InfoContext(ctx, "Event Storeのポーリングを開始します", "interval", p.interval)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Event Storeのポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil {
					slog.WarnContext(ctx, "ポーリングに失敗しました", "error", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止し、ゴルーチンの終了を待つ。
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Poll はEvent Storeから前回以降のイベントを取得してHandlerに渡し、処理件数を返す。
// Handlerが失敗したイベントはログに記録して読み進める。
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	since := p.lastTimestamp
	p.mu.Unlock()

	path := fmt.Sprintf("/api/v1/events/since?since=%s", url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))

	var events []*event.Event
	if err := p.client.GetJSON(ctx, path, &events); err != nil {
		return 0, fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var latest time.Time
	for _, ev := range events {
		if err := p.handler.HandleEvent(ctx, ev); err != nil {
			slog.WarnContext(ctx, "イベント処理に失敗したため読み飛ばします",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
		}
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}

	// 同じイベントを再取得しないように1ナノ秒進める
	if err := p.advance(ctx, latest); err != nil {
		return len(events), err
	}

	slog.DebugContext(ctx, "イベントを処理しました", "count", len(events))
	return len(events), nil
}

// FetchAll はEvent Storeから全イベントを取得する。Read Modelの再構築に使用する。
// 取得後は最新イベント以降からポーリングを再開する。
func (p *Poller) FetchAll(ctx context.Context) ([]*event.Event, error) {
	var events []*event.Event
	if err := p.client.GetJSON(ctx, "/api/v1/events", &events); err != nil {
		return nil, fmt.Errorf("Event Storeからの全イベント取得に失敗: %w", err)
	}

	var latest time.Time
	for _, ev := range events {
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}
	if err := p.advance(ctx, latest); err != nil {
		return nil, err
	}
	return events, nil
}

// advance は読み取り位置をlatestの直後に進め、Cursorに保存する。
func (p *Poller) advance(ctx context.Context, latest time.Time) error {
	if latest.IsZero() {
		return nil
	}
	position := latest.Add(time.Nanosecond)
	p.mu.Lock()
	p.lastTimestamp = position
	p.mu.Unlock()

	if p.cursor == nil {
		return nil
	}
	return p.cursor.Save(ctx, position)
}
