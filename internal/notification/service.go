package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/internal/dispatch"
	"github.com/nao1215/caseflow/pkg/metrics"
)

// defaultDispatchTimeout はメール送信1回あたりのタイムアウトの既定値。
const defaultDispatchTimeout = 30 * time.Second

// Graph は宛先解決とサポート状態別集計に必要な読み取り操作。
// casedata.Reader が実装する。
type Graph interface {
	OrganisationGraph
	SupportStatusReader
}

// Dispatcher はメール送信の依頼先。
type Dispatcher interface {
	Send(ctx context.Context, recipientIDs []string, templateKey string, props map[string]any) ([]dispatch.Result, error)
}

// Service は通知の作成と参照の入口。
// 作成では宛先解決、保存、メール配信設定による絞り込み、非同期のメール送信を順に行う。
type Service struct {
	// resolver は宛先解決を行う。
	resolver *Resolver
	// store は通知を永続化する。
	store *Store
	// aggregator は未読数を集計する。
	aggregator *Aggregator
	// gate はメール配信設定を扱う。
	gate *Gate
	// dispatcher はメール送信の依頼先。nilの場合はメールを送らない。
	dispatcher Dispatcher
	// metrics はメトリクス。nilの場合は記録しない。
	metrics *metrics.Metrics
	// logger は構造化ロガー。
	logger *slog.Logger
	// dispatchTimeout はメール送信1回あたりのタイムアウト。
	dispatchTimeout time.Duration
	// inflight は実行中のメール送信ゴルーチン。
	inflight sync.WaitGroup
}

// Option はServiceの設定を変更する関数。
type Option func(*Service)

// WithDispatcher はメール送信の依頼先を設定する。
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

// WithMetrics はメトリクスを設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithDispatchTimeout はメール送信1回あたりのタイムアウトを設定する。
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

// NewService は新しいServiceを生成する。
func NewService(db *sqlx.DB, graph Graph, opts ...Option) *Service {
	s := &Service{
		resolver:        NewResolver(graph),
		store:           NewStore(db),
		aggregator:      NewAggregator(db, graph),
		gate:            NewGate(db),
		logger:          slog.Default(),
		dispatchTimeout: defaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requireActor は実行者が指定されていることを確認する。
func requireActor(actor Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("実行者が指定されていません: %w", ErrInvalidParams)
	}
	return nil
}

// Create は通知を作成し、宛先に展開して保存する。
// 保存の完了後、即時配信を希望する受信者へのメール送信を別ゴルーチンで開始する。
// メール送信の失敗は戻り値に影響しない。
// 同じイベントから作成済みの通知は保存もメール送信もせず ErrAlreadyNotified を返す。
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Notification, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !validUUID(in.CaseID) {
		return nil, fmt.Errorf("ケースIDが不正です: %q: %w", in.CaseID, ErrInvalidParams)
	}
	if !in.Category.Valid() {
		return nil, fmt.Errorf("カテゴリが不正です: %q: %w", in.Category, ErrInvalidParams)
	}
	if in.DetailCode == "" {
		return nil, fmt.Errorf("詳細コードが指定されていません: %w", ErrInvalidParams)
	}

	recipients, err := s.resolver.Resolve(ctx, actor, in.Audience, in.CaseID)
	if err != nil {
		return nil, err
	}

	n := &Notification{
		ID:            uuid.New().String(),
		CaseID:        in.CaseID,
		Category:      in.Category,
		DetailCode:    in.DetailCode,
		ContextID:     in.ContextID,
		Payload:       in.Payload,
		CreatedBy:     actor.ID,
		SourceEventID: in.SourceEventID,
	}
	if err := s.store.Insert(ctx, n, recipients); err != nil {
		return nil, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	if s.metrics != nil {
		s.metrics.NotificationsCreated.WithLabelValues(string(n.Category)).Inc()
		s.metrics.RecipientsFannedOut.Add(float64(len(n.Recipients)))
	}
	s.logger.InfoContext(ctx, "通知を作成しました",
		"notification_id", n.ID,
		"case_id", n.CaseID,
		"category", n.Category,
		"detail_code", n.DetailCode,
		"recipients", len(n.Recipients),
	)

	s.dispatchEmails(ctx, n)
	return n, nil
}

// dispatchEmails は即時配信を希望する受信者にメールを送る。
// 配信設定の取得に失敗した場合はメールを送らずにログに記録する。
func (s *Service) dispatchEmails(ctx context.Context, n *Notification) {
	if s.dispatcher == nil || len(n.Recipients) == 0 {
		return
	}

	instant, err := s.gate.FilterInstant(ctx, n.Recipients, n.Category)
	if err != nil {
		s.logger.WarnContext(ctx, "配信設定の取得に失敗したためメールを送信しません",
			"notification_id", n.ID, "error", err)
		s.countDispatch("gate_error", 1)
		return
	}
	if len(instant) == 0 {
		return
	}

	props := map[string]any{
		"notification_id": n.ID,
		"case_id":         n.CaseID,
		"category":        string(n.Category),
		"detail_code":     n.DetailCode,
		"context_id":      n.ContextID,
		"payload":         n.Payload,
	}

	// リクエストの終了後も送信を続けるため、キャンセルを引き継がないコンテキストを使う
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		results, err := s.dispatcher.Send(dctx, instant, n.DetailCode, props)
		if err != nil {
			s.logger.ErrorContext(dctx, "メール送信に失敗しました",
				"notification_id", n.ID, "recipients", len(instant), "error", err)
			s.countDispatch("error", len(instant))
			return
		}

		var sent, failed int
		for _, r := range results {
			if r.Status == dispatch.StatusSent {
				sent++
				continue
			}
			failed++
			s.logger.WarnContext(dctx, "受信者へのメール送信に失敗しました",
				"notification_id", n.ID, "recipient_id", r.RecipientID, "error", r.Error)
		}
		s.countDispatch("sent", sent)
		s.countDispatch("failed", failed)
	}()
}

// countDispatch はメール送信結果をメトリクスに記録する。
func (s *Service) countDispatch(result string, n int) {
	if s.metrics == nil || n == 0 {
		return
	}
	s.metrics.EmailDispatches.WithLabelValues(result).Add(float64(n))
}

// Wait は実行中のメール送信の完了を待つ。シャットダウン時に使用する。
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Dismiss は実行者宛ての通知のうちフィルタに一致するものを却下し、件数を返す。
func (s *Service) Dismiss(ctx context.Context, actor Actor, f DismissFilter) (int64, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	return s.store.Dismiss(ctx, actor.ID, f)
}

// Get は通知を返す。実行者が受信者の場合は実行者の行のみ既読にする。
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*InboxItem, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !validUUID(id) {
		return nil, fmt.Errorf("通知IDが不正です: %q: %w", id, ErrInvalidParams)
	}
	return s.store.Get(ctx, actor.ID, id)
}

// Delete は通知を論理削除する。
func (s *Service) Delete(ctx context.Context, actor Actor, id string) (*DeleteResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !validUUID(id) {
		return nil, fmt.Errorf("通知IDが不正です: %q: %w", id, ErrInvalidParams)
	}
	return s.store.Delete(ctx, actor.ID, id)
}

// ListByCase はケースに関する実行者宛ての通知一覧を返す。
func (s *Service) ListByCase(ctx context.Context, actor Actor, caseID string, opts ListOptions) (*ListResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.store.ListByCase(ctx, actor.ID, caseID, opts)
}

// UnreadCounts はケースに関する実行者の未読数をカテゴリ別に返す。
func (s *Service) UnreadCounts(ctx context.Context, actor Actor, caseID string) (map[Category]int, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.aggregator.UnreadCounts(ctx, actor.ID, caseID)
}

// UnreadTotal は実行者の全ケースの未読数を返す。
func (s *Service) UnreadTotal(ctx context.Context, actor Actor) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	return s.aggregator.UnreadTotal(ctx, actor.ID)
}

// GroupedBySupportStatus は実行者の未読数をサポート状態別に返す。
func (s *Service) GroupedBySupportStatus(ctx context.Context, actor Actor) (map[casedata.SupportStatus]int, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.aggregator.GroupedBySupportStatus(ctx, actor)
}

// ShouldSendEmail はユーザーにカテゴリの通知メールを即時に送るかどうかを返す。
func (s *Service) ShouldSendEmail(ctx context.Context, userID string, category Category) (bool, error) {
	if userID == "" || !category.Valid() {
		return false, fmt.Errorf("ユーザーIDまたはカテゴリが不正です: %w", ErrInvalidParams)
	}
	return s.gate.ShouldSendEmail(ctx, userID, category)
}

// Preferences は実行者のメール配信設定を返す。
func (s *Service) Preferences(ctx context.Context, actor Actor) ([]PreferenceEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.gate.Preferences(ctx, actor.ID)
}

// UpdatePreferences は実行者のメール配信設定を行ごとに更新し、行ごとの結果を返す。
func (s *Service) UpdatePreferences(ctx context.Context, actor Actor, entries []PreferenceEntry) ([]PreferenceResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.gate.UpdatePreferences(ctx, actor.ID, entries), nil
}
