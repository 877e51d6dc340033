package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store は通知と受信者行を永続化する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// notificationRow は通知ヘッダーと受信者状態を結合した行。
type notificationRow struct {
	ID          string         `db:"id"`
	CaseID      string         `db:"case_id"`
	Category    Category       `db:"category"`
	DetailCode  string         `db:"detail_code"`
	ContextID   sql.NullString `db:"context_id"`
	Payload     string         `db:"payload"`
	CreatedBy   string         `db:"created_by"`
	CreatedAt   time.Time      `db:"created_at"`
	DeletedAt   sql.NullTime   `db:"deleted_at"`
	ReadAt      sql.NullTime   `db:"read_at"`
	DismissedAt sql.NullTime   `db:"dismissed_at"`
}

// toInboxItem はDB行を受信者から見た通知に変換する。
func (r notificationRow) toInboxItem() InboxItem {
	item := InboxItem{
		Notification: Notification{
			ID:         r.ID,
			CaseID:     r.CaseID,
			Category:   r.Category,
			DetailCode: r.DetailCode,
			ContextID:  r.ContextID.String,
			Payload:    json.RawMessage(r.Payload),
			CreatedBy:  r.CreatedBy,
			CreatedAt:  r.CreatedAt,
		},
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time
		item.ReadAt = &t
	}
	if r.DismissedAt.Valid {
		t := r.DismissedAt.Time
		item.DismissedAt = &t
	}
	return item
}

// Insert は通知ヘッダーと受信者行を1つのトランザクションで保存する。
// 作成者が受信者に含まれていた場合は除外し、n.Recipients には実際に保存した受信者を設定する。
// いずれかの行の保存に失敗した場合は全てロールバックする。
// n.SourceEventID が作成済みの通知と重複する場合は何も保存せず ErrAlreadyNotified を返す。
func (s *Store) Insert(ctx context.Context, n *Notification, recipients []string) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if len(n.Payload) == 0 {
		n.Payload = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if n.SourceEventID != "" {
		var existing string
		err := tx.GetContext(ctx, &existing,
			`SELECT id FROM notifications WHERE source_event_id = ? AND detail_code = ?`, n.SourceEventID, n.DetailCode)
		switch {
		case err == nil:
			return fmt.Errorf("イベント %s の %s（通知 %s）: %w", n.SourceEventID, n.DetailCode, existing, ErrAlreadyNotified)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("作成済み通知の確認に失敗: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, case_id, category, detail_code, context_id, payload, created_by, source_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.CaseID, string(n.Category), n.DetailCode, nullString(n.ContextID), string(n.Payload), n.CreatedBy,
		nullString(n.SourceEventID), n.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("イベント %s の %s: %w", n.SourceEventID, n.DetailCode, ErrAlreadyNotified)
		}
		return fmt.Errorf("通知ヘッダーの保存に失敗: %w", err)
	}

	saved := make([]string, 0, len(recipients))
	for _, userID := range recipients {
		if userID == n.CreatedBy {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notification_recipients (notification_id, user_id) VALUES (?, ?)`,
			n.ID, userID,
		); err != nil {
			return fmt.Errorf("受信者 %s の保存に失敗: %w", userID, err)
		}
		saved = append(saved, userID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	n.Recipients = saved
	return nil
}

// Dismiss はユーザーの受信者行のうちフィルタに一致し、まだ却下されていないものを却下する。
// 却下した件数を返す。絞り込み条件が無い場合は ErrInvalidParams を返す。
func (s *Store) Dismiss(ctx context.Context, userID string, f DismissFilter) (int64, error) {
	if !f.scoped() {
		return 0, fmt.Errorf("却下対象の絞り込み条件が指定されていません: %w", ErrInvalidParams)
	}
	if f.Category != "" && !f.Category.Valid() {
		return 0, fmt.Errorf("カテゴリが不正です: %q: %w", f.Category, ErrInvalidParams)
	}
	if f.CaseID != "" && !validUUID(f.CaseID) {
		return 0, fmt.Errorf("ケースIDが不正です: %q: %w", f.CaseID, ErrInvalidParams)
	}

	conds := []string{"deleted_at IS NULL"}
	var condArgs []any
	if len(f.NotificationIDs) > 0 {
		conds = append(conds, "id IN (?)")
		condArgs = append(condArgs, f.NotificationIDs)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		condArgs = append(condArgs, string(f.Category))
	}
	if len(f.ContextIDs) > 0 {
		conds = append(conds, "context_id IN (?)")
		condArgs = append(condArgs, f.ContextIDs)
	}
	if len(f.ContextDetails) > 0 {
		conds = append(conds, "detail_code IN (?)")
		condArgs = append(condArgs, f.ContextDetails)
	}
	if f.CaseID != "" {
		conds = append(conds, "case_id = ?")
		condArgs = append(condArgs, f.CaseID)
	}

	query := `
		UPDATE notification_recipients SET dismissed_at = ?
		WHERE user_id = ? AND dismissed_at IS NULL AND deleted_at IS NULL
		AND notification_id IN (SELECT id FROM notifications WHERE ` + strings.Join(conds, " AND ") + `)`
	args := append([]any{s.now(), userID}, condArgs...)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return 0, fmt.Errorf("却下条件の組み立てに失敗: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("通知の却下に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("却下件数の取得に失敗: %w", err)
	}
	return affected, nil
}

// Get は通知を返す。受信者の場合は自分の行だけを既読にする。作成者の場合は既読にしない。
// 通知が存在しない、削除済み、または受信者行が削除済みの場合は ErrNotFound を返す。
// 作成者でも受信者でもない場合は ErrForbidden を返す。
func (s *Store) Get(ctx context.Context, userID, id string) (*InboxItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var header notificationRow
	err = tx.GetContext(ctx, &header, `
		SELECT id, case_id, category, detail_code, context_id, payload, created_by, created_at, deleted_at
		FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && header.DeletedAt.Valid) {
		return nil, fmt.Errorf("通知 %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}

	var recipient struct {
		ReadAt      sql.NullTime `db:"read_at"`
		DismissedAt sql.NullTime `db:"dismissed_at"`
		DeletedAt   sql.NullTime `db:"deleted_at"`
	}
	err = tx.GetContext(ctx, &recipient, `
		SELECT read_at, dismissed_at, deleted_at FROM notification_recipients
		WHERE notification_id = ? AND user_id = ?`, id, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if header.CreatedBy != userID {
			return nil, fmt.Errorf("通知 %s: %w", id, ErrForbidden)
		}
		item := header.toInboxItem()
		return &item, nil
	case err != nil:
		return nil, fmt.Errorf("受信者行の取得に失敗: %w", err)
	case recipient.DeletedAt.Valid:
		return nil, fmt.Errorf("通知 %s: %w", id, ErrNotFound)
	}

	header.ReadAt = recipient.ReadAt
	header.DismissedAt = recipient.DismissedAt
	if !header.ReadAt.Valid {
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE notification_recipients SET read_at = ?
			WHERE notification_id = ? AND user_id = ? AND read_at IS NULL`, now, id, userID); err != nil {
			return nil, fmt.Errorf("既読化に失敗: %w", err)
		}
		header.ReadAt = sql.NullTime{Time: now, Valid: true}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	item := header.toInboxItem()
	return &item, nil
}

// Delete は通知を論理削除する。作成者は通知ヘッダーを、受信者は自分の受信者行を削除する。
// 削除済みのものを再度削除しても成功する。
func (s *Store) Delete(ctx context.Context, userID, id string) (*DeleteResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var createdBy string
	err = tx.GetContext(ctx, &createdBy, `SELECT created_by FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("通知 %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}

	now := s.now()
	if createdBy == userID {
		if _, err := tx.ExecContext(ctx,
			`UPDATE notifications SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id); err != nil {
			return nil, fmt.Errorf("通知の削除に失敗: %w", err)
		}
	} else {
		var isRecipient bool
		if err := tx.GetContext(ctx, &isRecipient, `
			SELECT EXISTS (SELECT 1 FROM notification_recipients WHERE notification_id = ? AND user_id = ?)`,
			id, userID); err != nil {
			return nil, fmt.Errorf("受信者行の確認に失敗: %w", err)
		}
		if !isRecipient {
			return nil, fmt.Errorf("通知 %s: %w", id, ErrForbidden)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE notification_recipients SET deleted_at = ?
			WHERE notification_id = ? AND user_id = ? AND deleted_at IS NULL`, now, id, userID); err != nil {
			return nil, fmt.Errorf("受信者行の削除に失敗: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return &DeleteResult{ID: id, Status: StatusDeleted}, nil
}

// ListByCase はケースに関するユーザー宛ての通知を新しい順に返す。
// 削除済みの通知と削除済みの受信者行は含めない。
func (s *Store) ListByCase(ctx context.Context, userID, caseID string, opts ListOptions) (*ListResult, error) {
	if !validUUID(caseID) {
		return nil, fmt.Errorf("ケースIDが不正です: %q: %w", caseID, ErrInvalidParams)
	}
	if opts.Skip < 0 {
		return nil, fmt.Errorf("skipが不正です: %d: %w", opts.Skip, ErrInvalidParams)
	}
	if opts.Category != "" && !opts.Category.Valid() {
		return nil, fmt.Errorf("カテゴリが不正です: %q: %w", opts.Category, ErrInvalidParams)
	}
	opts = opts.normalize()

	where := `
		FROM notification_recipients r
		JOIN notifications n ON n.id = r.notification_id
		WHERE r.user_id = ? AND n.case_id = ? AND n.deleted_at IS NULL AND r.deleted_at IS NULL`
	args := []any{userID, caseID}
	if opts.Category != "" {
		where += ` AND n.category = ?`
		args = append(args, string(opts.Category))
	}
	if opts.UnreadOnly {
		where += ` AND ` + unreadPredicate
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) `+where, args...); err != nil {
		return nil, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT n.id, n.case_id, n.category, n.detail_code, n.context_id, n.payload, n.created_by, n.created_at,
			r.read_at, r.dismissed_at `+where+`
		ORDER BY n.created_at DESC, n.rowid DESC
		LIMIT ? OFFSET ?`,
		append(args, opts.Take, opts.Skip)...); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	items := make([]InboxItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toInboxItem())
	}
	return &ListResult{Data: items, Count: count}, nil
}

// nullString は空文字をNULLとして保存するための変換を行う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation はUNIQUE制約違反のエラーかどうかを返す。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
