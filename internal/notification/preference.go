package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Gate はメール配信設定を参照し、通知作成時にメールを送るかどうかを判定する。
type Gate struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewGate は新しいGateを生成する。
func NewGate(db *sqlx.DB) *Gate {
	return &Gate{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// sendsInstantly は配信設定が通知作成時のメール送信を許すかどうかを返す。
// DAILYは日次ダイジェストに回すため、ここでは送らない。
func sendsInstantly(p Preference) bool {
	return p == PreferenceInstantly
}

// preferenceOf はユーザーとカテゴリの配信設定を返す。設定が無い場合は既定値を返す。
func (g *Gate) preferenceOf(ctx context.Context, userID string, category Category) (Preference, error) {
	var p Preference
	err := g.db.GetContext(ctx, &p,
		`SELECT preference FROM email_preferences WHERE user_id = ? AND category = ?`, userID, string(category))
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreference, nil
	}
	if err != nil {
		return "", fmt.Errorf("配信設定の取得に失敗: %w", err)
	}
	return p, nil
}

// ShouldSendEmail はユーザーにカテゴリの通知メールを即時に送るかどうかを返す。
func (g *Gate) ShouldSendEmail(ctx context.Context, userID string, category Category) (bool, error) {
	p, err := g.preferenceOf(ctx, userID, category)
	if err != nil {
		return false, err
	}
	return sendsInstantly(p), nil
}

// FilterInstant はuserIDsのうち、カテゴリの通知メールを即時に受け取るユーザーを元の順序で返す。
func (g *Gate) FilterInstant(ctx context.Context, userIDs []string, category Category) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT user_id, preference FROM email_preferences WHERE category = ? AND user_id IN (?)`,
		string(category), userIDs)
	if err != nil {
		return nil, fmt.Errorf("配信設定の条件の組み立てに失敗: %w", err)
	}

	var rows []struct {
		UserID     string     `db:"user_id"`
		Preference Preference `db:"preference"`
	}
	if err := g.db.SelectContext(ctx, &rows, g.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("配信設定の取得に失敗: %w", err)
	}

	stored := make(map[string]Preference, len(rows))
	for _, row := range rows {
		stored[row.UserID] = row.Preference
	}

	instant := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		p, ok := stored[id]
		if !ok {
			p = DefaultPreference
		}
		if sendsInstantly(p) {
			instant = append(instant, id)
		}
	}
	return instant, nil
}

// Preferences はユーザーの全カテゴリの配信設定を返す。設定が無いカテゴリは既定値で埋める。
func (g *Gate) Preferences(ctx context.Context, userID string) ([]PreferenceEntry, error) {
	var rows []PreferenceEntry
	if err := g.db.SelectContext(ctx, &rows,
		`SELECT category, preference FROM email_preferences WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("配信設定一覧の取得に失敗: %w", err)
	}

	stored := make(map[Category]Preference, len(rows))
	for _, row := range rows {
		stored[row.Category] = row.Preference
	}

	entries := make([]PreferenceEntry, 0, len(Categories))
	for _, c := range Categories {
		p, ok := stored[c]
		if !ok {
			p = DefaultPreference
		}
		entries = append(entries, PreferenceEntry{Category: c, Preference: p})
	}
	return entries, nil
}

// UpdatePreferences は配信設定を1行ずつ保存する。
// 行ごとに独立して保存し、ある行の失敗は他の行の保存を妨げない。結果は入力と同じ順序で返す。
func (g *Gate) UpdatePreferences(ctx context.Context, userID string, entries []PreferenceEntry) []PreferenceResult {
	results := make([]PreferenceResult, 0, len(entries))
	for _, e := range entries {
		result := PreferenceResult{Category: e.Category, Status: UpdateStatusOK}
		if err := g.upsert(ctx, userID, e); err != nil {
			result.Status = UpdateStatusError
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// upsert は1行分の配信設定を保存する。
func (g *Gate) upsert(ctx context.Context, userID string, e PreferenceEntry) error {
	if !e.Category.Valid() {
		return fmt.Errorf("カテゴリが不正です: %q: %w", e.Category, ErrInvalidParams)
	}
	if !e.Preference.Valid() {
		return fmt.Errorf("配信設定が不正です: %q: %w", e.Preference, ErrInvalidParams)
	}

	if _, err := g.db.ExecContext(ctx, `
		INSERT INTO email_preferences (user_id, category, preference, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET preference = excluded.preference, updated_at = excluded.updated_at`,
		userID, string(e.Category), string(e.Preference), g.now()); err != nil {
		return fmt.Errorf("配信設定の保存に失敗: %w", err)
	}
	return nil
}
