package casedata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Reader はRead Modelへの読み取り専用アクセスを提供する。
// 通知の宛先解決、未読のサポート状態別集計、メール宛先の解決に使用する。
type Reader struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
}

// NewReader は新しいReaderを生成する。
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

// CaseOwner はケースの所有者のユーザーIDを返す。ケースが存在しない場合は空文字を返す。
func (r *Reader) CaseOwner(ctx context.Context, caseID string) (string, error) {
	var ownerID string
	err := r.db.GetContext(ctx, &ownerID, `SELECT owner_id FROM cases WHERE id = ?`, caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ケース所有者の取得に失敗: %w", err)
	}
	return ownerID, nil
}

// SharedOrganisations はケースの共有先組織のID一覧を返す。
func (r *Reader) SharedOrganisations(ctx context.Context, caseID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT organisation_id FROM case_shares WHERE case_id = ? ORDER BY organisation_id`, caseID); err != nil {
		return nil, fmt.Errorf("ケース共有先の取得に失敗: %w", err)
	}
	return ids, nil
}

// UnitsOf は組織に属する組織ユニットのID一覧を返す。
func (r *Reader) UnitsOf(ctx context.Context, organisationID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM organisation_units WHERE organisation_id = ? ORDER BY id`, organisationID); err != nil {
		return nil, fmt.Errorf("組織ユニットの取得に失敗: %w", err)
	}
	return ids, nil
}

// MembersOf は組織ユニットのメンバーのユーザーID一覧を返す。
// rolesを指定した場合はそのロールを持つメンバーのみを返す。
func (r *Reader) MembersOf(ctx context.Context, unitID string, roles ...Role) ([]string, error) {
	query := `SELECT user_id FROM unit_members WHERE unit_id = ?`
	args := []any{unitID}
	if len(roles) > 0 {
		names := make([]string, 0, len(roles))
		for _, role := range roles {
			names = append(names, string(role))
		}
		var err error
		query, args, err = sqlx.In(query+` AND role IN (?)`, unitID, names)
		if err != nil {
			return nil, fmt.Errorf("ロール条件の組み立てに失敗: %w", err)
		}
		query = r.db.Rebind(query)
	}

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query+` ORDER BY user_id`, args...); err != nil {
		return nil, fmt.Errorf("ユニットメンバーの取得に失敗: %w", err)
	}
	return ids, nil
}

// ActiveSupportsFor はケースに対するアクティブなサポートを、担当者の一覧付きで返す。
func (r *Reader) ActiveSupportsFor(ctx context.Context, caseID string) ([]Support, error) {
	statuses := make([]string, 0, len(engagedStatuses))
	for s := range engagedStatuses {
		statuses = append(statuses, string(s))
	}

	query, args, err := sqlx.In(
		`SELECT id, unit_id, status FROM supports WHERE case_id = ? AND status IN (?) ORDER BY unit_id, id`,
		caseID, statuses)
	if err != nil {
		return nil, fmt.Errorf("サポート条件の組み立てに失敗: %w", err)
	}

	var supports []Support
	if err := r.db.SelectContext(ctx, &supports, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("アクティブなサポートの取得に失敗: %w", err)
	}

	for i := range supports {
		var members []string
		if err := r.db.SelectContext(ctx, &members,
			`SELECT user_id FROM support_assignments WHERE support_id = ? ORDER BY user_id`, supports[i].ID); err != nil {
			return nil, fmt.Errorf("サポート担当者の取得に失敗 (support_id=%s): %w", supports[i].ID, err)
		}
		supports[i].AssignedMemberIDs = members
	}
	return supports, nil
}

// LatestAssessmentSuggestedUnits はケースの最新のアセスメントで提案された組織ユニットのID一覧を返す。
// アセスメントが無い場合は空を返す。
func (r *Reader) LatestAssessmentSuggestedUnits(ctx context.Context, caseID string) ([]string, error) {
	var assessmentID string
	err := r.db.GetContext(ctx, &assessmentID,
		`SELECT id FROM assessments WHERE case_id = ? ORDER BY submitted_at DESC, rowid DESC LIMIT 1`, caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新アセスメントの取得に失敗: %w", err)
	}

	var unitIDs []string
	if err := r.db.SelectContext(ctx, &unitIDs,
		`SELECT unit_id FROM assessment_suggestions WHERE assessment_id = ? ORDER BY unit_id`, assessmentID); err != nil {
		return nil, fmt.Errorf("提案ユニットの取得に失敗: %w", err)
	}
	return unitIDs, nil
}

// UsersOfType は指定された種別の全ユーザーのID一覧を返す。
func (r *Reader) UsersOfType(ctx context.Context, userType UserType) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM users WHERE user_type = ? ORDER BY id`, string(userType)); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	return ids, nil
}

// SupportStatusesFor は組織ユニットが担当する各ケースの現在のサポート状態を返す。
// サポート記録が無いケースは結果に含まれない。同じケースに複数の記録がある場合は最後に更新されたものを使う。
func (r *Reader) SupportStatusesFor(ctx context.Context, unitID string, caseIDs []string) (map[string]SupportStatus, error) {
	statuses := make(map[string]SupportStatus)
	if unitID == "" || len(caseIDs) == 0 {
		return statuses, nil
	}

	query, args, err := sqlx.In(
		`SELECT case_id, status, updated_at FROM supports WHERE unit_id = ? AND case_id IN (?)`,
		unitID, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("サポート状態の条件の組み立てに失敗: %w", err)
	}

	var rows []struct {
		CaseID    string        `db:"case_id"`
		Status    SupportStatus `db:"status"`
		UpdatedAt time.Time     `db:"updated_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("サポート状態の取得に失敗: %w", err)
	}

	latest := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if at, ok := latest[row.CaseID]; ok && !row.UpdatedAt.After(at) {
			continue
		}
		latest[row.CaseID] = row.UpdatedAt
		statuses[row.CaseID] = row.Status
	}
	return statuses, nil
}

// EmailsOf はユーザーIDからメールアドレスへの対応を返す。
// メールアドレスが登録されていないユーザーは結果に含まれない。
func (r *Reader) EmailsOf(ctx context.Context, userIDs []string) (map[string]string, error) {
	emails := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return emails, nil
	}

	query, args, err := sqlx.In(`SELECT id, email FROM users WHERE id IN (?) AND email <> ''`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("メールアドレス条件の組み立てに失敗: %w", err)
	}

	var rows []struct {
		ID    string `db:"id"`
		Email string `db:"email"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("メールアドレスの取得に失敗: %w", err)
	}
	for _, row := range rows {
		emails[row.ID] = row.Email
	}
	return emails, nil
}
