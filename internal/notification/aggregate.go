package notification

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/internal/casedata"
)

// unreadPredicate は受信者行が未読であることを表す条件。既読か却下のどちらかが設定されると未読ではなくなる。
const unreadPredicate = `r.read_at IS NULL AND r.dismissed_at IS NULL`

// unreadFrom は削除されていない未読の受信者行を対象にするFROM句。
const unreadFrom = `
	FROM notification_recipients r
	JOIN notifications n ON n.id = r.notification_id
	WHERE r.user_id = ? AND n.deleted_at IS NULL AND r.deleted_at IS NULL AND ` + unreadPredicate

// SupportStatusReader は組織ユニットが担当するケースの現在のサポート状態を返す。
// casedata.Reader が実装する。
type SupportStatusReader interface {
	SupportStatusesFor(ctx context.Context, unitID string, caseIDs []string) (map[string]casedata.SupportStatus, error)
}

// Aggregator は未読数を集計する。
type Aggregator struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// supports はサポート状態の読み取り操作。
	supports SupportStatusReader
}

// NewAggregator は新しいAggregatorを生成する。
func NewAggregator(db *sqlx.DB, supports SupportStatusReader) *Aggregator {
	return &Aggregator{db: db, supports: supports}
}

// UnreadCounts はケースに関するユーザーの未読数をカテゴリ別に返す。未読の無いカテゴリは0になる。
// caseIDがUUIDでない場合は ErrInvalidParams を返す。
func (a *Aggregator) UnreadCounts(ctx context.Context, userID, caseID string) (map[Category]int, error) {
	if !validUUID(caseID) {
		return nil, fmt.Errorf("ケースIDが不正です: %q: %w", caseID, ErrInvalidParams)
	}

	var rows []struct {
		Category Category `db:"category"`
		Count    int      `db:"count"`
	}
	if err := a.db.SelectContext(ctx, &rows,
		`SELECT n.category AS category, COUNT(*) AS count`+unreadFrom+` AND n.case_id = ? GROUP BY n.category`,
		userID, caseID); err != nil {
		return nil, fmt.Errorf("カテゴリ別未読数の取得に失敗: %w", err)
	}

	counts := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}

// UnreadTotal はユーザーの全ケースの未読数を返す。
func (a *Aggregator) UnreadTotal(ctx context.Context, userID string) (int, error) {
	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*)`+unreadFrom, userID); err != nil {
		return 0, fmt.Errorf("未読総数の取得に失敗: %w", err)
	}
	return total, nil
}

// GroupedBySupportStatus はユーザーの未読数を、ユーザーの組織ユニットにおける各ケースの現在のサポート状態別に返す。
// サポート状態は集計時点のものを使うため、同じ通知でも集計のたびに所属する状態が変わりうる。
// ユニットのサポート記録が無いケースは集計に含めない。組織ユニットに所属しないユーザーは空を返す。
func (a *Aggregator) GroupedBySupportStatus(ctx context.Context, actor Actor) (map[casedata.SupportStatus]int, error) {
	grouped := make(map[casedata.SupportStatus]int)
	if actor.OrganisationUnitID == "" {
		return grouped, nil
	}

	var rows []struct {
		CaseID string `db:"case_id"`
		Count  int    `db:"count"`
	}
	if err := a.db.SelectContext(ctx, &rows,
		`SELECT n.case_id AS case_id, COUNT(*) AS count`+unreadFrom+` GROUP BY n.case_id`,
		actor.ID); err != nil {
		return nil, fmt.Errorf("ケース別未読数の取得に失敗: %w", err)
	}
	if len(rows) == 0 {
		return grouped, nil
	}

	caseIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		caseIDs = append(caseIDs, row.CaseID)
	}
	statuses, err := a.supports.SupportStatusesFor(ctx, actor.OrganisationUnitID, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("サポート状態の取得に失敗: %w", err)
	}

	for _, row := range rows {
		status, ok := statuses[row.CaseID]
		if !ok {
			continue
		}
		grouped[status] += row.Count
	}
	return grouped, nil
}
