package casedata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/pkg/event"
)

// Projector はドメインイベントをRead Modelに反映する。
// 同じイベントを複数回適用しても結果が変わらないよう、書き込みは全てUPSERTまたは全置換で行う。
type Projector struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
}

// NewProjector は新しいProjectorを生成する。
func NewProjector(db *sqlx.DB) *Projector {
	return &Projector{db: db}
}

// HandleEvent は1つのイベントをRead Modelに反映する。
// Read Modelに関係しないイベントは無視する。
func (p *Projector) HandleEvent(ctx context.Context, ev *event.Event) error {
	switch ev.EventType {
	case event.TypeCaseCreated:
		return p.handleCaseCreated(ctx, ev)
	case event.TypeCaseShared:
		return p.handleCaseShared(ctx, ev)
	case event.TypeOrganisationUnitCreated:
		return p.handleOrganisationUnitCreated(ctx, ev)
	case event.TypeUnitMemberAdded:
		return p.handleUnitMemberAdded(ctx, ev)
	case event.TypeUnitMemberRemoved:
		return p.handleUnitMemberRemoved(ctx, ev)
	case event.TypeUserRegistered:
		return p.handleUserRegistered(ctx, ev)
	case event.TypeSupportStatusUpdated:
		return p.handleSupportStatusUpdated(ctx, ev)
	case event.TypeAssessmentSubmitted:
		return p.handleAssessmentSubmitted(ctx, ev)
	default:
		return nil
	}
}

// handleCaseCreated はケースを登録する。
func (p *Projector) handleCaseCreated(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.CaseCreatedData](ev)
	if err != nil {
		return fmt.Errorf("CaseCreatedDataのデシリアライズに失敗: %w", err)
	}
	if data.OwnerID == "" {
		return fmt.Errorf("ケース所有者が空です: case_id=%s", ev.AggregateID)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO cases (id, owner_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, name = excluded.name`,
		ev.AggregateID, data.OwnerID, data.Name)
	if err != nil {
		return fmt.Errorf("ケースの登録に失敗: %w", err)
	}
	return nil
}

// handleCaseShared はケースの共有先組織を全置換する。
func (p *Projector) handleCaseShared(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.CaseSharedData](ev)
	if err != nil {
		return fmt.Errorf("CaseSharedDataのデシリアライズに失敗: %w", err)
	}

	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM case_shares WHERE case_id = ?`, ev.AggregateID); err != nil {
			return fmt.Errorf("共有先の削除に失敗: %w", err)
		}
		for _, orgID := range data.OrganisationIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO case_shares (case_id, organisation_id) VALUES (?, ?)`,
				ev.AggregateID, orgID); err != nil {
				return fmt.Errorf("共有先の登録に失敗: %w", err)
			}
		}
		return nil
	})
}

// handleOrganisationUnitCreated は組織ユニットを登録する。
func (p *Projector) handleOrganisationUnitCreated(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.OrganisationUnitCreatedData](ev)
	if err != nil {
		return fmt.Errorf("OrganisationUnitCreatedDataのデシリアライズに失敗: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO organisation_units (id, organisation_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET organisation_id = excluded.organisation_id, name = excluded.name`,
		ev.AggregateID, data.OrganisationID, data.Name)
	if err != nil {
		return fmt.Errorf("組織ユニットの登録に失敗: %w", err)
	}
	return nil
}

// handleUnitMemberAdded はユニットメンバーを登録する。既存メンバーの場合はロールを更新する。
func (p *Projector) handleUnitMemberAdded(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.UnitMemberData](ev)
	if err != nil {
		return fmt.Errorf("UnitMemberDataのデシリアライズに失敗: %w", err)
	}
	if !Role(data.Role).IsUnitRole() {
		return fmt.Errorf("ユニットメンバーのロールが不正です: %q", data.Role)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO unit_members (unit_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT(unit_id, user_id) DO UPDATE SET role = excluded.role`,
		ev.AggregateID, data.UserID, data.Role)
	if err != nil {
		return fmt.Errorf("ユニットメンバーの登録に失敗: %w", err)
	}
	return nil
}

// handleUnitMemberRemoved はユニットメンバーを削除する。
func (p *Projector) handleUnitMemberRemoved(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.UnitMemberData](ev)
	if err != nil {
		return fmt.Errorf("UnitMemberDataのデシリアライズに失敗: %w", err)
	}

	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM unit_members WHERE unit_id = ? AND user_id = ?`, ev.AggregateID, data.UserID); err != nil {
		return fmt.Errorf("ユニットメンバーの削除に失敗: %w", err)
	}
	return nil
}

// handleUserRegistered はユーザーを登録する。
func (p *Projector) handleUserRegistered(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.UserRegisteredData](ev)
	if err != nil {
		return fmt.Errorf("UserRegisteredDataのデシリアライズに失敗: %w", err)
	}
	if !UserType(data.UserType).Valid() {
		return fmt.Errorf("ユーザー種別が不正です: %q", data.UserType)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (id, user_type, email, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_type = excluded.user_type, email = excluded.email, name = excluded.name`,
		ev.AggregateID, data.UserType, data.Email, data.Name)
	if err != nil {
		return fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return nil
}

// handleSupportStatusUpdated はサポートの状態と担当者を更新する。担当者は全置換する。
func (p *Projector) handleSupportStatusUpdated(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.SupportStatusUpdatedData](ev)
	if err != nil {
		return fmt.Errorf("SupportStatusUpdatedDataのデシリアライズに失敗: %w", err)
	}
	if !SupportStatus(data.Status).Valid() {
		return fmt.Errorf("サポート状態が不正です: %q", data.Status)
	}

	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO supports (id, case_id, unit_id, status, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				case_id = excluded.case_id,
				unit_id = excluded.unit_id,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			ev.AggregateID, data.CaseID, data.UnitID, data.Status, occurredAt(ev)); err != nil {
			return fmt.Errorf("サポートの更新に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM support_assignments WHERE support_id = ?`, ev.AggregateID); err != nil {
			return fmt.Errorf("サポート担当者の削除に失敗: %w", err)
		}
		for _, userID := range data.AssignedMemberIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO support_assignments (support_id, user_id) VALUES (?, ?)`,
				ev.AggregateID, userID); err != nil {
				return fmt.Errorf("サポート担当者の登録に失敗: %w", err)
			}
		}
		return nil
	})
}

// handleAssessmentSubmitted はアセスメントと提案ユニットを登録する。提案ユニットは全置換する。
func (p *Projector) handleAssessmentSubmitted(ctx context.Context, ev *event.Event) error {
	data, err := event.DecodeData[event.AssessmentSubmittedData](ev)
	if err != nil {
		return fmt.Errorf("AssessmentSubmittedDataのデシリアライズに失敗: %w", err)
	}

	return p.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assessments (id, case_id, submitted_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET case_id = excluded.case_id, submitted_at = excluded.submitted_at`,
			ev.AggregateID, data.CaseID, occurredAt(ev)); err != nil {
			return fmt.Errorf("アセスメントの登録に失敗: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assessment_suggestions WHERE assessment_id = ?`, ev.AggregateID); err != nil {
			return fmt.Errorf("提案ユニットの削除に失敗: %w", err)
		}
		for _, unitID := range data.SuggestedUnitIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO assessment_suggestions (assessment_id, unit_id) VALUES (?, ?)`,
				ev.AggregateID, unitID); err != nil {
				return fmt.Errorf("提案ユニットの登録に失敗: %w", err)
			}
		}
		return nil
	})
}

// readModelTables はRebuild時に全削除するテーブル。
var readModelTables = []string{
	"cases",
	"case_shares",
	"organisation_units",
	"unit_members",
	"users",
	"supports",
	"support_assignments",
	"assessments",
	"assessment_suggestions",
}

// Rebuild はRead Modelを全削除し、与えられたイベント列から再構築する。
// 個々のイベントの適用に失敗した場合はログに記録して次のイベントに進む。処理できた件数を返す。
func (p *Projector) Rebuild(ctx context.Context, events []*event.Event) (int, error) {
	slog.InfoContext(ctx, "Read Modelの再構築を開始します", "events", len(events))

	if err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range readModelTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("%sの全削除に失敗: %w", table, err)
			}
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("Read Modelの全削除に失敗: %w", err)
	}

	var processed int
	for _, ev := range events {
		if err := p.HandleEvent(ctx, ev); err != nil {
			slog.WarnContext(ctx, "再構築中のイベント処理に失敗しました",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
			continue
		}
		processed++
	}

	slog.InfoContext(ctx, "Read Modelの再構築が完了しました", "processed", processed)
	return processed, nil
}

// inTx はfnをトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
func (p *Projector) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// occurredAt はイベントの発生日時を返す。未設定の場合は現在時刻を使う。
func occurredAt(ev *event.Event) time.Time {
	if ev.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return ev.CreatedAt.UTC()
}
