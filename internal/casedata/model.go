package casedata

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationTable はRead Model用のバージョン管理テーブル名。
const migrationTable = "casedata_migrations"

// Migrate はRead Modelのテーブルを作成する。
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := migration.New(db, migrationTable).Apply(ctx, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("ケースRead Modelのマイグレーションに失敗: %w", err)
	}
	return nil
}

// SupportStatus は組織ユニットによるケースのサポート状態。
type SupportStatus string

const (
	// StatusEngaging はユニットがケースを支援中であることを表す。
	StatusEngaging SupportStatus = "ENGAGING"
	// StatusNotYet はユニットがまだ支援を開始していないことを表す。
	StatusNotYet SupportStatus = "NOT_YET"
	// StatusWaiting はユニットがイノベーターの応答待ちであることを表す。
	StatusWaiting SupportStatus = "WAITING"
	// StatusComplete は支援が完了したことを表す。
	StatusComplete SupportStatus = "COMPLETE"
	// StatusUnassigned は担当者が割り当てられていないことを表す。
	StatusUnassigned SupportStatus = "UNASSIGNED"
	// StatusUnsuitable はユニットが支援に適さないと判断したことを表す。
	StatusUnsuitable SupportStatus = "UNSUITABLE"
)

// engagedStatuses はアクティブなサポートとみなす状態の集合。
var engagedStatuses = map[SupportStatus]bool{
	StatusEngaging: true,
}

// IsEngaged はサポートがアクティブかどうかを返す。
func (s SupportStatus) IsEngaged() bool {
	return engagedStatuses[s]
}

// Valid は既知のサポート状態かどうかを返す。
func (s SupportStatus) Valid() bool {
	switch s {
	case StatusEngaging, StatusNotYet, StatusWaiting, StatusComplete, StatusUnassigned, StatusUnsuitable:
		return true
	default:
		return false
	}
}

// Role はユーザーのロール。組織ユニット内のロールとリクエスト実行者のロールを兼ねる。
type Role string

const (
	RoleInnovator          Role = "INNOVATOR"
	RoleAccessor           Role = "ACCESSOR"
	RoleQualifyingAccessor Role = "QUALIFYING_ACCESSOR"
	RoleAssessment         Role = "ASSESSMENT"
	RoleAdmin              Role = "ADMIN"
)

// IsUnitRole は組織ユニットのメンバーが持てるロールかどうかを返す。
func (r Role) IsUnitRole() bool {
	return r == RoleAccessor || r == RoleQualifyingAccessor
}

// UserType はプラットフォーム上のユーザー種別。
type UserType string

const (
	UserTypeInnovator  UserType = "INNOVATOR"
	UserTypeAccessor   UserType = "ACCESSOR"
	UserTypeAssessment UserType = "ASSESSMENT"
	UserTypeAdmin      UserType = "ADMIN"
)

// Valid は既知のユーザー種別かどうかを返す。
func (t UserType) Valid() bool {
	switch t {
	case UserTypeInnovator, UserTypeAccessor, UserTypeAssessment, UserTypeAdmin:
		return true
	default:
		return false
	}
}

// Support は組織ユニットによるケースのサポート記録。
type Support struct {
	// ID はサポートの一意識別子。
	ID string `db:"id"`
	// UnitID はサポートを担当する組織ユニットのID。
	UnitID string `db:"unit_id"`
	// Status は現在のサポート状態。
	Status SupportStatus `db:"status"`
	// AssignedMemberIDs はサポートに割り当てられたユニットメンバーのID一覧。
	AssignedMemberIDs []string `db:"-"`
}
