package notification

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationTable は通知テーブル用のバージョン管理テーブル名。
const migrationTable = "notification_migrations"

// Migrate は通知関連のテーブルを作成する。
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := migration.New(db, migrationTable).Apply(ctx, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("通知テーブルのマイグレーションに失敗: %w", err)
	}
	return nil
}

// AudienceCategory は通知の宛先を決めるルールの種類。
type AudienceCategory string

const (
	// AudienceInnovators はケースの所有者。
	AudienceInnovators AudienceCategory = "INNOVATORS"
	// AudienceAccessors はケースをアクティブに支援しているユニットの担当者。
	AudienceAccessors AudienceCategory = "ACCESSORS"
	// AudienceQualifyingAccessors は最新のアセスメントで提案されたユニットのQualifying Accessor。
	AudienceQualifyingAccessors AudienceCategory = "QUALIFYING_ACCESSORS"
	// AudienceAssessmentUsers はアセスメント担当の全ユーザー。
	AudienceAssessmentUsers AudienceCategory = "ASSESSMENT_USERS"
)

// Category は通知のカテゴリ。未読数の集計とメール配信設定の単位になる。
type Category string

const (
	CategoryInnovation Category = "INNOVATION"
	CategoryAction     Category = "ACTION"
	CategoryComment    Category = "COMMENT"
	CategorySupport    Category = "SUPPORT"
	CategoryDocument   Category = "DOCUMENT"
	CategoryAssessment Category = "ASSESSMENT"
)

// Categories は既知の全カテゴリ。
var Categories = []Category{
	CategoryInnovation,
	CategoryAction,
	CategoryComment,
	CategorySupport,
	CategoryDocument,
	CategoryAssessment,
}

// Valid は既知のカテゴリかどうかを返す。
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Preference はカテゴリごとのメール配信設定。
type Preference string

const (
	// PreferenceNever はメールを送らない。
	PreferenceNever Preference = "NEVER"
	// PreferenceDaily は日次ダイジェストで送る。通知作成時には送らない。
	PreferenceDaily Preference = "DAILY"
	// PreferenceInstantly は通知作成時に送る。
	PreferenceInstantly Preference = "INSTANTLY"
)

// DefaultPreference は設定が無い場合の配信設定。
const DefaultPreference = PreferenceInstantly

// Valid は既知の配信設定かどうかを返す。
func (p Preference) Valid() bool {
	return p == PreferenceNever || p == PreferenceDaily || p == PreferenceInstantly
}

// Actor は操作を行うユーザー。
type Actor struct {
	// ID はユーザーの一意識別子。
	ID string
	// Role はユーザーのロール。
	Role casedata.Role
	// OrganisationUnitID はユーザーが所属する組織ユニットのID。所属が無い場合は空。
	OrganisationUnitID string
}

// Notification は1件のドメインイベントに対応する通知ヘッダー。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// CaseID は対象ケースのID。
	CaseID string
	// Category は通知カテゴリ。
	Category Category
	// DetailCode はカテゴリ内の詳細コード。メールテンプレートのキーにも使う。
	DetailCode string
	// ContextID はアクションIDやスレッドIDなど、対象エンティティのID。
	ContextID string
	// Payload は通知本文の組み立てに使うJSON。
	Payload json.RawMessage
	// CreatedBy は通知を発生させたユーザーのID。
	CreatedBy string
	// SourceEventID は通知を発生させたドメインイベントのID。APIから直接作成した場合は空。
	SourceEventID string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// Recipients は受信者のユーザーID一覧。作成時のみ設定する。
	Recipients []string
}

// InboxItem は受信者から見た通知。
type InboxItem struct {
	Notification
	// ReadAt は既読日時。未読の場合はnil。
	ReadAt *time.Time
	// DismissedAt は却下日時。
	DismissedAt *time.Time
}

// CreateInput は通知作成の入力。
type CreateInput struct {
	// Audience は宛先カテゴリ。
	Audience AudienceCategory
	// CaseID は対象ケースのID（UUID）。
	CaseID string
	// Category は通知カテゴリ。
	Category Category
	// DetailCode はカテゴリ内の詳細コード。
	DetailCode string
	// ContextID は対象エンティティのID。任意。
	ContextID string
	// Payload は通知本文の組み立てに使うJSON。空の場合は {} を保存する。
	Payload json.RawMessage
	// SourceEventID は通知を発生させたドメインイベントのID。
	// 指定した場合、同じイベントと詳細コードの2回目以降の作成は ErrAlreadyNotified になる。
	SourceEventID string
}

// DismissFilter は却下対象を絞り込む条件。
// NotificationIDs、Category、ContextIDs、ContextDetails のいずれかの指定が必須。
type DismissFilter struct {
	// NotificationIDs は対象の通知ID。
	NotificationIDs []string
	// Category は対象のカテゴリ。
	Category Category
	// ContextIDs は対象エンティティのID。
	ContextIDs []string
	// ContextDetails は対象の詳細コード。
	ContextDetails []string
	// CaseID は対象ケースのID。単独では絞り込み条件とみなさない。
	CaseID string
}

// scoped は却下範囲を絞り込む条件が指定されているかどうかを返す。
func (f DismissFilter) scoped() bool {
	return len(f.NotificationIDs) > 0 || f.Category != "" || len(f.ContextIDs) > 0 || len(f.ContextDetails) > 0
}

const (
	// defaultTake は一覧取得の既定件数。
	defaultTake = 20
	// maxTake は一覧取得の最大件数。
	maxTake = 100
)

// ListOptions はケース別の通知一覧の取得条件。
type ListOptions struct {
	// Skip は読み飛ばす件数。
	Skip int
	// Take は取得件数。0以下の場合は20件、100件を超える場合は100件。
	Take int
	// Category は指定した場合にそのカテゴリのみ返す。
	Category Category
	// UnreadOnly は未読のみ返すかどうか。
	UnreadOnly bool
}

// normalize は取得件数の既定値と上限を適用する。
func (o ListOptions) normalize() ListOptions {
	switch {
	case o.Take <= 0:
		o.Take = defaultTake
	case o.Take > maxTake:
		o.Take = maxTake
	}
	return o
}

// ListResult はケース別の通知一覧。
type ListResult struct {
	// Data は取得した通知。新しい順。
	Data []InboxItem
	// Count はページング前の総件数。
	Count int
}

// StatusDeleted は削除結果の状態。
const StatusDeleted = "DELETED"

// DeleteResult は削除の結果。
type DeleteResult struct {
	// ID は削除した通知のID。
	ID string
	// Status は常に "DELETED"。
	Status string
}

// PreferenceEntry はカテゴリとメール配信設定の組。
type PreferenceEntry struct {
	// Category は通知カテゴリ。
	Category Category `json:"category"`
	// Preference は配信設定。
	Preference Preference `json:"preference"`
}

// 配信設定の更新結果の状態。
const (
	UpdateStatusOK    = "OK"
	UpdateStatusError = "ERROR"
)

// PreferenceResult は配信設定1行分の更新結果。
type PreferenceResult struct {
	// Category は通知カテゴリ。
	Category Category `json:"category"`
	// Status は OK または ERROR。
	Status string `json:"status"`
	// Error は失敗理由。成功した場合は空。
	Error string `json:"error,omitempty"`
}

// validUUID は文字列がUUID形式かどうかを返す。
func validUUID(s string) bool {
	return uuid.Validate(s) == nil
}
