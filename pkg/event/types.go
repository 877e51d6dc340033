package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeCase はケース（イノベーション）エンティティを表す。
	AggregateTypeCase AggregateType = "Case"
	// AggregateTypeOrganisationUnit は組織ユニットエンティティを表す。
	AggregateTypeOrganisationUnit AggregateType = "OrganisationUnit"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeSupport はサポート（組織ユニットとケースの割り当て）エンティティを表す。
	AggregateTypeSupport AggregateType = "Support"
	// AggregateTypeAssessment はアセスメントエンティティを表す。
	AggregateTypeAssessment AggregateType = "Assessment"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeCaseCreated はケースが作成されたことを表す。
	TypeCaseCreated Type = "CaseCreated"
	// TypeCaseShared はケースの共有先組織が更新されたことを表す。
	TypeCaseShared Type = "CaseShared"
	// TypeCaseSubmitted はケースがアセスメント待ちとして提出されたことを表す。
	TypeCaseSubmitted Type = "CaseSubmitted"

	// TypeOrganisationUnitCreated は組織ユニットが作成されたことを表す。
	TypeOrganisationUnitCreated Type = "OrganisationUnitCreated"
	// TypeUnitMemberAdded は組織ユニットにメンバーが追加されたことを表す。
	TypeUnitMemberAdded Type = "UnitMemberAdded"
	// TypeUnitMemberRemoved は組織ユニットからメンバーが外されたことを表す。
	TypeUnitMemberRemoved Type = "UnitMemberRemoved"

	// TypeUserRegistered はユーザーが登録されたことを表す。
	TypeUserRegistered Type = "UserRegistered"

	// TypeSupportStatusUpdated はサポートの状態または担当者が更新されたことを表す。
	TypeSupportStatusUpdated Type = "SupportStatusUpdated"

	// TypeAssessmentSubmitted はアセスメントが完了し、組織ユニットが提案されたことを表す。
	TypeAssessmentSubmitted Type = "AssessmentSubmitted"

	// TypeActionCreated はイノベーターへのアクションが作成されたことを表す。
	TypeActionCreated Type = "ActionCreated"
	// TypeActionUpdated はアクションの状態が更新されたことを表す。
	TypeActionUpdated Type = "ActionUpdated"
	// TypeCommentCreated はケースにコメントが投稿されたことを表す。
	TypeCommentCreated Type = "CommentCreated"
	// TypeDocumentUploaded はケースにドキュメントがアップロードされたことを表す。
	TypeDocumentUploaded Type = "DocumentUploaded"
)

// Actor はイベントを発生させたユーザーを表す。
type Actor struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Role はユーザーのロール（INNOVATOR, ACCESSOR など）。
	Role string `json:"role"`
	// OrganisationUnitID はユーザーが所属する組織ユニットのID。
	OrganisationUnitID string `json:"organisation_unit_id,omitempty"`
}

// Event はプラットフォームで発生したドメインイベントを表す。
// イベントフィードから配信され、Read Modelの更新と通知の生成に使用する。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Actor はイベントを発生させたユーザー。
	Actor Actor `json:"actor"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// CaseCreatedData はCaseCreatedイベントのデータ。AggregateIDはケースID。
type CaseCreatedData struct {
	// OwnerID はケースを所有するイノベーターのユーザーID。
	OwnerID string `json:"owner_id"`
	// Name はケース名。
	Name string `json:"name"`
}

// CaseSharedData はCaseSharedイベントのデータ。共有先は全置換される。
type CaseSharedData struct {
	// OrganisationIDs はケースを閲覧できる組織のID一覧。
	OrganisationIDs []string `json:"organisation_ids"`
}

// CaseSubmittedData はCaseSubmittedイベントのデータ。
type CaseSubmittedData struct {
	// Name はケース名。
	Name string `json:"name"`
}

// OrganisationUnitCreatedData はOrganisationUnitCreatedイベントのデータ。AggregateIDはユニットID。
type OrganisationUnitCreatedData struct {
	// OrganisationID はユニットが属する組織のID。
	OrganisationID string `json:"organisation_id"`
	// Name はユニット名。
	Name string `json:"name"`
}

// UnitMemberData はUnitMemberAdded/UnitMemberRemovedイベントのデータ。AggregateIDはユニットID。
type UnitMemberData struct {
	// UserID はメンバーのユーザーID。
	UserID string `json:"user_id"`
	// Role はユニット内のロール（ACCESSOR, QUALIFYING_ACCESSOR）。
	Role string `json:"role"`
}

// UserRegisteredData はUserRegisteredイベントのデータ。AggregateIDはユーザーID。
type UserRegisteredData struct {
	// UserType はユーザー種別（INNOVATOR, ACCESSOR, ASSESSMENT, ADMIN）。
	UserType string `json:"user_type"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
}

// SupportStatusUpdatedData はSupportStatusUpdatedイベントのデータ。AggregateIDはサポートID。
type SupportStatusUpdatedData struct {
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id"`
	// UnitID はサポートを担当する組織ユニットのID。
	UnitID string `json:"unit_id"`
	// Status は更新後のサポート状態。
	Status string `json:"status"`
	// AssignedMemberIDs は割り当てられたユニットメンバーのID一覧。全置換される。
	AssignedMemberIDs []string `json:"assigned_member_ids"`
}

// AssessmentSubmittedData はAssessmentSubmittedイベントのデータ。AggregateIDはアセスメントID。
type AssessmentSubmittedData struct {
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id"`
	// SuggestedUnitIDs はアセスメントで提案された組織ユニットのID一覧。
	SuggestedUnitIDs []string `json:"suggested_unit_ids"`
}

// CaseActivityData はアクション・コメント・ドキュメント系イベントのデータ。
type CaseActivityData struct {
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id"`
	// ContextID はアクションID・スレッドID・ドキュメントIDなど対象エンティティのID。
	ContextID string `json:"context_id"`
	// Summary は通知に含める短い説明。
	Summary string `json:"summary,omitempty"`
}
