package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/pkg/event"
)

// 詳細コード。
const (
	DetailInnovationSubmitted    = "INNOVATION_SUBMITTED"
	DetailOrganisationSuggestion = "ORGANISATION_SUGGESTION"
	DetailAssessmentCompleted    = "ASSESSMENT_COMPLETED"
	DetailSupportStatusUpdate    = "SUPPORT_STATUS_UPDATE"
	DetailActionCreation         = "ACTION_CREATION"
	DetailActionUpdate           = "ACTION_UPDATE"
	DetailCommentCreation        = "COMMENT_CREATION"
	DetailDocumentUploaded       = "DOCUMENT_UPLOADED"
)

// rule はイベントから作成する通知1件分の定義。
type rule struct {
	// audience は宛先カテゴリを決める関数。
	audience func(actor event.Actor) AudienceCategory
	// category は通知カテゴリ。
	category Category
	// detailCode は詳細コード。
	detailCode string
}

// fixed は実行者によらない宛先カテゴリを返す関数を作る。
func fixed(a AudienceCategory) func(event.Actor) AudienceCategory {
	return func(event.Actor) AudienceCategory { return a }
}

// counterpart はコメントの投稿者の反対側を宛先にする。
// イノベーターの投稿は担当者へ、それ以外の投稿はイノベーターへ通知する。
func counterpart(actor event.Actor) AudienceCategory {
	if casedata.Role(actor.Role) == casedata.RoleInnovator {
		return AudienceAccessors
	}
	return AudienceInnovators
}

// rules はイベント種別ごとに作成する通知の一覧。
var rules = map[event.Type][]rule{
	event.TypeCaseSubmitted: {
		{audience: fixed(AudienceAssessmentUsers), category: CategoryInnovation, detailCode: DetailInnovationSubmitted},
	},
	event.TypeAssessmentSubmitted: {
		{audience: fixed(AudienceQualifyingAccessors), category: CategoryInnovation, detailCode: DetailOrganisationSuggestion},
		{audience: fixed(AudienceInnovators), category: CategoryAssessment, detailCode: DetailAssessmentCompleted},
	},
	event.TypeSupportStatusUpdated: {
		{audience: fixed(AudienceInnovators), category: CategorySupport, detailCode: DetailSupportStatusUpdate},
	},
	event.TypeActionCreated: {
		{audience: fixed(AudienceInnovators), category: CategoryAction, detailCode: DetailActionCreation},
	},
	event.TypeActionUpdated: {
		{audience: fixed(AudienceAccessors), category: CategoryAction, detailCode: DetailActionUpdate},
	},
	event.TypeCommentCreated: {
		{audience: counterpart, category: CategoryComment, detailCode: DetailCommentCreation},
	},
	event.TypeDocumentUploaded: {
		{audience: fixed(AudienceAccessors), category: CategoryDocument, detailCode: DetailDocumentUploaded},
	},
}

// Trigger はドメインイベントを通知の作成に対応付ける。
type Trigger struct {
	// service は通知を作成するService。
	service *Service
}

// NewTrigger は新しいTriggerを生成する。
func NewTrigger(service *Service) *Trigger {
	return &Trigger{service: service}
}

// HandleEvent はイベント種別に対応する通知を作成する。
// 対応する通知が無いイベントは無視する。入力不正の通知はログに記録して破棄する。
// 同じイベントを再び受け取った場合、作成済みの通知は作り直さない。
func (t *Trigger) HandleEvent(ctx context.Context, ev *event.Event) error {
	eventRules, ok := rules[ev.EventType]
	if !ok {
		return nil
	}

	caseID, contextID, err := eventTarget(ev)
	if err != nil {
		return err
	}

	actor := Actor{
		ID:                 ev.Actor.ID,
		Role:               casedata.Role(ev.Actor.Role),
		OrganisationUnitID: ev.Actor.OrganisationUnitID,
	}

	for _, r := range eventRules {
		_, err := t.service.Create(ctx, actor, CreateInput{
			Audience:      r.audience(ev.Actor),
			CaseID:        caseID,
			Category:      r.category,
			DetailCode:    r.detailCode,
			ContextID:     contextID,
			Payload:       ev.Data,
			SourceEventID: ev.ID,
		})
		if errors.Is(err, ErrAlreadyNotified) {
			slog.DebugContext(ctx, "作成済みのため通知を作成しません",
				"event_id", ev.ID, "event_type", ev.EventType, "detail_code", r.detailCode)
			continue
		}
		if errors.Is(err, ErrInvalidParams) {
			slog.WarnContext(ctx, "入力不正のため通知を作成しません",
				"event_id", ev.ID, "event_type", ev.EventType, "detail_code", r.detailCode, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("%sの通知作成に失敗: %w", r.detailCode, err)
		}
	}
	return nil
}

// eventTarget はイベントから対象ケースのIDと対象エンティティのIDを取り出す。
func eventTarget(ev *event.Event) (caseID, contextID string, err error) {
	switch ev.EventType {
	case event.TypeCaseSubmitted:
		return ev.AggregateID, "", nil
	case event.TypeAssessmentSubmitted:
		data, err := event.DecodeData[event.AssessmentSubmittedData](ev)
		if err != nil {
			return "", "", fmt.Errorf("AssessmentSubmittedDataのデシリアライズに失敗: %w", err)
		}
		return data.CaseID, ev.AggregateID, nil
	case event.TypeSupportStatusUpdated:
		data, err := event.DecodeData[event.SupportStatusUpdatedData](ev)
		if err != nil {
			return "", "", fmt.Errorf("SupportStatusUpdatedDataのデシリアライズに失敗: %w", err)
		}
		return data.CaseID, ev.AggregateID, nil
	default:
		data, err := event.DecodeData[event.CaseActivityData](ev)
		if err != nil {
			return "", "", fmt.Errorf("CaseActivityDataのデシリアライズに失敗: %w", err)
		}
		return data.CaseID, data.ContextID, nil
	}
}
