package notification

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/caseflow/internal/casedata"
)

// OrganisationGraph は宛先解決に必要なケース周辺の読み取り操作。
// casedata.Reader が実装する。
type OrganisationGraph interface {
	CaseOwner(ctx context.Context, caseID string) (string, error)
	SharedOrganisations(ctx context.Context, caseID string) ([]string, error)
	UnitsOf(ctx context.Context, organisationID string) ([]string, error)
	MembersOf(ctx context.Context, unitID string, roles ...casedata.Role) ([]string, error)
	ActiveSupportsFor(ctx context.Context, caseID string) ([]casedata.Support, error)
	LatestAssessmentSuggestedUnits(ctx context.Context, caseID string) ([]string, error)
	UsersOfType(ctx context.Context, userType casedata.UserType) ([]string, error)
}

// resolveFunc は1つの宛先カテゴリの解決ルール。重複や実行者を含んでもよい。
type resolveFunc func(ctx context.Context, graph OrganisationGraph, caseID string) ([]string, error)

// strategies は宛先カテゴリごとの解決ルール。
var strategies = map[AudienceCategory]resolveFunc{
	AudienceInnovators:          resolveInnovators,
	AudienceAccessors:           resolveAccessors,
	AudienceQualifyingAccessors: resolveQualifyingAccessors,
	AudienceAssessmentUsers:     resolveAssessmentUsers,
}

// Resolver は宛先カテゴリから受信者のユーザーIDを解決する。
// 読み取りのみを行い、Read Modelを変更しない。
type Resolver struct {
	// graph はケース周辺の読み取り操作。
	graph OrganisationGraph
}

// NewResolver は新しいResolverを生成する。
func NewResolver(graph OrganisationGraph) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve は受信者のユーザーIDを重複なし・昇順で返す。実行者は必ず除外する。
// caseIDがUUIDでない場合や宛先カテゴリが不明な場合は ErrInvalidParams を返す。
// 宛先が正当に空の場合は空スライスを返す。読み取りに失敗した場合は部分的な結果を返さずにエラーを返す。
func (r *Resolver) Resolve(ctx context.Context, actor Actor, audience AudienceCategory, caseID string) ([]string, error) {
	if !validUUID(caseID) {
		return nil, fmt.Errorf("ケースIDが不正です: %q: %w", caseID, ErrInvalidParams)
	}
	resolve, ok := strategies[audience]
	if !ok {
		return nil, fmt.Errorf("宛先カテゴリが不正です: %q: %w", audience, ErrInvalidParams)
	}

	userIDs, err := resolve(ctx, r.graph, caseID)
	if err != nil {
		return nil, fmt.Errorf("宛先 %s の解決に失敗: %w", audience, err)
	}
	return normalizeRecipients(userIDs, actor.ID), nil
}

// normalizeRecipients は空文字と実行者を除き、重複を取り除いて昇順に並べる。
func normalizeRecipients(userIDs []string, actorID string) []string {
	result := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || id == actorID {
			continue
		}
		result = append(result, id)
	}
	slices.Sort(result)
	return slices.Compact(result)
}

// resolveInnovators はケースの所有者を返す。
func resolveInnovators(ctx context.Context, graph OrganisationGraph, caseID string) ([]string, error) {
	owner, err := graph.CaseOwner(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, nil
	}
	return []string{owner}, nil
}

// resolveAccessors はケースの共有先組織に属するユニットのうち、
// アクティブなサポートを持つユニットの担当者を返す。
func resolveAccessors(ctx context.Context, graph OrganisationGraph, caseID string) ([]string, error) {
	var (
		organisationIDs []string
		supports        []casedata.Support
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := graph.SharedOrganisations(gctx, caseID)
		organisationIDs = ids
		return err
	})
	g.Go(func() error {
		s, err := graph.ActiveSupportsFor(gctx, caseID)
		supports = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(organisationIDs) == 0 || len(supports) == 0 {
		return nil, nil
	}

	unitsByOrganisation := make([][]string, len(organisationIDs))
	g, gctx = errgroup.WithContext(ctx)
	for i, organisationID := range organisationIDs {
		g.Go(func() error {
			units, err := graph.UnitsOf(gctx, organisationID)
			unitsByOrganisation[i] = units
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sharedUnits := make(map[string]bool)
	for _, units := range unitsByOrganisation {
		for _, unitID := range units {
			sharedUnits[unitID] = true
		}
	}

	var userIDs []string
	for _, support := range supports {
		if !support.Status.IsEngaged() || !sharedUnits[support.UnitID] {
			continue
		}
		userIDs = append(userIDs, support.AssignedMemberIDs...)
	}
	return userIDs, nil
}

// resolveQualifyingAccessors は最新のアセスメントで提案された各ユニットのQualifying Accessorを返す。
func resolveQualifyingAccessors(ctx context.Context, graph OrganisationGraph, caseID string) ([]string, error) {
	unitIDs, err := graph.LatestAssessmentSuggestedUnits(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(unitIDs) == 0 {
		return nil, nil
	}

	membersByUnit := make([][]string, len(unitIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, unitID := range unitIDs {
		g.Go(func() error {
			members, err := graph.MembersOf(gctx, unitID, casedata.RoleQualifyingAccessor)
			membersByUnit[i] = members
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var userIDs []string
	for _, members := range membersByUnit {
		userIDs = append(userIDs, members...)
	}
	return userIDs, nil
}

// resolveAssessmentUsers はアセスメント担当の全ユーザーを返す。
func resolveAssessmentUsers(ctx context.Context, graph OrganisationGraph, _ string) ([]string, error) {
	return graph.UsersOfType(ctx, casedata.UserTypeAssessment)
}
