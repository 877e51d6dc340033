package notification

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/pkg/event"
)

// fakeGraph はテスト用のケース周辺の読み取り操作。
type fakeGraph struct {
	owner       string
	shared      []string
	units       map[string][]string
	members     map[string][]string
	supports    []casedata.Support
	suggested   []string
	assessment  []string
	statuses    map[string]casedata.SupportStatus
	err         error
	mu          sync.Mutex
	memberRoles []casedata.Role
}

func (g *fakeGraph) CaseOwner(context.Context, string) (string, error) {
	return g.owner, g.err
}

func (g *fakeGraph) SharedOrganisations(context.Context, string) ([]string, error) {
	return g.shared, g.err
}

func (g *fakeGraph) UnitsOf(_ context.Context, organisationID string) ([]string, error) {
	return g.units[organisationID], g.err
}

func (g *fakeGraph) MembersOf(_ context.Context, unitID string, roles ...casedata.Role) ([]string, error) {
	g.mu.Lock()
	g.memberRoles = roles
	g.mu.Unlock()
	return g.members[unitID], g.err
}

func (g *fakeGraph) ActiveSupportsFor(context.Context, string) ([]casedata.Support, error) {
	return g.supports, g.err
}

func (g *fakeGraph) LatestAssessmentSuggestedUnits(context.Context, string) ([]string, error) {
	return g.suggested, g.err
}

func (g *fakeGraph) UsersOfType(context.Context, casedata.UserType) ([]string, error) {
	return g.assessment, g.err
}

func (g *fakeGraph) SupportStatusesFor(context.Context, string, []string) (map[string]casedata.SupportStatus, error) {
	return g.statuses, g.err
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	actor := Actor{ID: "actor-1", Role: casedata.RoleAccessor}

	tests := []struct {
		name     string
		graph    *fakeGraph
		audience AudienceCategory
		want     []string
	}{
		{
			name:     "正常系_INNOVATORSはケースの所有者",
			graph:    &fakeGraph{owner: "owner-1"},
			audience: AudienceInnovators,
			want:     []string{"owner-1"},
		},
		{
			name:     "正常系_INNOVATORSで実行者が所有者の場合は空",
			graph:    &fakeGraph{owner: "actor-1"},
			audience: AudienceInnovators,
			want:     []string{},
		},
		{
			name: "正常系_ACCESSORSは共有先ユニットのアクティブなサポートの担当者",
			graph: &fakeGraph{
				shared: []string{"org-1"},
				units:  map[string][]string{"org-1": {"unit-1"}},
				supports: []casedata.Support{
					{ID: "s1", UnitID: "unit-1", Status: casedata.StatusEngaging, AssignedMemberIDs: []string{"acc-2", "acc-1", "actor-1"}},
				},
			},
			audience: AudienceAccessors,
			want:     []string{"acc-1", "acc-2"},
		},
		{
			name: "正常系_ACCESSORSは共有されていないユニットのサポートを除外する",
			graph: &fakeGraph{
				shared: []string{"org-1"},
				units:  map[string][]string{"org-1": {"unit-1"}},
				supports: []casedata.Support{
					{ID: "s1", UnitID: "unit-9", Status: casedata.StatusEngaging, AssignedMemberIDs: []string{"acc-9"}},
				},
			},
			audience: AudienceAccessors,
			want:     []string{},
		},
		{
			name: "正常系_ACCESSORSで複数サポートに同じ担当者がいても1人になる",
			graph: &fakeGraph{
				shared: []string{"org-1", "org-2"},
				units:  map[string][]string{"org-1": {"unit-1"}, "org-2": {"unit-2"}},
				supports: []casedata.Support{
					{ID: "s1", UnitID: "unit-1", Status: casedata.StatusEngaging, AssignedMemberIDs: []string{"acc-1"}},
					{ID: "s2", UnitID: "unit-2", Status: casedata.StatusEngaging, AssignedMemberIDs: []string{"acc-1"}},
				},
			},
			audience: AudienceAccessors,
			want:     []string{"acc-1"},
		},
		{
			name: "正常系_QUALIFYING_ACCESSORSは提案ユニットのQualifying Accessor",
			graph: &fakeGraph{
				suggested: []string{"unit-1", "unit-2"},
				members:   map[string][]string{"unit-1": {"qa-1"}, "unit-2": {"qa-2", "qa-1"}},
			},
			audience: AudienceQualifyingAccessors,
			want:     []string{"qa-1", "qa-2"},
		},
		{
			name:     "正常系_QUALIFYING_ACCESSORSで提案が無い場合は空",
			graph:    &fakeGraph{members: map[string][]string{"unit-1": {"qa-1"}}},
			audience: AudienceQualifyingAccessors,
			want:     []string{},
		},
		{
			name:     "正常系_ASSESSMENT_USERSはアセスメント担当の全ユーザー",
			graph:    &fakeGraph{assessment: []string{"as-2", "as-1", ""}},
			audience: AudienceAssessmentUsers,
			want:     []string{"as-1", "as-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewResolver(tt.graph).Resolve(context.Background(), actor, tt.audience, testCaseID)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
			if slices.Contains(got, actor.ID) {
				t.Errorf("実行者 %s が受信者に含まれている", actor.ID)
			}
		})
	}
}

func TestResolver_Resolve_QualifyingAccessorRole(t *testing.T) {
	t.Parallel()

	graph := &fakeGraph{suggested: []string{"unit-1"}, members: map[string][]string{"unit-1": {"qa-1"}}}
	if _, err := NewResolver(graph).Resolve(context.Background(), Actor{ID: "a"}, AudienceQualifyingAccessors, testCaseID); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !slices.Equal(graph.memberRoles, []casedata.Role{casedata.RoleQualifyingAccessor}) {
		t.Errorf("MembersOfのロール = %v, want [QUALIFYING_ACCESSOR]", graph.memberRoles)
	}
}

func TestResolver_Resolve_Error(t *testing.T) {
	t.Parallel()

	t.Run("異常系_ケースIDがUUIDでない", func(t *testing.T) {
		t.Parallel()

		_, err := NewResolver(&fakeGraph{}).Resolve(context.Background(), Actor{ID: "a"}, AudienceInnovators, "not-a-uuid")
		if !errors.Is(err, ErrInvalidParams) {
			t.Errorf("error = %v, want ErrInvalidParams", err)
		}
	})

	t.Run("異常系_不明な宛先カテゴリ", func(t *testing.T) {
		t.Parallel()

		_, err := NewResolver(&fakeGraph{}).Resolve(context.Background(), Actor{ID: "a"}, "EVERYONE", testCaseID)
		if !errors.Is(err, ErrInvalidParams) {
			t.Errorf("error = %v, want ErrInvalidParams", err)
		}
	})

	t.Run("異常系_読み取りに失敗した場合は部分的な結果を返さない", func(t *testing.T) {
		t.Parallel()

		readErr := errors.New("database is locked")
		graph := &fakeGraph{
			shared: []string{"org-1"},
			units:  map[string][]string{"org-1": {"unit-1"}},
			err:    readErr,
		}
		got, err := NewResolver(graph).Resolve(context.Background(), Actor{ID: "a"}, AudienceAccessors, testCaseID)
		if !errors.Is(err, readErr) {
			t.Errorf("error = %v, want %v", err, readErr)
		}
		if got != nil {
			t.Errorf("Resolve() = %v, want nil", got)
		}
	})
}

func TestResolver_Resolve_ReadModel(t *testing.T) {
	t.Parallel()

	t.Run("正常系_ENGAGINGのサポートが1件の場合は担当者のみ", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		seedCase(t, db, testCaseID)
		seedSupport(t, db, testSupportID, testCaseID, casedata.StatusEngaging, testAccessorID)

		got, err := NewResolver(casedata.NewReader(db)).Resolve(context.Background(),
			Actor{ID: testOwnerID, Role: casedata.RoleInnovator}, AudienceAccessors, testCaseID)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !slices.Equal(got, []string{testAccessorID}) {
			t.Errorf("Resolve() = %v, want [%s]", got, testAccessorID)
		}
	})

	t.Run("正常系_提案されていないユニットのQualifying Accessorは含まない", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		seedCase(t, db, testCaseID)
		seed(t, db, "assessment-1", event.AggregateTypeAssessment, event.TypeAssessmentSubmitted,
			event.AssessmentSubmittedData{CaseID: testCaseID, SuggestedUnitIDs: []string{testOtherUnitID}})

		got, err := NewResolver(casedata.NewReader(db)).Resolve(context.Background(),
			Actor{ID: testAssessorID}, AudienceQualifyingAccessors, testCaseID)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Resolve() = %v, want 空", got)
		}
	})
}
