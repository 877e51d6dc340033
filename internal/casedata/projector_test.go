package casedata

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/internal/database"
	"github.com/nao1215/caseflow/pkg/event"
)

// setupTestDB はマイグレーション済みのインメモリSQLiteを作成する。
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return db
}

// newTestEvent はテスト用のイベントを生成する。
func newTestEvent(t *testing.T, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) *event.Event {
	t.Helper()

	ev, err := event.New(aggregateID, aggregateType, eventType, event.Actor{ID: "system"}, data)
	if err != nil {
		t.Fatalf("イベントの生成に失敗: %v", err)
	}
	return ev
}

// apply はイベントをProjectorに適用し、失敗した場合はテストを中断する。
func apply(t *testing.T, p *Projector, ev *event.Event) {
	t.Helper()

	if err := p.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent(%s)が失敗: %v", ev.EventType, err)
	}
}

func TestProjector_HandleEvent(t *testing.T) {
	t.Parallel()

	t.Run("正常系_CaseCreatedを2回適用してもケースは1件になる", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		ev := newTestEvent(t, "case-1", event.AggregateTypeCase, event.TypeCaseCreated,
			event.CaseCreatedData{OwnerID: "owner-1", Name: "テストケース"})
		apply(t, p, ev)
		apply(t, p, ev)

		var count int
		if err := db.Get(&count, `SELECT COUNT(*) FROM cases`); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 1 {
			t.Errorf("ケース件数 = %d, want 1", count)
		}

		owner, err := NewReader(db).CaseOwner(context.Background(), "case-1")
		if err != nil {
			t.Fatalf("CaseOwnerが失敗: %v", err)
		}
		if owner != "owner-1" {
			t.Errorf("owner = %q, want owner-1", owner)
		}
	})

	t.Run("正常系_CaseSharedは共有先を全置換する", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		apply(t, p, newTestEvent(t, "case-1", event.AggregateTypeCase, event.TypeCaseShared,
			event.CaseSharedData{OrganisationIDs: []string{"org-a", "org-b"}}))
		apply(t, p, newTestEvent(t, "case-1", event.AggregateTypeCase, event.TypeCaseShared,
			event.CaseSharedData{OrganisationIDs: []string{"org-b", "org-c"}}))

		got, err := NewReader(db).SharedOrganisations(context.Background(), "case-1")
		if err != nil {
			t.Fatalf("SharedOrganisationsが失敗: %v", err)
		}
		if want := []string{"org-b", "org-c"}; !slices.Equal(got, want) {
			t.Errorf("共有先 = %v, want %v", got, want)
		}
	})

	t.Run("正常系_UnitMemberRemovedでメンバーが外れる", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		apply(t, p, newTestEvent(t, "unit-1", event.AggregateTypeOrganisationUnit, event.TypeUnitMemberAdded,
			event.UnitMemberData{UserID: "user-1", Role: string(RoleAccessor)}))
		apply(t, p, newTestEvent(t, "unit-1", event.AggregateTypeOrganisationUnit, event.TypeUnitMemberAdded,
			event.UnitMemberData{UserID: "user-2", Role: string(RoleQualifyingAccessor)}))
		apply(t, p, newTestEvent(t, "unit-1", event.AggregateTypeOrganisationUnit, event.TypeUnitMemberRemoved,
			event.UnitMemberData{UserID: "user-1"}))

		got, err := NewReader(db).MembersOf(context.Background(), "unit-1")
		if err != nil {
			t.Fatalf("MembersOfが失敗: %v", err)
		}
		if want := []string{"user-2"}; !slices.Equal(got, want) {
			t.Errorf("メンバー = %v, want %v", got, want)
		}
	})

	t.Run("正常系_SupportStatusUpdatedは担当者を全置換する", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		apply(t, p, newTestEvent(t, "support-1", event.AggregateTypeSupport, event.TypeSupportStatusUpdated,
			event.SupportStatusUpdatedData{CaseID: "case-1", UnitID: "unit-1", Status: string(StatusEngaging),
				AssignedMemberIDs: []string{"user-1", "user-2"}}))
		apply(t, p, newTestEvent(t, "support-1", event.AggregateTypeSupport, event.TypeSupportStatusUpdated,
			event.SupportStatusUpdatedData{CaseID: "case-1", UnitID: "unit-1", Status: string(StatusEngaging),
				AssignedMemberIDs: []string{"user-3"}}))

		supports, err := NewReader(db).ActiveSupportsFor(context.Background(), "case-1")
		if err != nil {
			t.Fatalf("ActiveSupportsForが失敗: %v", err)
		}
		if len(supports) != 1 {
			t.Fatalf("サポート件数 = %d, want 1", len(supports))
		}
		if want := []string{"user-3"}; !slices.Equal(supports[0].AssignedMemberIDs, want) {
			t.Errorf("担当者 = %v, want %v", supports[0].AssignedMemberIDs, want)
		}
	})

	t.Run("異常系_不正なサポート状態はエラーになる", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		ev := newTestEvent(t, "support-1", event.AggregateTypeSupport, event.TypeSupportStatusUpdated,
			event.SupportStatusUpdatedData{CaseID: "case-1", UnitID: "unit-1", Status: "PAUSED"})
		if err := p.HandleEvent(context.Background(), ev); err == nil {
			t.Fatal("HandleEventがエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("異常系_ユニットメンバーに不正なロールはエラーになる", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		ev := newTestEvent(t, "unit-1", event.AggregateTypeOrganisationUnit, event.TypeUnitMemberAdded,
			event.UnitMemberData{UserID: "user-1", Role: string(RoleInnovator)})
		if err := p.HandleEvent(context.Background(), ev); err == nil {
			t.Fatal("HandleEventがエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("正常系_関係しないイベントは無視される", func(t *testing.T) {
		t.Parallel()

		db := setupTestDB(t)
		p := NewProjector(db)

		ev := newTestEvent(t, "case-1", event.AggregateTypeCase, event.TypeCommentCreated,
			event.CaseActivityData{CaseID: "case-1", ContextID: "thread-1"})
		if err := p.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleEventが失敗: %v", err)
		}
	})
}

func TestProjector_Rebuild(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	p := NewProjector(db)

	apply(t, p, newTestEvent(t, "case-stale", event.AggregateTypeCase, event.TypeCaseCreated,
		event.CaseCreatedData{OwnerID: "owner-stale"}))

	events := []*event.Event{
		newTestEvent(t, "case-1", event.AggregateTypeCase, event.TypeCaseCreated,
			event.CaseCreatedData{OwnerID: "owner-1"}),
		newTestEvent(t, "support-1", event.AggregateTypeSupport, event.TypeSupportStatusUpdated,
			event.SupportStatusUpdatedData{CaseID: "case-1", UnitID: "unit-1", Status: "BROKEN"}),
		newTestEvent(t, "user-1", event.AggregateTypeUser, event.TypeUserRegistered,
			event.UserRegisteredData{UserType: string(UserTypeAssessment), Email: "qa@example.com"}),
	}

	processed, err := p.Rebuild(context.Background(), events)
	if err != nil {
		t.Fatalf("Rebuildが失敗: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}

	reader := NewReader(db)
	owner, err := reader.CaseOwner(context.Background(), "case-stale")
	if err != nil {
		t.Fatalf("CaseOwnerが失敗: %v", err)
	}
	if owner != "" {
		t.Errorf("再構築前のケースが残っている: owner = %q", owner)
	}

	users, err := reader.UsersOfType(context.Background(), UserTypeAssessment)
	if err != nil {
		t.Fatalf("UsersOfTypeが失敗: %v", err)
	}
	if want := []string{"user-1"}; !slices.Equal(users, want) {
		t.Errorf("アセスメントユーザー = %v, want %v", users, want)
	}
}

func TestOccurredAt(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := occurredAt(&event.Event{CreatedAt: at}); !got.Equal(at) {
		t.Errorf("occurredAt = %v, want %v", got, at)
	}
	if got := occurredAt(&event.Event{}); got.IsZero() {
		t.Error("CreatedAt未設定の場合は現在時刻を返すべき")
	}
}
