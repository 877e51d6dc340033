package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/internal/database"
	"github.com/nao1215/caseflow/pkg/event"
)

// テストで使う識別子。
const (
	testCaseID      = "11111111-1111-4111-8111-111111111111"
	testOtherCaseID = "22222222-2222-4222-8222-222222222222"
	testOwnerID     = "innovator-1"
	testOrgID       = "org-1"
	testUnitID      = "unit-1"
	testOtherUnitID = "unit-2"
	testAccessorID  = "accessor-1"
	testQAID        = "qa-1"
	testAssessorID  = "assessor-1"
	testSupportID   = "support-1"
)

// setupTestDB はRead Modelと通知テーブルをマイグレーションしたインメモリSQLiteを作成する。
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := casedata.Migrate(ctx, db); err != nil {
		t.Fatalf("Read Modelのマイグレーションに失敗: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("通知テーブルのマイグレーションに失敗: %v", err)
	}
	return db
}

// seed はイベントをRead Modelに適用する。
func seed(t *testing.T, db *sqlx.DB, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	t.Helper()

	ev, err := event.New(aggregateID, aggregateType, eventType, event.Actor{ID: "system"}, data)
	if err != nil {
		t.Fatalf("イベントの生成に失敗: %v", err)
	}
	if err := casedata.NewProjector(db).HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("%sの適用に失敗: %v", eventType, err)
	}
}

// seedCase は組織 org-1 に共有されたケースと、その組織のユニット unit-1 を用意する。
// unit-1 には担当者 accessor-1 と Qualifying Accessor qa-1 が所属する。
func seedCase(t *testing.T, db *sqlx.DB, caseID string) {
	t.Helper()

	seed(t, db, caseID, event.AggregateTypeCase, event.TypeCaseCreated,
		event.CaseCreatedData{OwnerID: testOwnerID, Name: "テストケース"})
	seed(t, db, caseID, event.AggregateTypeCase, event.TypeCaseShared,
		event.CaseSharedData{OrganisationIDs: []string{testOrgID}})
	seed(t, db, testUnitID, event.AggregateTypeOrganisationUnit, event.TypeOrganisationUnitCreated,
		event.OrganisationUnitCreatedData{OrganisationID: testOrgID, Name: "ユニット1"})
	seed(t, db, testUnitID, event.AggregateTypeOrganisationUnit, event.TypeUnitMemberAdded,
		event.UnitMemberData{UserID: testAccessorID, Role: string(casedata.RoleAccessor)})
	seed(t, db, testUnitID, event.AggregateTypeOrganisationUnit, event.TypeUnitMemberAdded,
		event.UnitMemberData{UserID: testQAID, Role: string(casedata.RoleQualifyingAccessor)})
	seed(t, db, testAssessorID, event.AggregateTypeUser, event.TypeUserRegistered,
		event.UserRegisteredData{UserType: string(casedata.UserTypeAssessment), Email: "assessor@example.com"})
}

// seedSupport はunit-1によるケースのサポートを登録する。
func seedSupport(t *testing.T, db *sqlx.DB, supportID, caseID string, status casedata.SupportStatus, assigned ...string) {
	t.Helper()

	seed(t, db, supportID, event.AggregateTypeSupport, event.TypeSupportStatusUpdated,
		event.SupportStatusUpdatedData{
			CaseID:            caseID,
			UnitID:            testUnitID,
			Status:            string(status),
			AssignedMemberIDs: assigned,
		})
}

// insertNotification は受信者付きの通知を直接保存する。
func insertNotification(t *testing.T, store *Store, caseID string, category Category, createdAt time.Time, recipients ...string) *Notification {
	t.Helper()

	n := &Notification{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		Category:   category,
		DetailCode: "TEST_DETAIL",
		CreatedBy:  testOwnerID,
		CreatedAt:  createdAt,
	}
	if err := store.Insert(context.Background(), n, recipients); err != nil {
		t.Fatalf("通知の保存に失敗: %v", err)
	}
	return n
}
