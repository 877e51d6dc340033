package migration

import (
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// インメモリDBは接続ごとに別のデータベースになるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// recipientsFS は通知の受信者テーブルを段階的に作るマイグレーション。
var recipientsFS = fstest.MapFS{
	"migrations/000002_add_read_at.up.sql":  {Data: []byte(`ALTER TABLE recipients ADD COLUMN read_at TEXT;`)},
	"migrations/000001_recipients.up.sql":   {Data: []byte(`CREATE TABLE recipients (id TEXT PRIMARY KEY, user_id TEXT NOT NULL);`)},
	"migrations/000001_recipients.down.sql": {Data: []byte(`DROP TABLE recipients;`)},
	"migrations/README.md":                  {Data: []byte(`ignored`)},
}

// TestMigrator_Apply はマイグレーションの適用を検証する。
func TestMigrator_Apply(t *testing.T) {
	t.Parallel()

	t.Run("正常系_バージョン順に適用され記録されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		m := New(db, "test_migrations")
		n, err := m.Apply(t.Context(), recipientsFS, "migrations")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if _, err := db.Exec(`INSERT INTO recipients (id, user_id, read_at) VALUES ('r-1', 'u-1', NULL)`); err != nil {
			t.Fatalf("マイグレーション後のテーブルに挿入できない: %v", err)
		}

		records, err := m.Applied(t.Context())
		if err != nil {
			t.Fatalf("Applied() error = %v", err)
		}
		if len(records) != 2 || records[0].Version != 1 || records[1].Name != "add_read_at" {
			t.Errorf("records = %+v", records)
		}
		if records[0].AppliedAt == "" {
			t.Error("AppliedAtが空")
		}
	})

	t.Run("正常系_2回目は何も適用しないこと", func(t *testing.T) {
		t.Parallel()

		m := New(openTestDB(t), "test_migrations")
		if _, err := m.Apply(t.Context(), recipientsFS, "migrations"); err != nil {
			t.Fatalf("1回目のApply() error = %v", err)
		}
		n, err := m.Apply(t.Context(), recipientsFS, "migrations")
		if err != nil {
			t.Fatalf("2回目のApply() error = %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の適用件数 = %d, want 0", n)
		}
	})

	t.Run("正常系_別テーブルの管理は互いに独立していること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		other := fstest.MapFS{
			"sql/000001_cases.up.sql": {Data: []byte(`CREATE TABLE cases (id TEXT PRIMARY KEY);`)},
		}
		if _, err := New(db, "notification_migrations").Apply(t.Context(), recipientsFS, "migrations"); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		n, err := New(db, "casedata_migrations").Apply(t.Context(), other, "sql")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if n != 1 {
			t.Errorf("適用件数 = %d, want 1", n)
		}
		if _, err := db.Exec(`INSERT INTO cases (id) VALUES ('c-1')`); err != nil {
			t.Fatalf("casesテーブルが作成されていない: %v", err)
		}
	})

	t.Run("異常系_不正なSQLはロールバックされ記録されないこと", func(t *testing.T) {
		t.Parallel()

		m := New(openTestDB(t), "test_migrations")
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABLE ok (id TEXT); THIS IS NOT SQL;`)},
		}
		if _, err := m.Apply(t.Context(), broken, "m"); err == nil {
			t.Fatal("エラーが返るべき")
		}
		records, err := m.Applied(t.Context())
		if err != nil {
			t.Fatalf("Applied() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("失敗したマイグレーションが記録されている: %+v", records)
		}
	})

	t.Run("異常系_バージョンの重複はエラーになること", func(t *testing.T) {
		t.Parallel()

		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte(`CREATE TABLE a (id TEXT);`)},
			"m/1_b.up.sql":      {Data: []byte(`CREATE TABLE b (id TEXT);`)},
		}
		if _, err := New(openTestDB(t), "test_migrations").Apply(t.Context(), dup, "m"); err == nil {
			t.Fatal("エラーが返るべき")
		}
	})

	t.Run("異常系_不正なテーブル名はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New(openTestDB(t), "x; DROP TABLE y").Apply(t.Context(), recipientsFS, "migrations"); err == nil {
			t.Fatal("エラーが返るべき")
		}
	})
}
