package eventfeed

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/caseflow/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationTable はカーソル用のバージョン管理テーブル名。
const migrationTable = "eventfeed_migrations"

// Migrate はカーソルのテーブルを作成する。
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := migration.New(db, migrationTable).Apply(ctx, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("イベントフィードのマイグレーションに失敗: %w", err)
	}
	return nil
}

// Cursor はPollerの読み取り位置を保存する。
type Cursor interface {
	// Load は保存済みの位置を返す。未保存の場合はゼロ値を返す。
	Load(ctx context.Context) (time.Time, error)
	// Save は位置を保存する。
	Save(ctx context.Context, position time.Time) error
}

// SQLCursor はSQLiteのeventfeed_cursorsテーブルに位置を保存するCursor。
type SQLCursor struct {
	// db はデータベース接続。
	db *sqlx.DB
	// name はカーソルを識別する名前。
	name string
}

// NewSQLCursor は新しいSQLCursorを生成する。
func NewSQLCursor(db *sqlx.DB, name string) *SQLCursor {
	return &SQLCursor{db: db, name: name}
}

// Load は保存済みの位置を返す。
func (c *SQLCursor) Load(ctx context.Context) (time.Time, error) {
	var raw string
	err := c.db.GetContext(ctx, &raw, `SELECT position FROM eventfeed_cursors WHERE name = ?`, c.name)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("カーソルの読み込みに失敗: %w", err)
	}
	position, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("カーソルの位置が不正: %w", err)
	}
	return position, nil
}

// Save は位置を保存する。
func (c *SQLCursor) Save(ctx context.Context, position time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO eventfeed_cursors (name, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`,
		c.name, position.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		return fmt.Errorf("カーソルの保存に失敗: %w", err)
	}
	return nil
}
