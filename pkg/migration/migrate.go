// Package migration はSQLiteデータベースのマイグレーションを管理する。
// fs.FSからSQLファイルを読み込み、所有パッケージごとのバージョン管理テーブルで適用状態を追跡する。
package migration

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// fileNamePattern はマイグレーションファイル名の形式（000001_description.up.sql）。
var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.up\.sql$`)

// tableNamePattern はバージョン管理テーブル名として許可する形式。
var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Record は適用済みマイグレーション1件。
type Record struct {
	// Version はファイル名の先頭の番号。
	Version int `db:"version"`
	// Name はファイル名の説明部分。
	Name string `db:"name"`
	// AppliedAt は適用日時（UTC、RFC3339）。
	AppliedAt string `db:"applied_at"`
}

// Migrator は1つのバージョン管理テーブルに紐づくマイグレーション実行器。
// 同じデータベースを複数のパッケージが共有する場合は、パッケージごとに別テーブルを使う。
type Migrator struct {
	// db は対象のデータベース。
	db *sqlx.DB
	// table はバージョン管理テーブル名。
	table string
}

// New は新しいMigratorを生成する。
func New(db *sqlx.DB, table string) *Migrator {
	return &Migrator{db: db, table: table}
}

// step はファイルから読み取った未適用候補のマイグレーション。
type step struct {
	version int
	name    string
	file    string
}

// Apply はdir配下の未適用のマイグレーションをバージョン順に適用し、適用した件数を返す。
// 各マイグレーションは記録と同じトランザクションで実行する。
func (m *Migrator) Apply(ctx context.Context, fsys fs.FS, dir string) (int, error) {
	if !tableNamePattern.MatchString(m.table) {
		return 0, fmt.Errorf("バージョン管理テーブル名が不正です: %q", m.table)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`, m.table)); err != nil {
		return 0, fmt.Errorf("バージョン管理テーブル %s の作成に失敗: %w", m.table, err)
	}

	records, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[int]bool, len(records))
	for _, r := range records {
		done[r.Version] = true
	}

	steps, err := readSteps(fsys, dir)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, s := range steps {
		if done[s.version] {
			continue
		}
		if err := m.apply(ctx, fsys, s); err != nil {
			return applied, fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", s.version, s.name, err)
		}
		slog.InfoContext(ctx, "マイグレーションを適用しました", "table", m.table, "version", s.version, "name", s.name)
		applied++
	}
	return applied, nil
}

// Applied は適用済みのマイグレーションをバージョン順に返す。
func (m *Migrator) Applied(ctx context.Context) ([]Record, error) {
	var records []Record
	query := fmt.Sprintf("SELECT version, name, applied_at FROM %s ORDER BY version", m.table)
	if err := m.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("適用済みマイグレーションの取得に失敗: %w", err)
	}
	return records, nil
}

func (m *Migrator) apply(ctx context.Context, fsys fs.FS, s step) error {
	content, err := fs.ReadFile(fsys, s.file)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.table)
	if _, err := tx.ExecContext(ctx, insert, s.version, s.name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("バージョンの記録に失敗: %w", err)
	}
	return tx.Commit()
}

// readSteps はdir直下のup.sqlファイルをバージョン順に並べて返す。
// 形式に合わないファイルは無視する。同じバージョンが2つある場合はエラーにする。
func readSteps(fsys fs.FS, dir string) ([]step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションディレクトリの読み込みに失敗: %w", err)
	}

	steps := make([]step, 0, len(entries))
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("バージョン %d が重複しています: %s, %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
		steps = append(steps, step{version: version, name: match[2], file: path.Join(dir, entry.Name())})
	}

	slices.SortFunc(steps, func(a, b step) int { return cmp.Compare(a.version, b.version) })
	return steps, nil
}
