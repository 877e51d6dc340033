// Package database はSQLiteデータベースへの接続を提供する。
//
// 通知テーブルとケースRead Modelは同じデータベースファイルに格納し、
// 1つの *sqlx.DB を各パッケージで共有する。
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// driverName はmodernc.org/sqliteのドライバ名。
const driverName = "sqlite"

// memoryPath はインメモリデータベースを表すパス。
const memoryPath = ":memory:"

// Open はSQLiteデータベースを開く。
// ファイルの場合はWALモードを有効にし、インメモリの場合は接続を1本に固定する。
// 外部キー制約はどちらの場合も有効にする。
func Open(path string, busyTimeout time.Duration) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("データベースのパスが空です")
	}

	db, err := sqlx.Open(driverName, dsn(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if path == memoryPath {
		// インメモリDBは接続ごとに別のデータベースになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return db, nil
}

// OpenInMemory はテスト用のインメモリデータベースを開く。
func OpenInMemory() (*sqlx.DB, error) {
	return Open(memoryPath, 0)
}

// dsn はmodernc.org/sqliteの接続文字列を組み立てる。
func dsn(path string, busyTimeout time.Duration) string {
	pragmas := []string{"_pragma=foreign_keys(1)"}
	if busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()))
	}
	if path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}
