// Package logger はlog/slogを用いた構造化ロガーの初期化を提供する。
//
// 出力形式（JSON/テキスト）、出力先（標準出力/ファイル/両方）、
// ログレベルを設定から切り替える。ファイル出力はlumberjackでローテーションする。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `mapstructure:"level"`
	// Format は出力形式（json または text）。
	Format string `mapstructure:"format"`
	// Output は出力先（stdout, file, both）。
	Output string `mapstructure:"output"`
	// FilePath はファイル出力時のパス。
	FilePath string `mapstructure:"file_path"`
	// MaxSizeMB はローテーションするファイルサイズ（MB）。
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups は保持する古いファイル数。
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays は古いファイルを保持する日数。
	MaxAgeDays int `mapstructure:"max_age_days"`
	// Compress はローテーション済みファイルをgzip圧縮するかどうか。
	Compress bool `mapstructure:"compress"`
}

// New は設定からslog.Loggerを生成する。
// 返り値のio.Closerはファイル出力を閉じるために使用する。標準出力のみの場合は何もしない。
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var (
		output io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	switch strings.ToLower(cfg.Output) {
	case "file", "both":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("ファイル出力にはfile_pathが必要です")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		closer = fileWriter
		output = fileWriter
		if strings.EqualFold(cfg.Output, "both") {
			output = io.MultiWriter(os.Stdout, fileWriter)
		}
	}

	return slog.New(newHandler(output, cfg)), closer, nil
}

// Init は設定からロガーを生成し、slogのデフォルトロガーとして登録する。
func Init(cfg Config) (io.Closer, error) {
	l, closer, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return closer, nil
}

// newHandler は出力先と設定からslog.Handlerを生成する。
func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel は文字列のログレベルをslog.Levelに変換する。未知の値はinfoとして扱う。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
