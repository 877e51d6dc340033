package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestParseLevel はログレベル文字列の変換を検証する。
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "", want: slog.LevelInfo},
		{in: "unknown", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestNewHandler はハンドラの出力形式を検証する。
func TestNewHandler(t *testing.T) {
	t.Parallel()

	t.Run("jsonを指定するとJSON形式で出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := slog.New(newHandler(&buf, Config{Level: "info", Format: "json"}))
		l.Info("通知を作成しました", "recipients", 3)

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, buf.String())
		}
		if record["msg"] != "通知を作成しました" {
			t.Errorf("msg = %v, want 通知を作成しました", record["msg"])
		}
		if record["recipients"] != float64(3) {
			t.Errorf("recipients = %v, want 3", record["recipients"])
		}
	})

	t.Run("textを指定するとテキスト形式で出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := slog.New(newHandler(&buf, Config{Level: "info", Format: "text"}))
		l.Info("hello", "key", "value")

		if !strings.Contains(buf.String(), "key=value") {
			t.Errorf("テキスト形式の出力になっていない: %s", buf.String())
		}
	})

	t.Run("レベル未満のログは出力されないこと", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := slog.New(newHandler(&buf, Config{Level: "warn", Format: "json"}))
		l.Info("出力されない")

		if buf.Len() != 0 {
			t.Errorf("infoログが出力された: %s", buf.String())
		}
	})
}

// TestNew はロガー生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ファイル出力でファイルにログが書き込まれること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "logs", "caseflow.log")
		l, closer, err := New(Config{Level: "info", Format: "json", Output: "file", FilePath: path, MaxSizeMB: 1})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		l.Info("ファイル出力")
		if err := closer.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ログファイルの読み込みに失敗: %v", err)
		}
		if !strings.Contains(string(b), "ファイル出力") {
			t.Errorf("ログファイルにメッセージが含まれていない: %s", string(b))
		}
	})

	t.Run("ファイル出力でパスが空の場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, _, err := New(Config{Output: "file"}); err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
	})
}
