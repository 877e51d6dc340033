package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestRequestLogger はリクエストログの出力内容を検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "2xxはINFOで出力されること", status: http.StatusOK, wantLevel: "INFO"},
		{name: "4xxはWARNで出力されること", status: http.StatusBadRequest, wantLevel: "WARN"},
		{name: "5xxはERRORで出力されること", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			router := gin.New()
			router.Use(func(c *gin.Context) {
				SetIdentity(c, Identity{UserID: "user-log"})
				c.Next()
			})
			router.Use(RequestLogger(logger))
			router.GET("/test", func(c *gin.Context) {
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			var record map[string]any
			if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
				t.Fatalf("ログのデコードに失敗: %v, body=%s", err, buf.String())
			}
			if record["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", record["level"], tt.wantLevel)
			}
			if record["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", record["status"], tt.status)
			}
			if record["user_id"] != "user-log" {
				t.Errorf("user_id = %v, want user-log", record["user_id"])
			}
			if record["path"] != "/test" {
				t.Errorf("path = %v, want /test", record["path"])
			}
		})
	}
}
