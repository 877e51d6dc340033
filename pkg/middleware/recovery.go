package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery はハンドラー内のパニックを500エラーに変換するGinミドルウェアを返す。
// 認証済みの場合はユーザーIDもログに含める。
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := []any{
				"method", c.Request.Method,
				"path", c.FullPath(),
				"panic", r,
				"stack", string(debug.Stack()),
			}
			if userID := GetUserID(c); userID != "" {
				attrs = append(attrs, "user_id", userID)
			}
			logger.ErrorContext(c.Request.Context(), "ハンドラーでパニックが発生しました", attrs...)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "内部サーバーエラーが発生しました"})
		}()
		c.Next()
	}
}
