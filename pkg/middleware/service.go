package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderServiceToken はサービス間呼び出しの認証トークンを運ぶHTTPヘッダーキー。
const HeaderServiceToken = "X-Service-Token"

// ServiceAuth はサービス間トークンを検証するGinミドルウェアを返す。
// エンドユーザーのJWTでは通過できない。tokenが空の場合は全てのリクエストを拒否する。
func ServiceAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderServiceToken)
		if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "サービストークンが無効です",
			})
			return
		}
		c.Next()
	}
}
