package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// コンテキストキー。
const (
	keyUserID             = "user_id"
	keyEmail              = "email"
	keyRole               = "role"
	keyOrganisationUnitID = "organisation_unit_id"
)

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// tokenIssuer はトークンの発行者。
const tokenIssuer = "caseflow"

// Identity は認証済みユーザーの識別情報。
type Identity struct {
	// UserID はユーザーの一意識別子。
	UserID string
	// Email はユーザーのメールアドレス。
	Email string
	// Role はユーザーのロール（INNOVATOR, ACCESSOR, QUALIFYING_ACCESSOR, ASSESSMENT, ADMIN）。
	Role string
	// OrganisationUnitID はユーザーが現在所属する組織ユニットのID。イノベーターは空。
	OrganisationUnitID string
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Role はユーザーのロール。
	Role string `json:"role"`
	// OrganisationUnitID はユーザーの所属組織ユニットのID。
	OrganisationUnitID string `json:"organisation_unit_id,omitempty"`
}

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// 認証基盤との結合テストや開発用トークンの発行に使用する。
func GenerateJWT(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   id.UserID,
		},
		UserID:             id.UserID,
		Email:              id.Email,
		Role:               id.Role,
		OrganisationUnitID: id.OrganisationUnitID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザーID・メール・ロール・組織ユニットIDを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		SetIdentity(c, Identity{
			UserID:             claims.UserID,
			Email:              claims.Email,
			Role:               claims.Role,
			OrganisationUnitID: claims.OrganisationUnitID,
		})
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// SetIdentity はGinコンテキストに認証済みユーザーの情報を設定する。
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(keyUserID, id.UserID)
	c.Set(keyEmail, id.Email)
	c.Set(keyRole, id.Role)
	c.Set(keyOrganisationUnitID, id.OrganisationUnitID)
}

// GetIdentity はGinコンテキストから認証済みユーザーの情報を取得する。
func GetIdentity(c *gin.Context) Identity {
	return Identity{
		UserID:             c.GetString(keyUserID),
		Email:              c.GetString(keyEmail),
		Role:               c.GetString(keyRole),
		OrganisationUnitID: c.GetString(keyOrganisationUnitID),
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(keyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
