package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/pkg/event"
	"github.com/nao1215/caseflow/pkg/metrics"
	"github.com/nao1215/caseflow/pkg/middleware"
)

// EventHandler はイベント受信APIで受け取ったイベントの処理先。
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *event.Event) error
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port int
	// JWTSecret はJWTの署名検証に使用するシークレット。
	JWTSecret string
	// ServiceToken は内部API（/api/v1/internal）の呼び出しに必要なサービス間トークン。
	// 空の場合は内部APIを公開しない。
	ServiceToken string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// MetricsPath はメトリクスの公開パス。空の場合は公開しない。
	MetricsPath string
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg ServerConfig
	// service は通知の操作を提供するService。
	service *Service
	// events はイベント受信APIの処理先。
	events EventHandler
	// metrics はメトリクス。nilの場合は計測しない。
	metrics *metrics.Metrics
	// logger は構造化ロガー。
	logger *slog.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg ServerConfig, service *Service, events EventHandler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	if m != nil {
		router.Use(m.GinMiddleware())
	}

	s := &Server{
		router:  router,
		cfg:     cfg,
		service: service,
		events:  events,
		metrics: m,
		logger:  logger,
	}
	s.setupRoutes()

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer はグレースフルシャットダウン可能なhttp.Serverを返す。
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		notifications := api.Group("/notifications")
		{
			// ケース別の通知一覧
			notifications.GET("/cases/:caseId", s.handleListByCase())
			// ケース別・カテゴリ別の未読数
			notifications.GET("/cases/:caseId/unread-counts", s.handleUnreadCounts())
			// 全ケースの未読数
			notifications.GET("/unread-total", s.handleUnreadTotal())
			// サポート状態別の未読数
			notifications.GET("/unread-by-support-status", s.handleUnreadBySupportStatus())
			// 通知の取得（受信者の場合は既読にする）
			notifications.GET("/:id", s.handleGet())
			// 通知の却下
			notifications.PATCH("/dismiss", s.handleDismiss())
			// 通知の削除
			notifications.DELETE("/:id", s.handleDelete())
		}

		preferences := api.Group("/email-preferences")
		{
			preferences.GET("", s.handleGetPreferences())
			preferences.PUT("", s.handleUpdatePreferences())
		}
	}

	// 内部API（他サービスから呼び出される）。エンドユーザーのJWTでは呼び出せない。
	if s.cfg.ServiceToken != "" {
		internal := s.router.Group("/api/v1/internal")
		internal.Use(middleware.ServiceAuth(s.cfg.ServiceToken))
		{
			internal.POST("/notifications", s.handleCreate())
			internal.POST("/events", s.handleEvent())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})

	if s.metrics != nil && s.cfg.MetricsPath != "" {
		s.router.GET(s.cfg.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}
}

// actorFrom は認証済みユーザーを実行者に変換する。
// ユーザーIDが取得できない場合は401を返してfalseを返す。
func actorFrom(c *gin.Context) (Actor, bool) {
	id := middleware.GetIdentity(c)
	if id.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return Actor{}, false
	}
	return Actor{
		ID:                 id.UserID,
		Role:               casedata.Role(id.Role),
		OrganisationUnitID: id.OrganisationUnitID,
	}, true
}

// writeError はエラーの種類に応じたステータスコードでエラーレスポンスを返す。
func (s *Server) writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrAlreadyNotified):
		c.JSON(http.StatusConflict, gin.H{"error": ErrAlreadyNotified.Error()})
	default:
		s.logger.ErrorContext(c.Request.Context(), message, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id"`
	// Category は通知カテゴリ。
	Category Category `json:"category"`
	// DetailCode はカテゴリ内の詳細コード。
	DetailCode string `json:"detail_code"`
	// ContextID は対象エンティティのID。
	ContextID string `json:"context_id,omitempty"`
	// Payload は通知本文の組み立てに使うJSON。
	Payload json.RawMessage `json:"payload"`
	// CreatedBy は通知を発生させたユーザーのID。
	CreatedBy string `json:"created_by"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// ReadAt は既読日時（RFC3339形式）。未読または作成者の場合は省略する。
	ReadAt string `json:"read_at,omitempty"`
	// DismissedAt は却下日時（RFC3339形式）。
	DismissedAt string `json:"dismissed_at,omitempty"`
}

// createResponse は通知作成のJSONレスポンス構造。
type createResponse struct {
	notificationResponse
	// Recipients は保存した受信者のユーザーID一覧。受信者がいない場合は空配列。
	Recipients []string `json:"recipients"`
}

// toNotificationResponse は通知をJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		CaseID:     n.CaseID,
		Category:   n.Category,
		DetailCode: n.DetailCode,
		ContextID:  n.ContextID,
		Payload:    n.Payload,
		CreatedBy:  n.CreatedBy,
		CreatedAt:  n.CreatedAt.Format(time.RFC3339),
	}
}

// toInboxResponse は受信者から見た通知をJSONレスポンスに変換する。
func toInboxResponse(item InboxItem) notificationResponse {
	resp := toNotificationResponse(item.Notification)
	if item.ReadAt != nil {
		resp.ReadAt = item.ReadAt.Format(time.RFC3339)
	}
	if item.DismissedAt != nil {
		resp.DismissedAt = item.DismissedAt.Format(time.RFC3339)
	}
	return resp
}

// handleListByCase はケースに関する通知一覧を返すハンドラ。
func (s *Server) handleListByCase() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		opts, err := parseListOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := s.service.ListByCase(c.Request.Context(), actor, c.Param("caseId"), opts)
		if err != nil {
			s.writeError(c, err, "通知一覧の取得に失敗しました")
			return
		}

		data := make([]notificationResponse, 0, len(result.Data))
		for _, item := range result.Data {
			data = append(data, toInboxResponse(item))
		}
		c.JSON(http.StatusOK, gin.H{"data": data, "count": result.Count})
	}
}

// parseListOptions はクエリパラメータから一覧の取得条件を組み立てる。
func parseListOptions(c *gin.Context) (ListOptions, error) {
	var opts ListOptions
	if v := c.Query("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("skipが不正です: %q", v)
		}
		opts.Skip = n
	}
	if v := c.Query("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("takeが不正です: %q", v)
		}
		opts.Take = n
	}
	if v := c.Query("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("unreadが不正です: %q", v)
		}
		opts.UnreadOnly = b
	}
	opts.Category = Category(c.Query("category"))
	return opts, nil
}

// handleUnreadCounts はケースに関するカテゴリ別の未読数を返すハンドラ。
func (s *Server) handleUnreadCounts() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		counts, err := s.service.UnreadCounts(c.Request.Context(), actor, c.Param("caseId"))
		if err != nil {
			s.writeError(c, err, "未読数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, counts)
	}
}

// handleUnreadTotal は全ケースの未読数を返すハンドラ。
func (s *Server) handleUnreadTotal() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		total, err := s.service.UnreadTotal(c.Request.Context(), actor)
		if err != nil {
			s.writeError(c, err, "未読総数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total})
	}
}

// handleUnreadBySupportStatus はサポート状態別の未読数を返すハンドラ。
func (s *Server) handleUnreadBySupportStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		grouped, err := s.service.GroupedBySupportStatus(c.Request.Context(), actor)
		if err != nil {
			s.writeError(c, err, "サポート状態別未読数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, grouped)
	}
}

// handleGet は通知を返すハンドラ。受信者の場合は既読にする。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		item, err := s.service.Get(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			s.writeError(c, err, "通知の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, toInboxResponse(*item))
	}
}

// dismissRequest は却下リクエストのJSON構造。
type dismissRequest struct {
	// NotificationIDs は対象の通知ID。
	NotificationIDs []string `json:"notification_ids"`
	// Category は対象のカテゴリ。
	Category Category `json:"category"`
	// ContextIDs は対象エンティティのID。
	ContextIDs []string `json:"context_ids"`
	// ContextDetails は対象の詳細コード。
	ContextDetails []string `json:"context_details"`
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id"`
}

// handleDismiss は通知を却下するハンドラ。
func (s *Server) handleDismiss() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		var req dismissRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		affected, err := s.service.Dismiss(c.Request.Context(), actor, DismissFilter{
			NotificationIDs: req.NotificationIDs,
			Category:        req.Category,
			ContextIDs:      req.ContextIDs,
			ContextDetails:  req.ContextDetails,
			CaseID:          req.CaseID,
		})
		if err != nil {
			s.writeError(c, err, "通知の却下に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"affected": affected})
	}
}

// handleDelete は通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		result, err := s.service.Delete(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			s.writeError(c, err, "通知の削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": result.ID, "status": result.Status})
	}
}

// handleGetPreferences はメール配信設定を返すハンドラ。
func (s *Server) handleGetPreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		entries, err := s.service.Preferences(c.Request.Context(), actor)
		if err != nil {
			s.writeError(c, err, "メール配信設定の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// updatePreferencesRequest はメール配信設定の更新リクエストのJSON構造。
type updatePreferencesRequest struct {
	// Preferences は更新する配信設定。
	Preferences []PreferenceEntry `json:"preferences" binding:"required"`
}

// handleUpdatePreferences はメール配信設定を更新するハンドラ。行ごとの結果を返す。
func (s *Server) handleUpdatePreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}

		var req updatePreferencesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		results, err := s.service.UpdatePreferences(c.Request.Context(), actor, req.Preferences)
		if err != nil {
			s.writeError(c, err, "メール配信設定の更新に失敗しました")
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

// actorRequest は通知を発生させたユーザーのJSON構造。
type actorRequest struct {
	// ID はユーザーID。
	ID string `json:"id" binding:"required"`
	// Role はユーザーのロール。
	Role casedata.Role `json:"role" binding:"required"`
	// OrganisationUnitID はユーザーの所属組織ユニットのID。
	OrganisationUnitID string `json:"organisation_unit_id"`
}

// createRequest は通知作成リクエストのJSON構造。
type createRequest struct {
	// Actor は通知を発生させたユーザー。宛先から除外される。
	Actor actorRequest `json:"actor"`
	// Audience は宛先カテゴリ。
	Audience AudienceCategory `json:"audience" binding:"required"`
	// CaseID は対象ケースのID。
	CaseID string `json:"case_id" binding:"required"`
	// Category は通知カテゴリ。
	Category Category `json:"category" binding:"required"`
	// DetailCode はカテゴリ内の詳細コード。
	DetailCode string `json:"detail_code" binding:"required"`
	// ContextID は対象エンティティのID。
	ContextID string `json:"context_id"`
	// Payload は通知本文の組み立てに使うJSON。
	Payload json.RawMessage `json:"payload"`
}

// handleCreate は通知を作成するハンドラ。リクエストで指定されたユーザーを実行者とする。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		actor := Actor{
			ID:                 req.Actor.ID,
			Role:               req.Actor.Role,
			OrganisationUnitID: req.Actor.OrganisationUnitID,
		}
		n, err := s.service.Create(c.Request.Context(), actor, CreateInput{
			Audience:   req.Audience,
			CaseID:     req.CaseID,
			Category:   req.Category,
			DetailCode: req.DetailCode,
			ContextID:  req.ContextID,
			Payload:    req.Payload,
		})
		if err != nil {
			s.writeError(c, err, "通知の作成に失敗しました")
			return
		}

		resp := createResponse{notificationResponse: toNotificationResponse(*n), Recipients: n.Recipients}
		if resp.Recipients == nil {
			resp.Recipients = []string{}
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// handleEvent はドメインイベントを受け取り、Read Modelの更新と通知の作成を行うハンドラ。
func (s *Server) handleEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み込みに失敗しました"})
			return
		}

		ev, err := event.Parse(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("イベントが不正です: %v", err)})
			return
		}

		if err := s.events.HandleEvent(c.Request.Context(), ev); err != nil {
			s.logger.ErrorContext(c.Request.Context(), "イベント処理に失敗しました",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベント処理に失敗しました"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": ev.ID, "status": "processed"})
	}
}
