// Package metrics はPrometheusメトリクスの定義と公開エンドポイントを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はサービスが公開するメトリクスの集合。
// インスタンスごとに独立したレジストリを持つため、テストで複数生成しても衝突しない。
type Metrics struct {
	// registry はメトリクスを登録するレジストリ。
	registry *prometheus.Registry
	// HTTPRequestsTotal はHTTPリクエスト数。
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration はHTTPリクエストの処理時間。
	HTTPRequestDuration *prometheus.HistogramVec
	// NotificationsCreated は作成された通知数（カテゴリ別）。
	NotificationsCreated *prometheus.CounterVec
	// RecipientsFannedOut は作成された受信者行の数。
	RecipientsFannedOut prometheus.Counter
	// EmailDispatches はメール送信結果の数（sent, failed, error）。
	EmailDispatches *prometheus.CounterVec
	// EventsHandled は処理したドメインイベントの数（種別・結果別）。
	EventsHandled *prometheus.CounterVec
}

// New は指定したサービス名でメトリクスを生成し、レジストリに登録する。
func New(service string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "notifications_created_total",
			Help:      "Total notifications created",
		}, []string{"category"}),
		RecipientsFannedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "notification_recipients_total",
			Help:      "Total recipient rows created by fan-out",
		}),
		EmailDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "email_dispatches_total",
			Help:      "Email dispatch outcomes per recipient",
		}, []string{"result"}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseflow",
			Subsystem: service,
			Name:      "events_handled_total",
			Help:      "Domain events handled",
		}, []string{"type", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.NotificationsCreated,
		m.RecipientsFannedOut,
		m.EmailDispatches,
		m.EventsHandled,
	)
	return m
}

// Handler はPrometheusのスクレイプ用HTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry は内部のレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// GinMiddleware はHTTPリクエスト数と処理時間を記録するGinミドルウェアを返す。
// パスにはルート定義（例: /api/v1/notifications/:id）を使用し、ラベルの濃度を抑える。
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
