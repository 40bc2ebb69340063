// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/identity/internal/identity"
	"github.com/hitoshi/identity/internal/model"
)

// セッション検証結果のラベル値。
const (
	SessionValid     = "valid"
	SessionRefreshed = "refreshed"
	SessionInvalid   = "invalid"
	SessionError     = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	RecordLink(provider string, outcome identity.Outcome)
	RecordClassification(kind model.ScopeKind)
	RecordSessionVerification(result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	links           *prometheus.CounterVec
	classifications *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_login_total",
			Help: "プロバイダー別・結果別のログイン数",
		}, []string{"provider", "outcome"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_link_total",
			Help: "外部アカウント紐付けの結果別の数",
		}, []string{"provider", "outcome"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_domain_classification_total",
			Help: "スコープ種別ごとのドメイン分類数",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_session_verification_total",
			Help: "セッション検証の結果別の数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_request_latency_seconds",
			Help:    "リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.links,
		c.classifications,
		c.sessions,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(provider, outcome string) {
	if provider == "" {
		provider = "unknown"
	}
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordLink は紐付け結果を記録する。
func (c *Collector) RecordLink(provider string, outcome identity.Outcome) {
	c.links.WithLabelValues(provider, string(outcome)).Inc()
}

// RecordClassification はドメイン分類結果を記録する。
func (c *Collector) RecordClassification(kind model.ScopeKind) {
	c.classifications.WithLabelValues(string(kind)).Inc()
}

// RecordSessionVerification はセッション検証結果を記録する。
func (c *Collector) RecordSessionVerification(result string) {
	c.sessions.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
