// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordTokenVerification(path, outcome string)
	RecordLogin(method, outcome string)
	RecordPermissionCheck(resource, action, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordCleanupDeleted(table string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenVerifications *prometheus.CounterVec
	logins             *prometheus.CounterVec
	permissionChecks   *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	cleanupDeleted     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letwinventory_token_verifications_total",
			Help: "検証経路・結果別のトークン検証数",
		}, []string{"path", "outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letwinventory_logins_total",
			Help: "ログイン方式・結果別のログイン試行数",
		}, []string{"method", "outcome"}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letwinventory_permission_checks_total",
			Help: "リソース・アクション・結果別の権限判定数",
		}, []string{"resource", "action", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letwinventory_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letwinventory_cleanup_deleted_total",
			Help: "クリーンアップで削除した行数",
		}, []string{"table"}),
	}

	reg.MustRegister(
		c.tokenVerifications,
		c.logins,
		c.permissionChecks,
		c.httpStatus,
		c.cleanupDeleted,
	)

	return c
}

// RecordTokenVerification はトークン検証の結果を記録する。
func (c *Collector) RecordTokenVerification(path, outcome string) {
	c.tokenVerifications.WithLabelValues(path, outcome).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordPermissionCheck は権限判定の結果を記録する。
func (c *Collector) RecordPermissionCheck(resource, action, outcome string) {
	c.permissionChecks.WithLabelValues(resource, action, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(table string, count int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// APIサーバーを持たないワーカープロセスで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// statusWriter はレスポンスのステータスコードを記録する。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// StatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func StatusMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			c.RecordHTTPStatus(sw.status)
		})
	}
}
