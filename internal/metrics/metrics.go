// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 許可ゲート・ライフサイクル・クォータの各層から利用する。
type MetricsCollector interface {
	IncAdmissionAllowed()
	IncAdmissionRejected(reason string)
	ObserveAdmissionLatency(seconds float64)
	IncQuotaCountFailure()
	IncAttemptCompleted(status string)
	RecordHTTPStatus(statusCode int)
	RecordHTTPLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	admissionAllowed  prometheus.Counter
	admissionRejected *prometheus.CounterVec
	admissionLatency  prometheus.Histogram
	quotaCountFail    prometheus.Counter
	attemptsCompleted *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	httpLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissionAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simdojo_admission_allowed_total",
			Help: "受験開始が許可された合計数",
		}),
		admissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simdojo_admission_rejected_total",
			Help: "受験開始が拒否された理由別の合計数",
		}, []string{"reason"}),
		admissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simdojo_admission_latency_seconds",
			Help:    "許可判定のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		quotaCountFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simdojo_quota_count_failures_total",
			Help: "クォータ消費数の読み取り失敗（0件へ縮退）の合計数",
		}),
		attemptsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simdojo_attempts_completed_total",
			Help: "終端状態へ遷移した受験のステータス別合計数",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simdojo_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simdojo_http_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.admissionAllowed,
		c.admissionRejected,
		c.admissionLatency,
		c.quotaCountFail,
		c.attemptsCompleted,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// IncAdmissionAllowed は受験開始の許可を記録する。
func (c *Collector) IncAdmissionAllowed() {
	c.admissionAllowed.Inc()
}

// IncAdmissionRejected は受験開始の拒否を理由付きで記録する。
func (c *Collector) IncAdmissionRejected(reason string) {
	c.admissionRejected.WithLabelValues(reason).Inc()
}

// ObserveAdmissionLatency は許可判定のレイテンシを記録する。
func (c *Collector) ObserveAdmissionLatency(seconds float64) {
	c.admissionLatency.Observe(seconds)
}

// IncQuotaCountFailure はクォータ読み取りの縮退を記録する。
func (c *Collector) IncQuotaCountFailure() {
	c.quotaCountFail.Inc()
}

// IncAttemptCompleted は終端遷移をステータス付きで記録する。
func (c *Collector) IncAttemptCompleted(status string) {
	c.attemptsCompleted.WithLabelValues(status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPLatency はHTTPリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordHTTPLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
