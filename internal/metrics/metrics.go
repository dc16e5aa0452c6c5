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
// サービス層とハンドラーから利用する。
type MetricsCollector interface {
	RecordCheckSuccess(direction string)
	RecordCheckDuplicate(direction string)
	RecordCheckFailure(stage string)
	RecordHTTPStatus(statusCode int)
	RecordChatAPILatency(duration time.Duration)
	RecordRosterAppend()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess   *prometheus.CounterVec
	checkDuplicate *prometheus.CounterVec
	checkFail      *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	chatLatency    prometheus.Histogram
	rosterAppends  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_check_success_total",
			Help: "出退勤記録成功の方向別合計数",
		}, []string{"direction"}),
		checkDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_check_duplicate_total",
			Help: "同日重複で拒否された操作の方向別合計数",
		}, []string{"direction"}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_check_fail_total",
			Help: "出退勤処理失敗のステージ別合計数",
		}, []string{"stage"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		chatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_chat_api_latency_seconds",
			Help:    "チャットプラットフォームAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rosterAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_roster_append_total",
			Help: "ロスターメッセージへの追記の合計数",
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkDuplicate,
		c.checkFail,
		c.httpStatus,
		c.chatLatency,
		c.rosterAppends,
	)

	return c
}

// RecordCheckSuccess は出退勤記録の成功を記録する。
func (c *Collector) RecordCheckSuccess(direction string) {
	c.checkSuccess.WithLabelValues(direction).Inc()
}

// RecordCheckDuplicate は同日重複による拒否を記録する。
func (c *Collector) RecordCheckDuplicate(direction string) {
	c.checkDuplicate.WithLabelValues(direction).Inc()
}

// RecordCheckFailure は出退勤処理の失敗をステージ別に記録する。
// stage: identity, persistence, messaging
func (c *Collector) RecordCheckFailure(stage string) {
	c.checkFail.WithLabelValues(stage).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordChatAPILatency はチャットAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordChatAPILatency(duration time.Duration) {
	c.chatLatency.Observe(duration.Seconds())
}

// RecordRosterAppend はロスターメッセージへの追記を記録する。
func (c *Collector) RecordRosterAppend() {
	c.rosterAppends.Inc()
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
