// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ディスパッチ結果のラベル値。
const (
	OutcomePosted    = "posted"
	OutcomeFailed    = "failed"
	OutcomeContended = "contended"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 計画・割り当て・ディスパッチの各サービスから利用する。
type MetricsCollector interface {
	RecordSlotsPlanned(kind string, count int)
	RecordSlotsAssigned(kind string, count int)
	RecordDispatchOutcome(kind, outcome string)
	RecordPublishLatency(kind string, duration time.Duration)
	RecordSlotsSkipped(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	slotsPlanned   *prometheus.CounterVec
	slotsAssigned  *prometheus.CounterVec
	dispatch       *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	slotsSkipped   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		slotsPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postplan_slots_planned_total",
			Help: "作成された投稿枠の合計数",
		}, []string{"kind"}),
		slotsAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postplan_slots_assigned_total",
			Help: "コンテンツがバインドされた投稿枠の合計数",
		}, []string{"kind"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postplan_dispatch_total",
			Help: "結果別のディスパッチ数",
		}, []string{"kind", "outcome"}),
		publishLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postplan_publish_latency_seconds",
			Help:    "公開APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		slotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postplan_slots_skipped_total",
			Help: "未バインドのまま期限切れになった投稿枠の合計数",
		}),
	}

	reg.MustRegister(
		c.slotsPlanned,
		c.slotsAssigned,
		c.dispatch,
		c.publishLatency,
		c.slotsSkipped,
	)

	return c
}

// RecordSlotsPlanned は作成した投稿枠数を記録する。
func (c *Collector) RecordSlotsPlanned(kind string, count int) {
	c.slotsPlanned.WithLabelValues(kind).Add(float64(count))
}

// RecordSlotsAssigned はバインドした投稿枠数を記録する。
func (c *Collector) RecordSlotsAssigned(kind string, count int) {
	c.slotsAssigned.WithLabelValues(kind).Add(float64(count))
}

// RecordDispatchOutcome はディスパッチ結果を記録する。
func (c *Collector) RecordDispatchOutcome(kind, outcome string) {
	c.dispatch.WithLabelValues(kind, outcome).Inc()
}

// RecordPublishLatency は公開APIのレイテンシを記録する。
func (c *Collector) RecordPublishLatency(kind string, duration time.Duration) {
	c.publishLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSlotsSkipped はスキップした投稿枠数を記録する。
func (c *Collector) RecordSlotsSkipped(count int) {
	c.slotsSkipped.Add(float64(count))
}

// Noop は何も記録しないMetricsCollector。
type Noop struct{}

func (Noop) RecordSlotsPlanned(string, int)             {}
func (Noop) RecordSlotsAssigned(string, int)            {}
func (Noop) RecordDispatchOutcome(string, string)       {}
func (Noop) RecordPublishLatency(string, time.Duration) {}
func (Noop) RecordSlotsSkipped(int)                     {}

// OrNoop はcがnilの場合にNoopを返す。
func OrNoop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Noop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute はワーカー用に /metrics と /health を提供するHTTPハンドラーを返す。
// APIサーバーとは別ポート（METRICS_PORT）で公開する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
