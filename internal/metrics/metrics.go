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
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordEmbeddingSuccess()
	RecordEmbeddingFailure(reason string)
	RecordInferenceStatus(statusCode int)
	RecordInferenceLatency(duration time.Duration)
	RecordCooldownActivated()
	RecordMatchNotifications(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	embeddingSuccess   prometheus.Counter
	embeddingFail      *prometheus.CounterVec
	inferenceStatus    *prometheus.CounterVec
	inferenceLatency   prometheus.Histogram
	cooldownActivated  prometheus.Counter
	matchNotifications prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		embeddingSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusfinder_embedding_success_total",
			Help: "埋め込み計算成功の合計数",
		}),
		embeddingFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfinder_embedding_fail_total",
			Help: "埋め込み計算失敗の理由別合計数",
		}, []string{"reason"}),
		inferenceStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusfinder_inference_status_total",
			Help: "推論APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusfinder_inference_latency_seconds",
			Help:    "推論API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cooldownActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusfinder_cooldown_activated_total",
			Help: "レート制限によるクールダウン発動の合計数",
		}),
		matchNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusfinder_match_notifications_total",
			Help: "マッチ検出で作成された通知の合計数",
		}),
	}

	reg.MustRegister(
		c.embeddingSuccess,
		c.embeddingFail,
		c.inferenceStatus,
		c.inferenceLatency,
		c.cooldownActivated,
		c.matchNotifications,
	)

	return c
}

// RecordEmbeddingSuccess は埋め込み計算成功を記録する。
func (c *Collector) RecordEmbeddingSuccess() {
	c.embeddingSuccess.Inc()
}

// RecordEmbeddingFailure は埋め込み計算失敗を理由別に記録する。
func (c *Collector) RecordEmbeddingFailure(reason string) {
	c.embeddingFail.WithLabelValues(reason).Inc()
}

// RecordInferenceStatus は推論APIのHTTPステータスコードを記録する。
func (c *Collector) RecordInferenceStatus(statusCode int) {
	c.inferenceStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordInferenceLatency は推論API呼び出しのレイテンシを記録する。
func (c *Collector) RecordInferenceLatency(duration time.Duration) {
	c.inferenceLatency.Observe(duration.Seconds())
}

// RecordCooldownActivated はクールダウン発動を記録する。
func (c *Collector) RecordCooldownActivated() {
	c.cooldownActivated.Inc()
}

// RecordMatchNotifications はマッチ検出で作成された通知数を記録する。
func (c *Collector) RecordMatchNotifications(count int) {
	c.matchNotifications.Add(float64(count))
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
