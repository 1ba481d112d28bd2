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
// ミドルウェア・サービス層・ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
	RecordToggle(kind, status string)
	RecordRating(action string)
	RecordBookDeleted(listEntries, ratings, comments int64)
	RecordReconcile(repaired int64, err error)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    prometheus.Histogram
	toggles        *prometheus.CounterVec
	ratings        *prometheus.CounterVec
	booksDeleted   prometheus.Counter
	cascadeRemoved *prometheus.CounterVec
	reconcileRuns  *prometheus.CounterVec
	reconcileFixed prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ulib_http_requests_total",
			Help: "メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ulib_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ulib_toggles_total",
			Help: "リスト・お気に入りのトグル操作数",
		}, []string{"kind", "status"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ulib_ratings_total",
			Help: "評価の変更種別ごとの件数",
		}, []string{"action"}),
		booksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ulib_books_deleted_total",
			Help: "削除された書籍の合計数",
		}),
		cascadeRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ulib_cascade_removed_total",
			Help: "書籍削除に伴って削除された関連レコード数",
		}, []string{"kind"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ulib_reconcile_runs_total",
			Help: "集計値修復ジョブの実行回数",
		}, []string{"result"}),
		reconcileFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ulib_reconcile_repaired_total",
			Help: "修復された書籍集計値の合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.toggles,
		c.ratings,
		c.booksDeleted,
		c.cascadeRemoved,
		c.reconcileRuns,
		c.reconcileFixed,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果とレイテンシを記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordToggle はトグル操作を記録する。kindは"list"または"favorite"。
func (c *Collector) RecordToggle(kind, status string) {
	c.toggles.WithLabelValues(kind, status).Inc()
}

// RecordRating は評価の変更を記録する。
func (c *Collector) RecordRating(action string) {
	c.ratings.WithLabelValues(action).Inc()
}

// RecordBookDeleted は書籍削除とカスケード削除件数を記録する。
func (c *Collector) RecordBookDeleted(listEntries, ratings, comments int64) {
	c.booksDeleted.Inc()
	c.cascadeRemoved.WithLabelValues("list_entry").Add(float64(listEntries))
	c.cascadeRemoved.WithLabelValues("rating").Add(float64(ratings))
	c.cascadeRemoved.WithLabelValues("comment").Add(float64(comments))
}

// RecordReconcile は集計値修復ジョブの結果を記録する。
func (c *Collector) RecordReconcile(repaired int64, err error) {
	if err != nil {
		c.reconcileRuns.WithLabelValues("error").Inc()
		return
	}
	c.reconcileRuns.WithLabelValues("ok").Inc()
	c.reconcileFixed.Add(float64(repaired))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
func (Nop) RecordToggle(string, string)                  {}
func (Nop) RecordRating(string)                          {}
func (Nop) RecordBookDeleted(int64, int64, int64)        {}
func (Nop) RecordReconcile(int64, error)                 {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
