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
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordRateLimited(tier string)
	RecordTracksCreated(count int)
	RecordTracksDeleted(count int)
	RecordUserCreated()
	RecordUserDeleted()
	RecordLoginFailure(reason string)
	RecordCleanup(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	tracksCreated prometheus.Counter
	tracksDeleted prometheus.Counter
	usersCreated  prometheus.Counter
	usersDeleted  prometheus.Counter
	loginFailures *prometheus.CounterVec
	cleanedUp     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetracker_http_requests_total",
			Help: "ルートとステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifetracker_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetracker_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}, []string{"tier"}),
		tracksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifetracker_tracks_created_total",
			Help: "作成されたトラックの合計数",
		}),
		tracksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifetracker_tracks_deleted_total",
			Help: "削除されたトラックの合計数",
		}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifetracker_users_created_total",
			Help: "登録されたユーザーの合計数",
		}),
		usersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifetracker_users_deleted_total",
			Help: "削除されたユーザーの合計数",
		}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetracker_login_failures_total",
			Help: "理由別のログイン失敗数",
		}, []string{"reason"}),
		cleanedUp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifetracker_cleanup_deleted_total",
			Help: "クリーンアップジョブで削除したレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.rateLimited,
		c.tracksCreated,
		c.tracksDeleted,
		c.usersCreated,
		c.usersDeleted,
		c.loginFailures,
		c.cleanedUp,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
// routeにはchiのルートパターンを渡し、IDごとにラベルが増えないようにする。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(tier string) {
	c.rateLimited.WithLabelValues(tier).Inc()
}

// RecordTracksCreated は作成されたトラック数を記録する。
func (c *Collector) RecordTracksCreated(count int) {
	c.tracksCreated.Add(float64(count))
}

// RecordTracksDeleted は削除されたトラック数を記録する。
func (c *Collector) RecordTracksDeleted(count int) {
	c.tracksDeleted.Add(float64(count))
}

// RecordUserCreated はユーザー登録を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordUserDeleted はユーザー削除を記録する。
func (c *Collector) RecordUserDeleted() {
	c.usersDeleted.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFailures.WithLabelValues(reason).Inc()
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(kind string, count int64) {
	c.cleanedUp.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordRateLimited(string)                             {}
func (Nop) RecordTracksCreated(int)                              {}
func (Nop) RecordTracksDeleted(int)                              {}
func (Nop) RecordUserCreated()                                   {}
func (Nop) RecordUserDeleted()                                   {}
func (Nop) RecordLoginFailure(string)                            {}
func (Nop) RecordCleanup(string, int64)                          {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
