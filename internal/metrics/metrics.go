// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投稿の操作種別
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordPostMutation(op string)
	RecordTagCreated()
	RecordTagConflict()
	RecordAssetDeleteFailure()
	RecordUpload(contentType string, bytes int64)
	RecordHTTPStatus(statusCode int)
	RecordCleanup(kind string, removed int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	postMutations      *prometheus.CounterVec
	tagsCreated        prometheus.Counter
	tagConflicts       prometheus.Counter
	assetDeleteFailure prometheus.Counter
	uploads            *prometheus.CounterVec
	uploadBytes        prometheus.Histogram
	httpStatus         *prometheus.CounterVec
	cleanupRemoved     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_post_mutations_total",
			Help: "投稿の作成・更新・削除の合計数",
		}, []string{"op"}),
		tagsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_tags_created_total",
			Help: "作成されたタグの合計数",
		}),
		tagConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_tag_conflicts_total",
			Help: "タグ作成時に既存行へ解決した競合の合計数",
		}),
		assetDeleteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_asset_delete_failures_total",
			Help: "画像ファイル削除失敗の合計数",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_uploads_total",
			Help: "画像アップロードの合計数",
		}, []string{"content_type"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogman_upload_bytes",
			Help:    "保存した画像のサイズ（バイト）",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_cleanup_removed_total",
			Help: "クリーンアップで削除した件数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.postMutations,
		c.tagsCreated,
		c.tagConflicts,
		c.assetDeleteFailure,
		c.uploads,
		c.uploadBytes,
		c.httpStatus,
		c.cleanupRemoved,
	)

	return c
}

// RecordPostMutation は投稿の操作を記録する。
func (c *Collector) RecordPostMutation(op string) {
	c.postMutations.WithLabelValues(op).Inc()
}

// RecordTagCreated はタグの作成を記録する。
func (c *Collector) RecordTagCreated() {
	c.tagsCreated.Inc()
}

// RecordTagConflict はタグ作成の競合を記録する。
func (c *Collector) RecordTagConflict() {
	c.tagConflicts.Inc()
}

// RecordAssetDeleteFailure は画像ファイル削除の失敗を記録する。
func (c *Collector) RecordAssetDeleteFailure() {
	c.assetDeleteFailure.Inc()
}

// RecordUpload は画像アップロードを記録する。
func (c *Collector) RecordUpload(contentType string, bytes int64) {
	c.uploads.WithLabelValues(contentType).Inc()
	c.uploadBytes.Observe(float64(bytes))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanup(kind string, removed int64) {
	c.cleanupRemoved.WithLabelValues(kind).Add(float64(removed))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordPostMutation(string) {}
func (Nop) RecordTagCreated() {}
func (Nop) RecordTagConflict() {}
func (Nop) RecordAssetDeleteFailure() {}
func (Nop) RecordUpload(string, int64) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordCleanup(string, int64) {}

// OrNop はcがnilの場合にNopを返す。
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return Nop{}
	}
	return c
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
