// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// アセット削除の結果ラベル。
const (
	DeletionDeleted    = "deleted"
	DeletionFailed     = "failed"
	DeletionDropped    = "dropped"
	DeletionReferenced = "referenced"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations        *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	assetsStored      prometheus.Counter
	assetsRejected    prometheus.Counter
	assetDeletions    *prometheus.CounterVec
	deleteQueueLength prometheus.Gauge
	orphansSwept      prometheus.Counter
	rateLimited       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postfeed_operations_total",
			Help: "オペレーション実行数（オペレーション名・結果コード別）",
		}, []string{"operation", "code"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postfeed_operation_duration_seconds",
			Help:    "オペレーションの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		assetsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postfeed_assets_stored_total",
			Help: "保存された画像アセットの合計数",
		}),
		assetsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postfeed_assets_rejected_total",
			Help: "形式不一致で受け付けなかったアップロードの合計数",
		}),
		assetDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postfeed_asset_deletions_total",
			Help: "アセット削除の結果別件数",
		}, []string{"result"}),
		deleteQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postfeed_asset_delete_queue_length",
			Help: "削除待ちアセットの件数",
		}),
		orphansSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postfeed_orphan_assets_swept_total",
			Help: "どの投稿からも参照されず削除されたアセットの合計数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postfeed_rate_limited_total",
			Help: "レート制限で拒否されたリクエスト数",
		}, []string{"limit_type"}),
	}

	reg.MustRegister(
		c.operations,
		c.operationLatency,
		c.assetsStored,
		c.assetsRejected,
		c.assetDeletions,
		c.deleteQueueLength,
		c.orphansSwept,
		c.rateLimited,
	)

	return c
}

// RecordOperation はオペレーションの結果と処理時間を記録する。
// codeは成功時"OK"、失敗時はAPIErrorのコード。
func (c *Collector) RecordOperation(operation, code string, duration time.Duration) {
	c.operations.WithLabelValues(operation, code).Inc()
	c.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAssetStored はアセット保存を記録する。
func (c *Collector) RecordAssetStored() {
	c.assetsStored.Inc()
}

// RecordAssetRejected は受け付けなかったアップロードを記録する。
func (c *Collector) RecordAssetRejected() {
	c.assetsRejected.Inc()
}

// RecordAssetDeletion はアセット削除の結果を記録する。
func (c *Collector) RecordAssetDeletion(result string) {
	c.assetDeletions.WithLabelValues(result).Inc()
}

// SetDeleteQueueLength は削除待ちキューの長さを記録する。
func (c *Collector) SetDeleteQueueLength(n int) {
	c.deleteQueueLength.Set(float64(n))
}

// RecordOrphansSwept は孤立アセットの削除件数を記録する。
func (c *Collector) RecordOrphansSwept(count int) {
	c.orphansSwept.Add(float64(count))
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
