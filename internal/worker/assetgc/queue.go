// Package assetgc は不要になった投稿画像の削除を行う。
// 投稿の更新・削除で置き換えられた画像を非同期に削除するキューと、
// どの投稿からも参照されない画像を定期的に削除するスイーパーを含む。
package assetgc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/postfeed/internal/assets"
	"github.com/hitoshi/postfeed/internal/metrics"
)

const (
	defaultWorkers     = 2
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
	defaultCapacity    = 256
	// maxBackoff はリトライ間隔の上限。
	maxBackoff = time.Minute
)

// Deleter はアセットの削除を抽象化するインターフェース。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Recorder はキューが記録するメトリクス。
type Recorder interface {
	RecordAssetDeletion(result string)
	SetDeleteQueueLength(n int)
}

// QueueOptions はQueueの動作設定。0以下の値はデフォルト値になる。
type QueueOptions struct {
	Workers     int           // 並列ワーカー数（デフォルト: 2）
	MaxAttempts int           // 1キーあたりの最大試行回数（デフォルト: 3）
	Backoff     time.Duration // 初回リトライまでの待機時間（デフォルト: 1秒）
	Capacity    int           // キューの容量（デフォルト: 256）
}

// Queue はアセット削除を非同期に実行するワーカープール。
// Enqueueはブロックせず、キューが満杯の場合は削除を諦める。
// 取りこぼした画像はOrphanSweeperが後で回収する。
type Queue struct {
	store   Deleter
	metrics Recorder
	logger  *slog.Logger
	opts    QueueOptions

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue は新しいQueueを生成する。metricsはnilでもよい。
func NewQueue(store Deleter, m Recorder, logger *slog.Logger, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	return &Queue{
		store:   store,
		metrics: m,
		logger:  logger,
		opts:    opts,
		jobs:    make(chan string, opts.Capacity),
		sleep:   sleepContext,
	}
}

// Start はワーカーを起動する。ctxのキャンセルで処理中のリトライ待機も打ち切られる。
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("画像削除キューを開始しました",
		slog.Int("workers", q.opts.Workers),
		slog.Int("max_attempts", q.opts.MaxAttempts),
	)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for key := range q.jobs {
				q.process(ctx, key)
				q.reportLength()
			}
		}()
	}
}

// Enqueue はキーの削除を予約する。
// 予約できた場合はtrue、キューが満杯または停止済みの場合はfalseを返す。
func (q *Queue) Enqueue(key string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(key, "queue closed")
		return false
	}
	select {
	case q.jobs <- key:
		q.reportLength()
		return true
	default:
		q.drop(key, "queue full")
		return false
	}
}

// Shutdown は新規の予約を止め、予約済みの削除が終わるまで待つ。
// ctxの期限までに終わらない場合はctx.Err()を返す。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("画像削除キューを停止しました")
		return nil
	case <-ctx.Done():
		q.logger.Warn("画像削除キューの停止がタイムアウトしました",
			slog.Int("pending", len(q.jobs)),
		)
		return ctx.Err()
	}
}

// process は1件のキーを最大MaxAttempts回まで削除を試みる。
// 既に存在しないキーは削除済みとして扱う。
func (q *Queue) process(ctx context.Context, key string) {
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		err := q.store.Delete(ctx, key)
		if err == nil || errors.Is(err, assets.ErrNotFound) {
			q.logger.Info("画像を削除しました",
				slog.String("path", key),
				slog.Int("attempt", attempt),
			)
			q.record(metrics.DeletionDeleted)
			return
		}

		q.logger.Warn("画像の削除に失敗しました",
			slog.String("path", key),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == q.opts.MaxAttempts {
			break
		}
		if err := q.sleep(ctx, CalculateBackoff(q.opts.Backoff, attempt-1)); err != nil {
			break
		}
	}

	q.logger.Error("画像の削除を断念しました",
		slog.String("path", key),
	)
	q.record(metrics.DeletionFailed)
}

func (q *Queue) drop(key, reason string) {
	q.logger.Warn("画像の削除予約を破棄しました",
		slog.String("path", key),
		slog.String("reason", reason),
	)
	q.record(metrics.DeletionDropped)
}

func (q *Queue) record(result string) {
	if q.metrics != nil {
		q.metrics.RecordAssetDeletion(result)
	}
}

func (q *Queue) reportLength() {
	if q.metrics != nil {
		q.metrics.SetDeleteQueueLength(len(q.jobs))
	}
}

// CalculateBackoff はリトライ回数に基づいて指数バックオフ遅延を計算する。
// baseから2倍ずつ増加し、最大1分。
func CalculateBackoff(base time.Duration, retries int) time.Duration {
	delay := base
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
