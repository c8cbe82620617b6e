package assetgc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/postfeed/internal/assets"
)

// Lister はスイープ対象の列挙と削除を抽象化するインターフェース。
// assets.Storeの部分集合。
type Lister interface {
	List(ctx context.Context, prefix string) ([]assets.Object, error)
	Delete(ctx context.Context, key string) error
}

// ReferenceCounter は画像パスを参照する投稿数を数える。
type ReferenceCounter interface {
	CountImageReferences(ctx context.Context, imagePath, excludeOwnerID string) (int, error)
}

// SweepRecorder はスイーパーが記録するメトリクス。
type SweepRecorder interface {
	RecordOrphansSwept(count int)
}

// OrphanSweeper はどの投稿からも参照されない画像を削除するジョブ。
// アップロード直後でまだ投稿に紐付いていない画像を消さないよう、
// GracePeriodより新しい画像は対象外とする。冪等に何度実行してもよい。
type OrphanSweeper struct {
	store       Lister
	refs        ReferenceCounter
	metrics     SweepRecorder
	logger      *slog.Logger
	GracePeriod time.Duration // 削除対象とする最小経過時間（デフォルト: 24時間）
	now         func() time.Time
}

// NewOrphanSweeper は新しいOrphanSweeperを生成する。metricsはnilでもよい。
func NewOrphanSweeper(store Lister, refs ReferenceCounter, m SweepRecorder, logger *slog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		store:       store,
		refs:        refs,
		metrics:     m,
		logger:      logger,
		GracePeriod: 24 * time.Hour,
		now:         time.Now,
	}
}

// Run は孤立した画像を1回スイープし、削除した件数を返す。
// 個々の画像の削除失敗はログに記録して次に進む。
func (s *OrphanSweeper) Run(ctx context.Context) (int, error) {
	start := s.now()

	objects, err := s.store.List(ctx, assets.KeyPrefix)
	if err != nil {
		s.logger.Error("画像一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("画像一覧の取得に失敗: %w", err)
	}

	cutoff := start.Add(-s.GracePeriod)
	deleted := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !assets.IsManagedKey(obj.Key) || obj.ModTime.After(cutoff) {
			continue
		}

		n, err := s.refs.CountImageReferences(ctx, obj.Key, "")
		if err != nil {
			s.logger.Error("画像の参照数の取得に失敗しました",
				slog.String("path", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			continue
		}

		if err := s.store.Delete(ctx, obj.Key); err != nil && !errors.Is(err, assets.ErrNotFound) {
			s.logger.Warn("孤立画像の削除に失敗しました",
				slog.String("path", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	if s.metrics != nil {
		s.metrics.RecordOrphansSwept(deleted)
	}
	s.logger.Info("孤立画像のスイープが完了しました",
		slog.Int("scanned_count", len(objects)),
		slog.Int("deleted_count", deleted),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *OrphanSweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("孤立画像スイーパーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("grace_period", s.GracePeriod),
	)

	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("孤立画像のスイープに失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("孤立画像スイーパーを停止しました")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("孤立画像のスイープに失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
