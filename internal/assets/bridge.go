package assets

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/metrics"
)

// 受け付ける画像形式（宣言されたContent-Type）。
var acceptedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpg":  ".jpg",
	"image/jpeg": ".jpg",
}

// sniffLen はhttp.DetectContentTypeが参照する先頭バイト数。
const sniffLen = 512

// Upload はクライアントから受け取った1件のファイル。
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// StoreResult はアップロード受付の結果。
// Storedがfalseの場合、ファイルは保存されていない（未送信または形式不一致）。
type StoreResult struct {
	Path   string
	Stored bool
}

// ReferenceCounter は画像パスを参照する投稿数を数える。
// repository.PostRepositoryの部分集合として定義する。
type ReferenceCounter interface {
	CountImageReferences(ctx context.Context, imagePath, excludeOwnerID string) (int, error)
}

// DeletionScheduler はアセット削除を非同期に予約する。
type DeletionScheduler interface {
	Enqueue(key string) bool
}

// Recorder はブリッジが記録するメトリクス。
type Recorder interface {
	RecordAssetStored()
	RecordAssetRejected()
	RecordAssetDeletion(result string)
}

// Bridge はアップロードされた画像をストアに保存し、置き換えられた画像の削除を予約する。
// 投稿レコードとは独立しており、呼び出し側が「保存」→「投稿作成・更新」の順に呼ぶ。
type Bridge struct {
	// GracePeriod より新しいpreviousPathはStoreで削除しない（デフォルト: 24時間）。
	// 置き換えられた画像は投稿更新時のRelease、残りはOrphanSweeperが回収する。
	GracePeriod time.Duration

	store   Store
	refs    ReferenceCounter
	deleter DeletionScheduler
	keys    *KeyGenerator
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewBridge はBridgeを生成する。metricsはnilでもよい。
func NewBridge(store Store, refs ReferenceCounter, deleter DeletionScheduler, m Recorder, logger *slog.Logger) *Bridge {
	return &Bridge{
		store:   store,
		refs:    refs,
		deleter: deleter,
		keys:    NewKeyGenerator(),
		metrics: m,
		logger:  logger,

		GracePeriod: 24 * time.Hour,
		now:         time.Now,
	}
}

// Store はアップロードを保存し、新しいパスを返す。
// 匿名の呼び出し元はUNAUTHENTICATEDエラーになる。
// ファイルがない、または受け付けない形式の場合はStored=falseでエラーなしを返す。
// 保存に成功した後、previousPathが指定されGracePeriodより古ければその削除を予約する。
func (b *Bridge) Store(ctx context.Context, id auth.Identity, up *Upload, previousPath string) (StoreResult, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return StoreResult{}, err
	}
	if up == nil || up.Body == nil {
		return StoreResult{}, nil
	}

	ext, ok := acceptedContentTypes[normalizeContentType(up.ContentType)]
	if !ok {
		b.reject(caller.UserID, up, "受け付けないContent-Typeです")
		return StoreResult{}, nil
	}

	br := bufio.NewReaderSize(up.Body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return StoreResult{}, fmt.Errorf("failed to read upload: %w", err)
	}
	sniffed := http.DetectContentType(head)
	if sniffed != "image/png" && sniffed != "image/jpeg" {
		b.reject(caller.UserID, up, "PNGまたはJPEGではありません")
		return StoreResult{}, nil
	}

	key := b.keys.Next(up.Filename, ext)
	if err := b.store.Save(ctx, key, br, sniffed); err != nil {
		return StoreResult{}, fmt.Errorf("failed to save asset: %w", err)
	}
	if b.metrics != nil {
		b.metrics.RecordAssetStored()
	}

	b.logger.Info("画像を保存しました",
		slog.String("user_id", caller.UserID),
		slog.String("path", key),
	)

	if previousPath != "" && previousPath != key {
		if b.withinGracePeriod(previousPath) {
			b.logger.Info("アップロードから間もない画像のため削除を見送ります",
				slog.String("user_id", caller.UserID),
				slog.String("path", previousPath),
			)
		} else {
			b.Release(ctx, previousPath, caller.UserID)
		}
	}

	return StoreResult{Path: key, Stored: true}, nil
}

// Release は画像パスの削除を予約する。
// 管理対象外のパスや、excludeOwnerID以外のユーザーの投稿が参照しているパスは削除しない。
// 失敗はログとメトリクスに記録するだけで、呼び出し元には返さない。
func (b *Bridge) Release(ctx context.Context, path, excludeOwnerID string) {
	if path == "" {
		return
	}
	if !IsManagedKey(path) {
		b.logger.Warn("管理対象外のパスのため削除しません",
			slog.String("path", path),
			slog.String("user_id", excludeOwnerID),
		)
		return
	}

	n, err := b.refs.CountImageReferences(ctx, path, excludeOwnerID)
	if err != nil {
		b.logger.Error("画像の参照数の取得に失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if b.metrics != nil {
			b.metrics.RecordAssetDeletion(metrics.DeletionFailed)
		}
		return
	}
	if n > 0 {
		b.logger.Info("他の投稿が参照しているため画像を削除しません",
			slog.String("path", path),
			slog.Int("references", n),
		)
		if b.metrics != nil {
			b.metrics.RecordAssetDeletion(metrics.DeletionReferenced)
		}
		return
	}

	b.deleter.Enqueue(path)
}

// withinGracePeriod はpathのアップロード時刻がGracePeriod以内かを判定する。
// 時刻を読み取れないパスはReleaseの検証に任せる。
func (b *Bridge) withinGracePeriod(path string) bool {
	uploaded, ok := UploadedAt(path)
	if !ok {
		return false
	}
	return b.now().Sub(uploaded) < b.GracePeriod
}

func (b *Bridge) reject(userID string, up *Upload, reason string) {
	if b.metrics != nil {
		b.metrics.RecordAssetRejected()
	}
	b.logger.Warn("アップロードを拒否しました",
		slog.String("user_id", userID),
		slog.String("filename", up.Filename),
		slog.String("content_type", up.ContentType),
		slog.String("reason", reason),
	)
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
