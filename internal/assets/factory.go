package assets

import (
	"context"
	"fmt"

	"github.com/hitoshi/postfeed/internal/config"
)

// NewStoreFromConfig は設定のASSET_STOREに応じたStoreを生成する。
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.AssetStore {
	case config.AssetStoreFilesystem:
		return NewFileSystemStore(cfg.AssetRoot)
	case config.AssetStoreMemory:
		return NewMemoryStore(), nil
	case config.AssetStoreS3:
		return NewS3Store(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unsupported asset store: %q", cfg.AssetStore)
	}
}
