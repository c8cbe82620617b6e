// Package assets は投稿画像の保存・取得・削除と、アップロードを受け付けるブリッジを提供する。
package assets

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/postfeed/internal/validation"
)

// KeyPrefix はアップロード画像を保存するキーの接頭辞。
const KeyPrefix = "images/"

// ErrNotFound は指定キーのアセットが存在しないことを表す。
var ErrNotFound = errors.New("assets: not found")

// Object はストア内のアセットのメタデータ。
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store はアセットの保存先を抽象化するインターフェース。
// キーは "images/<name>" 形式のスラッシュ区切り相対パス。
type Store interface {
	// Save はキーにデータを保存する。既存のキーは上書きする。
	Save(ctx context.Context, key string, body io.Reader, contentType string) error
	// Open はキーのデータを読み出す。存在しない場合はErrNotFoundを返す。
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete はキーのデータを削除する。存在しない場合はErrNotFoundを返すことがある。
	Delete(ctx context.Context, key string) error
	// List は接頭辞に一致するアセットを列挙する。
	List(ctx context.Context, prefix string) ([]Object, error)
}

// IsManagedKey はキーがこのサービスの管理するアップロード画像かを判定する。
// 削除と配信はこの条件を満たすキーに限る。
func IsManagedKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && len(key) > len(KeyPrefix) && validation.IsAssetPath(key)
}
