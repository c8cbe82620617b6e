package assets

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxNameLen = 100

// KeyGenerator はアップロード画像のキー "images/<ミリ秒タイムスタンプ>_<元ファイル名>" を生成する。
// タイムスタンプはプロセス内で単調増加し、同一ミリ秒の連続アップロードでも衝突しない。
type KeyGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewKeyGenerator はKeyGeneratorを生成する。
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{now: time.Now}
}

// Next は元ファイル名から新しいキーを生成する。
// extは元ファイル名に拡張子がない場合に付与する（".png"など）。
func (g *KeyGenerator) Next(originalName, ext string) string {
	g.mu.Lock()
	ts := g.now().UnixMilli()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	g.mu.Unlock()

	return KeyPrefix + strconv.FormatInt(ts, 10) + "_" + SanitizeName(originalName, ext)
}

// UploadedAt はキーに埋め込まれたアップロード時刻を返す。
// KeyGeneratorが生成した形式でない場合はfalseを返す。
func UploadedAt(key string) (time.Time, bool) {
	name, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return time.Time{}, false
	}
	ts, _, ok := strings.Cut(name, "_")
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SanitizeName はファイル名をキーに安全な文字だけに正規化する。
// ディレクトリ成分は取り除き、英数字と . _ - 以外は _ に置き換える。
func SanitizeName(name, ext string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")

	if clean == "" || clean == "_" {
		clean = "upload"
	}
	if path.Ext(clean) == "" && ext != "" {
		clean += ext
	}
	if len(clean) > maxNameLen {
		e := path.Ext(clean)
		if len(e) >= maxNameLen {
			e = ""
		}
		clean = clean[:maxNameLen-len(e)] + e
	}
	return clean
}
