package assets

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
)

// ServeHandler は "/images/..." へのGETリクエストに対してアセットを返すハンドラーを生成する。
// 管理対象外のキーと存在しないキーはどちらも404を返す。
func ServeHandler(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		if !IsManagedKey(key) {
			http.NotFound(w, r)
			return
		}

		rc, err := store.Open(r.Context(), key)
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("画像の読み出しに失敗しました",
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer rc.Close()

		ct := mime.TypeByExtension(strings.ToLower(path.Ext(key)))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.WriteHeader(http.StatusOK)

		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, rc); err != nil {
			logger.Warn("画像の送信に失敗しました",
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
		}
	})
}
