package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/postfeed/internal/assets"
	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/middleware"
	"github.com/hitoshi/postfeed/internal/model"
)

// マルチパートのフィールド名。
const (
	uploadFileField         = "image"
	uploadPreviousPathField = "previousPath"
	// 旧クライアントが送るpreviousPathの別名
	uploadLegacyPreviousPathField = "oldImgPath"
)

// multipartMemory はParseMultipartFormがメモリに保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 1 << 20

// AssetStorer はアップロードされた画像を保存する。assets.Bridgeが実装する。
type AssetStorer interface {
	Store(ctx context.Context, id auth.Identity, up *assets.Upload, previousPath string) (assets.StoreResult, error)
}

// UploadHandler は PUT /post-image を処理するHTTPハンドラー。
type UploadHandler struct {
	storer  AssetStorer
	maxSize int64
}

// NewUploadHandler はUploadHandlerを生成する。maxSizeはリクエストボディ全体の上限バイト数。
func NewUploadHandler(storer AssetStorer, maxSize int64) *UploadHandler {
	return &UploadHandler{
		storer:  storer,
		maxSize: maxSize,
	}
}

// ServeHTTP は画像を保存し、保存先パスを返す。
// ファイルがない、または受け付けない形式の場合は200で "No file provided" を返す。
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if _, err := auth.RequireUser(id); err != nil {
		handleServiceError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			handleServiceError(w, model.NewPayloadTooLargeError(h.maxSize))
		case errors.Is(err, http.ErrNotMultipart):
			handleServiceError(w, model.NewBadRequestError("multipart/form-dataで送信してください"))
		default:
			handleServiceError(w, model.NewBadRequestError("フォームを解析できません"))
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	previousPath := r.FormValue(uploadPreviousPathField)
	if previousPath == "" {
		previousPath = r.FormValue(uploadLegacyPreviousPathField)
	}

	var up *assets.Upload
	file, header, err := r.FormFile(uploadFileField)
	switch {
	case err == nil:
		defer file.Close()
		up = &assets.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		slog.Warn("アップロードファイルを読み込めません", slog.String("error", err.Error()))
		handleServiceError(w, model.NewBadRequestError("ファイルを読み込めません"))
		return
	}

	result, err := h.storer.Store(r.Context(), id, up, previousPath)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !result.Stored {
		writeJSON(w, http.StatusOK, uploadResponse{Message: "No file provided"})
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: "File saved",
		Path:    result.Path,
	})
}
