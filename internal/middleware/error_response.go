package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/postfeed/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 操作APIと同じく errors 配列で返す。
type ErrorResponseBody struct {
	Errors []ErrorDetail `json:"errors"`
}

// ErrorDetail は1件のエラー。原因カテゴリと対処方法を含む。
type ErrorDetail struct {
	Message  string          `json:"message"`
	Status   int             `json:"status"`
	Code     string          `json:"code"`
	Category string          `json:"category"`
	Action   string          `json:"action"`
	Data     []ViolationBody `json:"data,omitempty"`
}

// ViolationBody は入力検証エラー1件のJSON表現。
type ViolationBody struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewErrorDetail はAPIErrorからレスポンス用のエラーを組み立てる。
func NewErrorDetail(statusCode int, apiErr *model.APIError) ErrorDetail {
	d := ErrorDetail{
		Message:  apiErr.Message,
		Status:   statusCode,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
	for _, v := range apiErr.Violations {
		d.Data = append(d.Data, ViolationBody{Field: v.Field, Message: v.Message})
	}
	return d
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Errors: []ErrorDetail{NewErrorDetail(statusCode, apiErr)},
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
