package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string           // エラーコード
	Message    string           // エラーメッセージ
	Category   string           // カテゴリ: auth, validation, post, system
	Action     string           // ユーザー向け対処方法
	Violations []FieldViolation // 入力検証エラーの一覧（VALIDATION_FAILEDのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// FieldViolation は入力検証で検出された1件の違反を表す。
type FieldViolation struct {
	Field   string
	Message string
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeLoginFailed         = "LOGIN_FAILED"
	ErrCodeNotFoundOrForbidden = "NOT_FOUND_OR_FORBIDDEN"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
// violationsには検出されたすべての違反を渡す。
func NewValidationError(violations []FieldViolation) *APIError {
	return &APIError{
		Code:       ErrCodeValidationFailed,
		Message:    "入力内容が正しくありません。",
		Category:   "validation",
		Action:     "入力内容を確認してください。",
		Violations: violations,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewLoginFailedError はログイン失敗エラーを生成する。
// ユーザー不在とパスワード不一致を区別しない。
func NewLoginFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotFoundOrForbiddenError は所有者以外による操作、または投稿不在のエラーを生成する。
// 投稿の存在有無を呼び出し元に漏らさない。
func NewNotFoundOrForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFoundOrForbidden,
		Message:  "投稿が見つからないか、操作する権限がありません。",
		Category: "post",
		Action:   "投稿IDと投稿者を確認してください。",
	}
}

// NewBadRequestError はリクエスト形式の不備によるエラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPayloadTooLargeError はアップロードサイズ超過エラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", limit),
		Category: "validation",
		Action:   "より小さい画像を選択してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
