// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/postfeed/internal/auth"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに呼び出し元を格納するためのキー。
var identityContextKey = contextKey("identity")

// Verifier はAuthorizationヘッダーから呼び出し元を判定する。
// auth.TokenManagerが実装する。
type Verifier interface {
	Verify(header string) auth.Identity
}

// NewAuthenticationMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 呼び出し元をリクエストコンテキストに注入するミドルウェアを返す。
// 検証に失敗したリクエストも拒否せず、匿名として後段に渡す。
// 認証の要否は各操作が判断する。
func NewAuthenticationMiddleware(verifier Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := verifier.Verify(r.Header.Get("Authorization"))
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから呼び出し元を取得する。
// 認証ミドルウェアを通過していない場合はAnonymousを返す。
func IdentityFromContext(ctx context.Context) auth.Identity {
	if id, ok := ctx.Value(identityContextKey).(auth.Identity); ok && id != nil {
		return id
	}
	return auth.Anonymous{}
}

// ContextWithIdentity はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// UserIDFromContext は認証済みの呼び出し元のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	if a, ok := IdentityFromContext(ctx).(auth.Authenticated); ok && a.UserID != "" {
		return a.UserID, nil
	}
	return "", fmt.Errorf("user ID not found in context")
}
