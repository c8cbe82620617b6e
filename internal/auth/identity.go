// Package auth はトークン発行・検証、パスワードハッシュ、サインアップとログインを提供する。
package auth

import "github.com/hitoshi/postfeed/internal/model"

// Identity はリクエストの呼び出し元を表す。
// AnonymousまたはAuthenticatedのいずれか。
type Identity interface {
	isIdentity()
}

// Anonymous は資格情報を持たない、または検証に失敗した呼び出し元。
type Anonymous struct{}

// Authenticated は有効なトークンを提示した呼び出し元。
type Authenticated struct {
	UserID string
	Email  string
}

func (Anonymous) isIdentity()     {}
func (Authenticated) isIdentity() {}

// RequireUser は認証済みの呼び出し元を返す。
// 匿名の場合はUNAUTHENTICATEDエラーを返す。
func RequireUser(id Identity) (Authenticated, error) {
	if a, ok := id.(Authenticated); ok && a.UserID != "" {
		return a, nil
	}
	return Authenticated{}, model.NewUnauthenticatedError()
}
