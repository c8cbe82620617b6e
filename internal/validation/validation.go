// Package validation は入力値の検証を提供する。
// すべての関数は副作用を持たず、検出した違反をまとめて返す。
package validation

import (
	"net/mail"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/postfeed/internal/model"
)

// 文字数の制約（Unicodeコードポイント単位）。
const (
	PasswordMinLen = 6
	PasswordMaxLen = 20
	NameMinLen     = 2
	NameMaxLen     = 15
	TitleMinLen    = 5
	TitleMaxLen    = 255
	ContentMinLen  = 5
	ContentMaxLen  = 255
)

// PasswordMaxBytes はbcryptが扱えるパスワードの最大バイト数。
const PasswordMaxBytes = 72

// Signup はサインアップ入力を検証する。
func Signup(email, password, name string) []model.FieldViolation {
	var v []model.FieldViolation
	if !IsEmail(email) {
		v = append(v, model.FieldViolation{Field: "email", Message: "メールアドレスの形式が正しくありません。"})
	}
	switch {
	case !lengthBetween(password, PasswordMinLen, PasswordMaxLen):
		v = append(v, model.FieldViolation{Field: "password", Message: "パスワードは6文字以上20文字以下で入力してください。"})
	case len(password) > PasswordMaxBytes:
		v = append(v, model.FieldViolation{Field: "password", Message: "パスワードが長すぎます。"})
	}
	if !lengthBetween(name, NameMinLen, NameMaxLen) {
		v = append(v, model.FieldViolation{Field: "name", Message: "名前は2文字以上15文字以下で入力してください。"})
	}
	return v
}

// PostInput は投稿の作成・更新入力を検証する。
// imageはSetの場合のみパスを検証する。
func PostInput(title, content string, image model.ImageChange) []model.FieldViolation {
	var v []model.FieldViolation
	if !lengthBetween(title, TitleMinLen, TitleMaxLen) {
		v = append(v, model.FieldViolation{Field: "title", Message: "タイトルは5文字以上255文字以下で入力してください。"})
	}
	if !lengthBetween(content, ContentMinLen, ContentMaxLen) {
		v = append(v, model.FieldViolation{Field: "content", Message: "本文は5文字以上255文字以下で入力してください。"})
	}
	if image.Action == model.ImageSet && !IsAssetPath(image.Path) {
		v = append(v, model.FieldViolation{Field: "imageUrl", Message: "画像パスが正しくありません。"})
	}
	return v
}

// IsEmail はメールアドレスとして構文的に妥当かを判定する。
// 表示名付きの形式（"Ann <a@b.com>"）は受け付けない。
func IsEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// IsAssetPath はアセットストア内の相対パスとして安全かを判定する。
// 絶対パス、親ディレクトリへの参照、正規化されていないパスは拒否する。
func IsAssetPath(p string) bool {
	if p == "" || strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return false
	}
	if strings.HasPrefix(p, "/") {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func lengthBetween(s string, min, max int) bool {
	n := utf8.RuneCountInString(s)
	return n >= min && n <= max
}
