package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/repository"
	"github.com/hitoshi/postfeed/internal/validation"
)

// UserStore はサインアップとログインに必要なユーザー永続化操作。
// repository.UserRepositoryの部分集合として定義する。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

// TokenIssuer はセッショントークンを発行する。
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

// Hasher はパスワードのハッシュ化と照合を行う。
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token  string
	UserID string
}

// Service はサインアップとログインのビジネスロジックを提供する。
// どちらも匿名の呼び出し元から実行できる。
type Service struct {
	users  UserStore
	tokens TokenIssuer
	hasher Hasher
}

// NewService はServiceを生成する。
func NewService(users UserStore, tokens TokenIssuer, hasher Hasher) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
	}
}

// Signup は新規ユーザーを登録する。
// 入力検証エラーはすべての違反をまとめて返す。メールアドレス重複はCONFLICTになる。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	if violations := validation.Signup(in.Email, in.Password, in.Name); len(violations) > 0 {
		return nil, model.NewValidationError(violations)
	}

	existing, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		Status:       model.DefaultUserStatus,
		PostIDs:      []string{},
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 存在確認と作成の間に同じメールアドレスで登録された場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// Login はメールアドレスとパスワードを照合してトークンを発行する。
// ユーザー不在とパスワード不一致は同じLOGIN_FAILEDエラーになる。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !s.hasher.Compare(user.PasswordHash, password) {
		return nil, model.NewLoginFailedError()
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, UserID: user.ID}, nil
}
