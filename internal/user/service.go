// Package user はユーザープロフィールのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/repository"
)

// Service はユーザー管理のサービス層。
// 呼び出し元自身のプロフィールのみを扱い、他のユーザーの参照は提供しない。
type Service struct {
	users repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users repository.UserRepository) *Service {
	return &Service{users: users}
}

// GetUser は呼び出し元のユーザー情報を所有投稿ID一覧付きで返す。
func (s *Service) GetUser(ctx context.Context, id auth.Identity) (*model.User, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateStatus は呼び出し元のステータス文言を更新し、更新後のユーザーを返す。
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, status string) (*model.User, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return nil, err
	}

	user, err := s.users.UpdateStatus(ctx, caller.UserID, status)
	if err != nil {
		return nil, fmt.Errorf("ステータスの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("ステータスを更新しました",
		slog.String("user_id", caller.UserID),
	)

	return user, nil
}
