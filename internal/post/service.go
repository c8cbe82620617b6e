// Package post は投稿の閲覧・作成・更新・削除のドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/postfeed/internal/auth"
	"github.com/hitoshi/postfeed/internal/model"
	"github.com/hitoshi/postfeed/internal/repository"
	"github.com/hitoshi/postfeed/internal/validation"
)

// AssetReleaser は不要になった画像の削除を予約する。
// assets.Bridgeが実装する。
type AssetReleaser interface {
	Release(ctx context.Context, path, excludeOwnerID string)
}

// Input は投稿の作成・更新で受け取る内容。
type Input struct {
	Title   string
	Content string
	Image   model.ImageChange
}

// Service は投稿管理のサービス層。
// すべての操作は認証済みの呼び出し元を必要とする。
type Service struct {
	posts  repository.PostRepository
	assets AssetReleaser
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(posts repository.PostRepository, assets AssetReleaser) *Service {
	return &Service{
		posts:  posts,
		assets: assets,
	}
}

// GetPosts はフィードの1ページ分を作成日時の降順で返す。
// Countはページと無関係な投稿の総数。範囲外のページは空の一覧になる。
func (s *Service) GetPosts(ctx context.Context, id auth.Identity, page int) (*model.PostPage, error) {
	if _, err := auth.RequireUser(id); err != nil {
		return nil, err
	}

	count, err := s.posts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	posts := []*model.Post{}
	if offset := model.PageOffset(page); offset < count {
		posts, err = s.posts.List(ctx, offset, model.PostsPerPage)
		if err != nil {
			return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
		}
	}

	return &model.PostPage{
		Count:   count,
		PerPage: model.PostsPerPage,
		Posts:   posts,
	}, nil
}

// GetPost は指定IDの投稿を返す。閲覧は所有者に限らない。
func (s *Service) GetPost(ctx context.Context, id auth.Identity, postID string) (*model.Post, error) {
	if _, err := auth.RequireUser(id); err != nil {
		return nil, err
	}
	if !isValidID(postID) {
		return nil, model.NewPostNotFoundError(postID)
	}

	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	return post, nil
}

// CreatePost は呼び出し元を作成者とする投稿を作成する。
// 返す投稿には作成者の公開プロフィールが埋め込まれる。
func (s *Service) CreatePost(ctx context.Context, id auth.Identity, in Input) (*model.Post, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return nil, err
	}
	if v := validation.PostInput(in.Title, in.Content, in.Image); len(v) > 0 {
		return nil, model.NewValidationError(v)
	}

	post := &model.Post{
		Title:    in.Title,
		Content:  in.Content,
		ImageURL: in.Image.Apply(""),
		Creator:  model.Creator{ID: caller.UserID},
	}
	if err := s.posts.CreateOwned(ctx, post); err != nil {
		if errors.Is(err, repository.ErrCreatorNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("投稿を作成しました",
		slog.String("post_id", post.ID),
		slog.String("user_id", caller.UserID),
	)

	return post, nil
}

// UpdatePost は呼び出し元が作成者である投稿を更新する。
// 投稿が存在しない場合と所有者でない場合は区別せずNOT_FOUND_OR_FORBIDDENを返す。
// 画像を置き換えた、または外した場合は元の画像の削除を予約する。
func (s *Service) UpdatePost(ctx context.Context, id auth.Identity, postID string, in Input) (*model.Post, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return nil, err
	}
	if v := validation.PostInput(in.Title, in.Content, in.Image); len(v) > 0 {
		return nil, model.NewValidationError(v)
	}
	if !isValidID(postID) {
		return nil, model.NewNotFoundOrForbiddenError()
	}

	// 置き換え前の画像パス。削除予約のためだけに使い、認可には使わない
	var previousImage string
	if in.Image.Action != model.ImageUnset {
		if current, err := s.posts.FindByID(ctx, postID); err == nil && current != nil && current.Creator.ID == caller.UserID {
			previousImage = current.ImageURL
		}
	}

	post, err := s.posts.UpdateOwned(ctx, postID, caller.UserID, model.PostPatch{
		Title:   in.Title,
		Content: in.Content,
		Image:   in.Image,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFoundOrForbidden) {
			return nil, model.NewNotFoundOrForbiddenError()
		}
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}

	if previousImage != "" && previousImage != post.ImageURL {
		s.assets.Release(ctx, previousImage, "")
	}

	return post, nil
}

// DeletePost は呼び出し元が作成者である投稿を削除し、画像の削除を予約する。
// 画像削除の成否は結果に影響しない。
func (s *Service) DeletePost(ctx context.Context, id auth.Identity, postID string) (bool, error) {
	caller, err := auth.RequireUser(id)
	if err != nil {
		return false, err
	}
	if !isValidID(postID) {
		return false, model.NewNotFoundOrForbiddenError()
	}

	deleted, err := s.posts.DeleteOwned(ctx, postID, caller.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFoundOrForbidden) {
			return false, model.NewNotFoundOrForbiddenError()
		}
		return false, fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}

	if deleted.ImageURL != "" {
		s.assets.Release(ctx, deleted.ImageURL, "")
	}

	slog.Info("投稿を削除しました",
		slog.String("post_id", postID),
		slog.String("user_id", caller.UserID),
	)

	return true, nil
}

// isValidID は投稿IDとして妥当な形式かを判定する。
// 形式が不正なIDはデータベースに問い合わせずに不在として扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
