// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/postfeed/internal/model"
)

var (
	// ErrDuplicate は一意制約違反（メールアドレス重複など）を表す。
	ErrDuplicate = errors.New("repository: duplicate key")

	// ErrNotFoundOrForbidden は対象が存在しないか、呼び出し元が所有者でないことを表す。
	// 両者は区別しない。
	ErrNotFoundOrForbidden = errors.New("repository: not found or not owned by caller")

	// ErrCreatorNotFound は投稿作成時に作成者ユーザーが存在しないことを表す。
	ErrCreatorNotFound = errors.New("repository: creator not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを所有投稿ID一覧付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateStatus はステータス文言を更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id, status string) (*model.User, error)
}

// PostRepository は投稿データの永続化インターフェース。
// 更新・削除は所有者条件をクエリに含め、一致しない場合はErrNotFoundOrForbiddenを返す。
type PostRepository interface {
	// FindByID は作成者情報付きで投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// List は作成日時の降順で投稿を取得する。
	List(ctx context.Context, offset, limit int) ([]*model.Post, error)

	// Count は投稿の総数を返す。
	Count(ctx context.Context) (int, error)

	// CreateOwned は作成者の存在確認と投稿の挿入を同一トランザクションで行う。
	// post.Creator.IDに作成者IDを設定して渡す。ID、作成者名、タイムスタンプは書き戻される。
	CreateOwned(ctx context.Context, post *model.Post) error

	// UpdateOwned はidとcallerIDの両方に一致する投稿を更新し、更新後の投稿を返す。
	UpdateOwned(ctx context.Context, id, callerID string, patch model.PostPatch) (*model.Post, error)

	// DeleteOwned はidとcallerIDの両方に一致する投稿を削除し、削除前の投稿を返す。
	DeleteOwned(ctx context.Context, id, callerID string) (*model.Post, error)

	// CountImageReferences はimagePathを参照している投稿数を返す。
	// excludeOwnerIDが空でない場合、そのユーザーの投稿は数えない。
	CountImageReferences(ctx context.Context, imagePath, excludeOwnerID string) (int, error)
}
