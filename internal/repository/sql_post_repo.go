package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/postfeed/internal/model"
)

// SQLPostRepo はdatabase/sqlを使用した投稿リポジトリ。
// プレースホルダはSQLiteでも位置で束縛されるよう、出現順に$1から番号を振る。
type SQLPostRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLPostRepo はSQLPostRepoを生成する。
func NewSQLPostRepo(db *sql.DB) *SQLPostRepo {
	return &SQLPostRepo{db: db, now: time.Now}
}

// queryer は*sql.DBと*sql.Txに共通する読み取り操作。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectPostColumns = `SELECT p.id, p.title, p.content, p.image_url, p.creator_id, u.name, p.created_at, p.updated_at
	 FROM posts p JOIN users u ON u.id = p.creator_id`

// rowScanner は*sql.Rowと*sql.Rowsに共通するScan。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var imageURL sql.NullString
	if err := s.Scan(
		&post.ID, &post.Title, &post.Content, &imageURL,
		&post.Creator.ID, &post.Creator.Name,
		&post.CreatedAt, &post.UpdatedAt,
	); err != nil {
		return nil, err
	}
	post.ImageURL = imageURL.String
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return post, nil
}

// FindByID は作成者情報付きで投稿を取得する。見つからない場合はnilを返す。
func (r *SQLPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return findPost(ctx, r.db, id)
}

func findPost(ctx context.Context, q queryer, id string) (*model.Post, error) {
	post, err := scanPost(q.QueryRowContext(ctx, selectPostColumns+` WHERE p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}
	return post, nil
}

// List は作成日時の降順で投稿を取得する。
// 作成日時が同一の場合はIDの降順で並べ、ページ間で順序が揺れないようにする。
func (r *SQLPostRepo) List(ctx context.Context, offset, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		selectPostColumns+` ORDER BY p.created_at DESC, p.id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []*model.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// Count は投稿の総数を返す。
func (r *SQLPostRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// CreateOwned は作成者の存在確認と投稿の挿入を同一トランザクションで行う。
// ユーザーの所有投稿一覧はposts.creator_idから導出されるため、挿入と同時に反映される。
func (r *SQLPostRepo) CreateOwned(ctx context.Context, post *model.Post) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var creatorName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM users WHERE id = $1`, post.Creator.ID).Scan(&creatorName)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCreatorNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find creator: %w", err)
	}

	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	now := timestamp(r.now())
	post.CreatedAt = now
	post.UpdatedAt = now
	post.Creator.Name = creatorName

	_, err = tx.ExecContext(ctx,
		`INSERT INTO posts (id, title, content, image_url, creator_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.Title, post.Content, nullString(post.ImageURL), post.Creator.ID, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateOwned はidとcallerIDの両方に一致する投稿を更新し、更新後の投稿を返す。
// patch.ImageがImageUnsetの場合はimage_urlを変更しない。
func (r *SQLPostRepo) UpdateOwned(ctx context.Context, id, callerID string, patch model.PostPatch) (*model.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := timestamp(r.now())

	var result sql.Result
	if patch.Image.Action == model.ImageUnset {
		result, err = tx.ExecContext(ctx,
			`UPDATE posts SET title = $1, content = $2, updated_at = $3
			 WHERE id = $4 AND creator_id = $5`,
			patch.Title, patch.Content, now, id, callerID,
		)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE posts SET title = $1, content = $2, image_url = $3, updated_at = $4
			 WHERE id = $5 AND creator_id = $6`,
			patch.Title, patch.Content, nullString(patch.Image.Apply("")), now, id, callerID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFoundOrForbidden
	}

	post, err := findPost(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrNotFoundOrForbidden
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return post, nil
}

// DeleteOwned はidとcallerIDの両方に一致する投稿を削除し、削除前の投稿を返す。
func (r *SQLPostRepo) DeleteOwned(ctx context.Context, id, callerID string) (*model.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	post, err := findPost(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if post == nil || post.Creator.ID != callerID {
		return nil, ErrNotFoundOrForbidden
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1 AND creator_id = $2`,
		id, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete post: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFoundOrForbidden
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return post, nil
}

// CountImageReferences はimagePathを参照している投稿数を返す。
// excludeOwnerIDが空でない場合、そのユーザーの投稿は数えない。
func (r *SQLPostRepo) CountImageReferences(ctx context.Context, imagePath, excludeOwnerID string) (int, error) {
	var (
		n   int
		err error
	)
	if excludeOwnerID == "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT count(*) FROM posts WHERE image_url = $1`,
			imagePath,
		).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT count(*) FROM posts WHERE image_url = $1 AND creator_id <> $2`,
			imagePath, excludeOwnerID,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count image references: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ PostRepository = (*SQLPostRepo)(nil)
