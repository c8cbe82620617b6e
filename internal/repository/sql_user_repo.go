package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/postfeed/internal/model"
)

// SQLUserRepo はdatabase/sqlを使用したユーザーリポジトリ。
// PostgreSQLとSQLiteの両方で動作するクエリのみを使用する。
type SQLUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB) *SQLUserRepo {
	return &SQLUserRepo{db: db, now: time.Now}
}

const selectUserColumns = `SELECT id, email, password_hash, name, status, created_at, updated_at FROM users`

// FindByID は指定IDのユーザーを所有投稿ID一覧付きで取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, selectUserColumns+` WHERE id = $1`, id)
	if err != nil || user == nil {
		return user, err
	}

	postIDs, err := r.listPostIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.PostIDs = postIDs

	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
// 投稿ID一覧は読み込まない。
func (r *SQLUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, selectUserColumns+` WHERE email = $1`, email)
}

// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
func (r *SQLUserRepo) Create(ctx context.Context, user *model.User) error {
	now := timestamp(r.now())
	if user.Status == "" {
		user.Status = model.DefaultUserStatus
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Status, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// UpdateStatus はステータス文言を更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
func (r *SQLUserRepo) UpdateStatus(ctx context.Context, id, status string) (*model.User, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`,
		status, timestamp(r.now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.FindByID(ctx, id)
}

func (r *SQLUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Status,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

// listPostIDs はユーザーの所有投稿IDを作成日時の昇順で返す。
func (r *SQLUserRepo) listPostIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM posts WHERE creator_id = $1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list post ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post ids: %w", err)
	}

	return ids, nil
}

// timestamp はDBに保存する時刻をUTC・マイクロ秒精度に揃える。
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
