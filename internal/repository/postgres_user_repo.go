package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/ulib/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `uid, name, email, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var role string
	if err := row.Scan(&user.UID, &user.Name, &user.Email, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// FindByUID は指定UIDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUID(ctx context.Context, uid string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = $1`,
		uid,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by UID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。UIDが登録済みの場合はErrAlreadyExistsを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = model.RoleUser
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (uid, name, email, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.UID, user.Name, user.Email, string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if pqErrorCode(err) == pqUniqueViolation {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateName はユーザー名を更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateName(ctx context.Context, uid, name string) (*model.User, error) {
	return r.updateField(ctx, "name", uid, name)
}

// UpdateEmail はメールアドレスを更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateEmail(ctx context.Context, uid, email string) (*model.User, error) {
	return r.updateField(ctx, "email", uid, email)
}

// updateField は単一カラムを更新する。columnは呼び出し元で固定された値のみを受け付ける。
func (r *PostgresUserRepo) updateField(ctx context.Context, column, uid, value string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = now()
		 WHERE uid = $1
		 RETURNING `+userColumns,
		uid, value,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user %s: %w", column, err)
	}
	return user, nil
}

// Delete はユーザーを削除する。
// ユーザーの評価を書籍の集計値から差し引いてから行を削除する。
// リスト・評価・お気に入りはCASCADE削除され、コメントのuser_uidはNULLになる。
func (r *PostgresUserRepo) Delete(ctx context.Context, uid string) error {
	return runInTx(ctx, r.db, func(tx *sql.Tx) error {
		// SetRatingと同じく書籍行を先にロックし、差し引く評価値が確定してから読む
		if _, err := tx.ExecContext(ctx,
			`SELECT b.id FROM books b
			 JOIN user_ratings ur ON ur.book_id = b.id
			 WHERE ur.user_uid = $1
			 ORDER BY b.id
			 FOR UPDATE OF b`,
			uid,
		); err != nil {
			return fmt.Errorf("failed to lock rated books: %w", err)
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE books b SET
			     rating_sum = b.rating_sum - ur.rating,
			     ratings_count = b.ratings_count - 1,
			     updated_at = now()
			 FROM user_ratings ur
			 WHERE ur.book_id = b.id AND ur.user_uid = $1`,
			uid,
		)
		if err != nil {
			return fmt.Errorf("failed to subtract user ratings: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, uid)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
