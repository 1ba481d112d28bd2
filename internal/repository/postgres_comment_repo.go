package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/ulib/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// 退会済みユーザーのコメントはuser_uidがNULLになり、投稿者名も空になる。
const commentSelect = `
	SELECT c.id, c.user_uid, COALESCE(u.name, ''), c.book_id, c.text, c.created_at
	FROM comments c
	LEFT JOIN users u ON u.uid = c.user_uid`

func scanComment(row interface{ Scan(...any) error }) (*model.Comment, error) {
	c := &model.Comment{}
	var userUID sql.NullString
	if err := row.Scan(&c.ID, &userUID, &c.UserName, &c.BookID, &c.Text, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.UserUID = userUID.String
	return c, nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	comment, err := scanComment(r.db.QueryRowContext(ctx, commentSelect+` WHERE c.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment by ID: %w", err)
	}
	return comment, nil
}

// ListByBook は書籍のコメントを作成日時順で返す。
// orderがCommentsOldestの場合は古い順、それ以外は新しい順。
func (r *PostgresCommentRepo) ListByBook(ctx context.Context, bookID string, order model.CommentOrder) ([]*model.Comment, error) {
	orderBy := `c.created_at DESC, c.id DESC`
	if order == model.CommentsOldest {
		orderBy = `c.created_at ASC, c.id ASC`
	}

	rows, err := r.db.QueryContext(ctx,
		commentSelect+` WHERE c.book_id = $1 ORDER BY `+orderBy,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成する。書籍または投稿者が存在しない場合はErrMissingReferenceを返す。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, user_uid, book_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.UserUID, comment.BookID, comment.Text, comment.CreatedAt,
	)
	if pqErrorCode(err) == pqForeignKeyViolation {
		return ErrMissingReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// Delete は指定IDのコメントを削除する。見つからない場合はErrNotFoundを返す。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
