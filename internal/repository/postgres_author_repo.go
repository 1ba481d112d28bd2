package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ulib/internal/model"
)

// PostgresAuthorRepo はPostgreSQLを使用した著者リポジトリ。
type PostgresAuthorRepo struct {
	db *sql.DB
}

// NewPostgresAuthorRepo はPostgresAuthorRepoを生成する。
func NewPostgresAuthorRepo(db *sql.DB) *PostgresAuthorRepo {
	return &PostgresAuthorRepo{db: db}
}

// 著者の書籍シーケンスはbooks.author_idから登録順で導出する。
const authorSelect = `
	SELECT a.id, a.name, a.country, a.description, a.photo, a.created_at, a.updated_at,
	       ARRAY(SELECT b.id::text FROM books b WHERE b.author_id = a.id ORDER BY b.created_at, b.id)
	FROM authors a`

func scanAuthor(row interface{ Scan(...any) error }) (*model.Author, error) {
	a := &model.Author{}
	var bookIDs []string
	err := row.Scan(
		&a.ID, &a.Name, &a.Country, &a.Description, &a.Photo,
		&a.CreatedAt, &a.UpdatedAt, pq.Array(&bookIDs),
	)
	if err != nil {
		return nil, err
	}
	if bookIDs == nil {
		bookIDs = []string{}
	}
	a.BookIDs = bookIDs
	return a, nil
}

// FindByID は指定IDの著者を書籍IDシーケンス付きで取得する。見つからない場合はnilを返す。
func (r *PostgresAuthorRepo) FindByID(ctx context.Context, id string) (*model.Author, error) {
	author, err := scanAuthor(r.db.QueryRowContext(ctx, authorSelect+` WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find author by ID: %w", err)
	}
	return author, nil
}

// List は著者一覧を名前順で返す。Searchは名前の部分一致（大文字小文字を区別しない）。
func (r *PostgresAuthorRepo) List(ctx context.Context, filter model.AuthorFilter) ([]*model.Author, error) {
	rows, err := r.db.QueryContext(ctx,
		authorSelect+`
		WHERE ($1 = '' OR a.name ILIKE '%' || $1 || '%')
		ORDER BY lower(a.name), a.id`,
		escapeLike(filter.Search),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	defer rows.Close()

	authors := []*model.Author{}
	for rows.Next() {
		author, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan author: %w", err)
		}
		authors = append(authors, author)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate authors: %w", err)
	}
	return authors, nil
}

// Create は著者を作成する。
func (r *PostgresAuthorRepo) Create(ctx context.Context, author *model.Author) error {
	now := time.Now().UTC()
	author.CreatedAt = now
	author.UpdatedAt = now
	if author.BookIDs == nil {
		author.BookIDs = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authors (id, name, country, description, photo, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		author.ID, author.Name, author.Country, author.Description, author.Photo,
		author.CreatedAt, author.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert author: %w", err)
	}
	return nil
}

// Update は著者情報を更新する。見つからない場合はErrNotFoundを返す。
func (r *PostgresAuthorRepo) Update(ctx context.Context, author *model.Author) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE authors SET name = $2, country = $3, description = $4, photo = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		author.ID, author.Name, author.Country, author.Description, author.Photo,
	).Scan(&author.CreatedAt, &author.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update author: %w", err)
	}
	return nil
}

// Delete は著者を削除する。
// 書籍が残っている場合は外部キー制約（ON DELETE RESTRICT）によりErrReferencedを返す。
func (r *PostgresAuthorRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM authors WHERE id = $1`, id)
	if pqErrorCode(err) == pqForeignKeyViolation {
		return ErrReferenced
	}
	if err != nil {
		return fmt.Errorf("failed to delete author: %w", err)
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

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ AuthorRepository = (*PostgresAuthorRepo)(nil)
