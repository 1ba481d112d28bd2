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

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

const bookSelect = `
	SELECT b.id, b.title, b.author_id, a.name, b.year, b.cover, b.genres,
	       b.rating_sum, b.ratings_count, b.created_at, b.updated_at
	FROM books b
	JOIN authors a ON a.id = b.author_id`

// bookSortColumns はソートキーとORDER BY式の対応。NULLは常に末尾に並べる。
var bookSortColumns = map[model.BookSort]string{
	model.BookSortTitle:     "lower(b.title)",
	model.BookSortYear:      "b.year",
	model.BookSortRating:    "(CASE WHEN b.ratings_count = 0 THEN NULL ELSE b.rating_sum::float8 / b.ratings_count END)",
	model.BookSortCreatedAt: "b.created_at",
}

func scanBook(row interface{ Scan(...any) error }) (*model.Book, error) {
	b := &model.Book{}
	var year sql.NullInt64
	var genres []string
	err := row.Scan(
		&b.ID, &b.Title, &b.AuthorID, &b.AuthorName, &year, &b.Cover, pq.Array(&genres),
		&b.RatingSum, &b.RatingsCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if year.Valid {
		y := int(year.Int64)
		b.Year = &y
	}
	if genres == nil {
		genres = []string{}
	}
	b.Genres = genres
	return b, nil
}

// FindByID は指定IDの書籍を著者名付きで取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx, bookSelect+` WHERE b.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// List は条件に一致する書籍一覧を返す。
// ListNameとUserUIDが両方指定された場合は、そのユーザーのリストに含まれる書籍に絞り込む。
func (r *PostgresBookRepo) List(ctx context.Context, filter model.BookFilter) ([]*model.Book, error) {
	query, args := buildBookListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []*model.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}
	return books, nil
}

// buildBookListQuery は検索条件からSQLとパラメータを組み立てる。
func buildBookListQuery(filter model.BookFilter) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AuthorID != "" {
		conds = append(conds, "b.author_id = "+next(filter.AuthorID))
	}
	if filter.Search != "" {
		conds = append(conds, "b.title ILIKE '%' || "+next(escapeLike(filter.Search))+" || '%'")
	}
	if filter.ListName != "" && filter.UserUID != "" {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM user_book_lists l WHERE l.book_id = b.id AND l.user_uid = %s AND l.list_name = %s)",
			next(filter.UserUID), next(string(filter.ListName)),
		))
	}

	var sb strings.Builder
	sb.WriteString(bookSelect)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	column, ok := bookSortColumns[filter.Sort]
	if !ok {
		column = bookSortColumns[model.BookSortCreatedAt]
	}
	direction := "DESC"
	if filter.Order == model.SortAsc {
		direction = "ASC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s NULLS LAST, b.id %s", column, direction, direction)

	return sb.String(), args
}

// Create は書籍を作成する。著者が存在しない場合はErrMissingReferenceを返す。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	now := time.Now().UTC()
	book.CreatedAt = now
	book.UpdatedAt = now
	if book.Genres == nil {
		book.Genres = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author_id, year, cover, genres, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.Title, book.AuthorID, book.Year, book.Cover, pq.Array(book.Genres),
		book.CreatedAt, book.UpdatedAt,
	)
	if pqErrorCode(err) == pqForeignKeyViolation {
		return ErrMissingReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// Update は書籍情報を更新する。集計値は変更しない。
// 見つからない場合はErrNotFound、著者が存在しない場合はErrMissingReferenceを返す。
func (r *PostgresBookRepo) Update(ctx context.Context, book *model.Book) error {
	if book.Genres == nil {
		book.Genres = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`UPDATE books SET title = $2, author_id = $3, year = $4, cover = $5, genres = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING rating_sum, ratings_count, created_at, updated_at`,
		book.ID, book.Title, book.AuthorID, book.Year, book.Cover, pq.Array(book.Genres),
	).Scan(&book.RatingSum, &book.RatingsCount, &book.CreatedAt, &book.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if pqErrorCode(err) == pqForeignKeyViolation {
		return ErrMissingReference
	}
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	return nil
}

// DeleteCascade は書籍と、書籍を参照するリスト・評価・コメントを1トランザクションで削除する。
// 書籍行をFOR UPDATEでロックしてから参照を削除するため、並行するリスト追加や評価は
// 書籍削除のコミット後に外部キー違反で失敗し、ぶら下がった参照は残らない。
// 一時的なエラーの場合はトランザクション全体を再実行する。
func (r *PostgresBookRepo) DeleteCascade(ctx context.Context, id string) (*model.BookDeletion, error) {
	var deletion *model.BookDeletion

	err := runInTx(ctx, r.db, func(tx *sql.Tx) error {
		deletion = &model.BookDeletion{}

		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM books WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock book: %w", err)
		}

		steps := []struct {
			query string
			count *int64
		}{
			{`DELETE FROM user_book_lists WHERE book_id = $1`, &deletion.ListEntries},
			{`DELETE FROM user_ratings WHERE book_id = $1`, &deletion.Ratings},
			{`DELETE FROM comments WHERE book_id = $1`, &deletion.Comments},
			{`DELETE FROM books WHERE id = $1`, nil},
		}
		for _, step := range steps {
			result, err := tx.ExecContext(ctx, step.query, id)
			if err != nil {
				return fmt.Errorf("failed to delete book references: %w", err)
			}
			if step.count != nil {
				n, err := result.RowsAffected()
				if err != nil {
					return fmt.Errorf("failed to get rows affected: %w", err)
				}
				*step.count = n
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deletion, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
