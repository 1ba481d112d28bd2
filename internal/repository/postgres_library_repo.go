package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/hitoshi/ulib/internal/model"
)

// PostgresLibraryRepo はPostgreSQLを使用したリスト・評価・お気に入りリポジトリ。
// 集合の重複排除は各テーブルの複合主キーが保証する。
type PostgresLibraryRepo struct {
	db *sql.DB
}

// NewPostgresLibraryRepo はPostgresLibraryRepoを生成する。
func NewPostgresLibraryRepo(db *sql.DB) *PostgresLibraryRepo {
	return &PostgresLibraryRepo{db: db}
}

// ToggleList はリストに書籍があれば削除し、なければ追加する。
// 削除と追加はそれぞれ単一のアトミックな文で、追加はON CONFLICT DO NOTHINGで重複を作らない。
func (r *PostgresLibraryRepo) ToggleList(ctx context.Context, uid string, list model.ListName, bookID string) (model.ToggleStatus, error) {
	return r.toggle(ctx,
		`DELETE FROM user_book_lists WHERE user_uid = $1 AND list_name = $2 AND book_id = $3`,
		`INSERT INTO user_book_lists (user_uid, list_name, book_id, date_added)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT DO NOTHING`,
		uid, string(list), bookID,
	)
}

// ToggleFavorite はお気に入りに著者があれば削除し、なければ追加する。
func (r *PostgresLibraryRepo) ToggleFavorite(ctx context.Context, uid, authorID string) (model.ToggleStatus, error) {
	return r.toggle(ctx,
		`DELETE FROM user_favorite_authors WHERE user_uid = $1 AND author_id = $2`,
		`INSERT INTO user_favorite_authors (user_uid, author_id, date_added)
		 VALUES ($1, $2, now())
		 ON CONFLICT DO NOTHING`,
		uid, authorID,
	)
}

// toggle は削除を試み、削除対象がなければ追加する。
// 参照先が並行して削除された場合はErrMissingReferenceを返す。
func (r *PostgresLibraryRepo) toggle(ctx context.Context, deleteSQL, insertSQL string, args ...any) (model.ToggleStatus, error) {
	var status model.ToggleStatus

	err := retryTransient(ctx, func() error {
		result, err := r.db.ExecContext(ctx, deleteSQL, args...)
		if err != nil {
			return fmt.Errorf("failed to remove entry: %w", err)
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if removed > 0 {
			status = model.ToggleRemoved
			return nil
		}

		_, err = r.db.ExecContext(ctx, insertSQL, args...)
		if pqErrorCode(err) == pqForeignKeyViolation {
			return ErrMissingReference
		}
		if err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}
		status = model.ToggleAdded
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// ListFavorites はお気に入り著者を追加順で返す。
func (r *PostgresLibraryRepo) ListFavorites(ctx context.Context, uid string) ([]model.FavoriteEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT author_id, date_added FROM user_favorite_authors
		 WHERE user_uid = $1
		 ORDER BY date_added, author_id`,
		uid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorite authors: %w", err)
	}
	defer rows.Close()

	favorites := []model.FavoriteEntry{}
	for rows.Next() {
		var f model.FavoriteEntry
		if err := rows.Scan(&f.AuthorID, &f.DateAdded); err != nil {
			return nil, fmt.Errorf("failed to scan favorite author: %w", err)
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate favorite authors: %w", err)
	}
	return favorites, nil
}

// Library はユーザーのリスト・評価・お気に入りをまとめて返す。
// リストの各エントリは追加順に並ぶ。
func (r *PostgresLibraryRepo) Library(ctx context.Context, uid string) (*model.UserLibrary, error) {
	lib := model.NewUserLibrary()

	rows, err := r.db.QueryContext(ctx,
		`SELECT list_name, book_id, date_added FROM user_book_lists
		 WHERE user_uid = $1
		 ORDER BY date_added, book_id`,
		uid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var list string
		var e model.ListEntry
		if err := rows.Scan(&list, &e.BookID, &e.DateAdded); err != nil {
			return nil, fmt.Errorf("failed to scan list entry: %w", err)
		}
		name := model.ListName(list)
		lib.Lists[name] = append(lib.Lists[name], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list entries: %w", err)
	}

	ratingRows, err := r.db.QueryContext(ctx,
		`SELECT book_id, rating FROM user_ratings WHERE user_uid = $1 ORDER BY rated_at, book_id`,
		uid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ratings: %w", err)
	}
	defer ratingRows.Close()

	for ratingRows.Next() {
		var e model.RatingEntry
		if err := ratingRows.Scan(&e.BookID, &e.Rating); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		lib.Ratings = append(lib.Ratings, e)
	}
	if err := ratingRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}

	favorites, err := r.ListFavorites(ctx, uid)
	if err != nil {
		return nil, err
	}
	lib.Favorites = favorites

	return lib, nil
}

// UserBookData は指定書籍群に対するユーザーのリスト所属と評価を返す。
// 戻り値には指定した全書籍IDのキーが含まれる。
func (r *PostgresLibraryRepo) UserBookData(ctx context.Context, uid string, bookIDs []string) (map[string]model.UserBookData, error) {
	data := make(map[string]model.UserBookData, len(bookIDs))
	for _, id := range bookIDs {
		data[id] = model.UserBookData{Lists: []model.ListName{}}
	}
	if len(bookIDs) == 0 {
		return data, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT book_id, list_name FROM user_book_lists
		 WHERE user_uid = $1 AND book_id = ANY($2::uuid[])`,
		uid, pq.Array(bookIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query list membership: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookID, list string
		if err := rows.Scan(&bookID, &list); err != nil {
			return nil, fmt.Errorf("failed to scan list membership: %w", err)
		}
		d := data[bookID]
		d.Lists = append(d.Lists, model.ListName(list))
		data[bookID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate list membership: %w", err)
	}

	ratingRows, err := r.db.QueryContext(ctx,
		`SELECT book_id, rating FROM user_ratings
		 WHERE user_uid = $1 AND book_id = ANY($2::uuid[])`,
		uid, pq.Array(bookIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer ratingRows.Close()

	for ratingRows.Next() {
		var bookID string
		var rating int
		if err := ratingRows.Scan(&bookID, &rating); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		d := data[bookID]
		d.Rating = &rating
		data[bookID] = d
	}
	if err := ratingRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}

	for id, d := range data {
		sortLists(d.Lists)
		data[id] = d
	}
	return data, nil
}

// sortLists はリスト名をAllowedListsの順に並べる。
func sortLists(lists []model.ListName) {
	rank := func(l model.ListName) int {
		for i, a := range model.AllowedLists {
			if a == l {
				return i
			}
		}
		return len(model.AllowedLists)
	}
	sort.Slice(lists, func(i, j int) bool { return rank(lists[i]) < rank(lists[j]) })
}

// SetRating は評価を追加・上書き・削除し、書籍の集計値を同一トランザクションで更新する。
// 書籍行をFOR UPDATEでロックするため、同じ書籍への並行した評価は直列化され集計値は常に正確になる。
func (r *PostgresLibraryRepo) SetRating(ctx context.Context, uid, bookID string, rating *int) (model.RatingChange, error) {
	var change model.RatingChange

	err := runInTx(ctx, r.db, func(tx *sql.Tx) error {
		var sum int64
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT rating_sum, ratings_count FROM books WHERE id = $1 FOR UPDATE`,
			bookID,
		).Scan(&sum, &count)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock book: %w", err)
		}

		var prev sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT rating FROM user_ratings WHERE user_uid = $1 AND book_id = $2`,
			uid, bookID,
		).Scan(&prev)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read previous rating: %w", err)
		}

		action := model.RatingNoop
		switch {
		case rating == nil && prev.Valid:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM user_ratings WHERE user_uid = $1 AND book_id = $2`,
				uid, bookID,
			); err != nil {
				return fmt.Errorf("failed to delete rating: %w", err)
			}
			sum -= prev.Int64
			count--
			action = model.RatingDeleted
		case rating != nil && prev.Valid:
			if _, err := tx.ExecContext(ctx,
				`UPDATE user_ratings SET rating = $3, rated_at = now() WHERE user_uid = $1 AND book_id = $2`,
				uid, bookID, *rating,
			); err != nil {
				return fmt.Errorf("failed to update rating: %w", err)
			}
			sum += int64(*rating) - prev.Int64
			action = model.RatingUpdated
		case rating != nil:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO user_ratings (user_uid, book_id, rating, rated_at) VALUES ($1, $2, $3, now())`,
				uid, bookID, *rating,
			)
			if pqErrorCode(err) == pqForeignKeyViolation {
				return ErrMissingReference
			}
			if err != nil {
				return fmt.Errorf("failed to insert rating: %w", err)
			}
			sum += int64(*rating)
			count++
			action = model.RatingInserted
		}

		if action != model.RatingNoop {
			if _, err := tx.ExecContext(ctx,
				`UPDATE books SET rating_sum = $2, ratings_count = $3 WHERE id = $1`,
				bookID, sum, count,
			); err != nil {
				return fmt.Errorf("failed to update book aggregate: %w", err)
			}
		}

		book := model.Book{RatingSum: sum, RatingsCount: count}
		change = model.RatingChange{
			Action:        action,
			AverageRating: book.AverageRating(),
			RatingsCount:  count,
		}
		return nil
	})
	if err != nil {
		return model.RatingChange{}, err
	}
	return change, nil
}

// RecomputeAggregate は評価テーブルから書籍の集計値を再計算する。
// 書籍が存在しない場合はErrNotFoundを返す。
func (r *PostgresLibraryRepo) RecomputeAggregate(ctx context.Context, bookID string) error {
	return runInTx(ctx, r.db, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&locked)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock book: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE books b SET rating_sum = s.total, ratings_count = s.cnt, updated_at = now()
			 FROM (SELECT COALESCE(SUM(rating), 0) AS total, COUNT(*) AS cnt
			       FROM user_ratings WHERE book_id = $1) s
			 WHERE b.id = $1`,
			bookID,
		)
		if err != nil {
			return fmt.Errorf("failed to recompute book aggregate: %w", err)
		}
		return nil
	})
}

// ReconcileAggregates は評価テーブルと食い違っている全書籍の集計値を修復し、修復件数を返す。
// 食い違いの検出はロックなしで行い、修復は書籍ごとにRecomputeAggregateで行う。
func (r *PostgresLibraryRepo) ReconcileAggregates(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id FROM books b
		 LEFT JOIN (
		     SELECT book_id, SUM(rating) AS total, COUNT(*) AS cnt
		     FROM user_ratings GROUP BY book_id
		 ) s ON s.book_id = b.id
		 WHERE b.rating_sum <> COALESCE(s.total, 0) OR b.ratings_count <> COALESCE(s.cnt, 0)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to find drifted aggregates: %w", err)
	}

	var drifted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan book ID: %w", err)
		}
		drifted = append(drifted, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate drifted aggregates: %w", err)
	}

	var fixed int64
	for _, id := range drifted {
		err := r.RecomputeAggregate(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}

// compile-time interface check
var _ LibraryRepository = (*PostgresLibraryRepo)(nil)
