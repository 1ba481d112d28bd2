// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/ulib/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のレコードが存在しない場合に返される。
	// 取得系メソッドは見つからない場合にnilを返し、このエラーは使わない。
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists は主キーが重複した場合に返される。
	ErrAlreadyExists = errors.New("record already exists")

	// ErrReferenced は他のレコードから参照されているため削除できない場合に返される。
	ErrReferenced = errors.New("record is still referenced")

	// ErrMissingReference は参照先のレコードが存在しない場合に返される。
	ErrMissingReference = errors.New("referenced record does not exist")
)

// UserRepository はユーザーディレクトリの永続化インターフェース。
type UserRepository interface {
	// FindByUID は指定UIDのユーザーを取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid string) (*model.User, error)

	// Create はユーザーを作成する。UIDが登録済みの場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateName はユーザー名を更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
	UpdateName(ctx context.Context, uid, name string) (*model.User, error)

	// UpdateEmail はメールアドレスを更新し、更新後のユーザーを返す。見つからない場合はnilを返す。
	UpdateEmail(ctx context.Context, uid, email string) (*model.User, error)

	// Delete はユーザーを削除する。
	// ユーザーの評価は同一トランザクションで書籍の集計値から差し引かれる。
	// リスト・評価・お気に入りはCASCADE削除され、コメントの投稿者はNULLになる。
	Delete(ctx context.Context, uid string) error
}

// AuthorRepository は著者の永続化インターフェース。
type AuthorRepository interface {
	// FindByID は指定IDの著者を書籍IDシーケンス付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Author, error)

	// List は著者一覧を名前順で返す。
	List(ctx context.Context, filter model.AuthorFilter) ([]*model.Author, error)

	// Create は著者を作成する。
	Create(ctx context.Context, author *model.Author) error

	// Update は著者情報を更新する。
	Update(ctx context.Context, author *model.Author) error

	// Delete は著者を削除する。書籍が残っている場合はErrReferencedを返す。
	Delete(ctx context.Context, id string) error
}

// BookRepository は書籍の永続化インターフェース。
type BookRepository interface {
	// FindByID は指定IDの書籍を著者名付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// List は条件に一致する書籍一覧を返す。
	List(ctx context.Context, filter model.BookFilter) ([]*model.Book, error)

	// Create は書籍を作成する。著者が存在しない場合はErrMissingReferenceを返す。
	Create(ctx context.Context, book *model.Book) error

	// Update は書籍情報を更新する。集計値は変更しない。
	Update(ctx context.Context, book *model.Book) error

	// DeleteCascade は書籍と、書籍を参照するリスト・評価・コメントを1トランザクションで削除する。
	DeleteCascade(ctx context.Context, id string) (*model.BookDeletion, error)
}

// LibraryRepository はユーザーごとのリスト・評価・お気に入りの永続化インターフェース。
type LibraryRepository interface {
	// ToggleList はリストに書籍があれば削除し、なければ追加する。
	ToggleList(ctx context.Context, uid string, list model.ListName, bookID string) (model.ToggleStatus, error)

	// ToggleFavorite はお気に入りに著者があれば削除し、なければ追加する。
	ToggleFavorite(ctx context.Context, uid, authorID string) (model.ToggleStatus, error)

	// ListFavorites はお気に入り著者を追加順で返す。
	ListFavorites(ctx context.Context, uid string) ([]model.FavoriteEntry, error)

	// Library はユーザーのリスト・評価・お気に入りをまとめて返す。
	Library(ctx context.Context, uid string) (*model.UserLibrary, error)

	// UserBookData は指定書籍群に対するユーザーのリスト所属と評価を返す。
	UserBookData(ctx context.Context, uid string, bookIDs []string) (map[string]model.UserBookData, error)

	// SetRating は評価を追加・上書き・削除し、書籍の集計値を同一トランザクションで更新する。
	// ratingがnilの場合は削除する。書籍が存在しない場合はErrNotFoundを返す。
	SetRating(ctx context.Context, uid, bookID string, rating *int) (model.RatingChange, error)

	// RecomputeAggregate は評価テーブルから書籍の集計値を再計算する。
	RecomputeAggregate(ctx context.Context, bookID string) error

	// ReconcileAggregates は評価テーブルと食い違っている全書籍の集計値を修復し、修復件数を返す。
	ReconcileAggregates(ctx context.Context) (int64, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// ListByBook は書籍のコメントを作成日時順で返す。
	ListByBook(ctx context.Context, bookID string, order model.CommentOrder) ([]*model.Comment, error)

	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// Delete は指定IDのコメントを削除する。
	Delete(ctx context.Context, id string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
