// Package library はユーザーごとの読書リスト・お気に入り著者・評価のドメインロジックを提供する。
//
// リストとお気に入りはトグル操作で、評価は追加・上書き・削除で変更する。
// 書籍の平均評価と評価数は評価の書き込みと同一トランザクションで更新される。
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/policy"
	"github.com/hitoshi/ulib/internal/repository"
)

// UserFinder はユーザーディレクトリの存在確認に使うインターフェース。
type UserFinder interface {
	FindByUID(ctx context.Context, uid string) (*model.User, error)
}

// BookFinder は書籍の存在確認に使うインターフェース。
type BookFinder interface {
	FindByID(ctx context.Context, id string) (*model.Book, error)
}

// AuthorFinder は著者の存在確認に使うインターフェース。
type AuthorFinder interface {
	FindByID(ctx context.Context, id string) (*model.Author, error)
}

// Recorder はライブラリ操作のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordToggle(kind, status string)
	RecordRating(action string)
	RecordReconcile(repaired int64, err error)
}

// Service はリスト・お気に入り・評価の操作を提供する。
type Service struct {
	repo    repository.LibraryRepository
	users   UserFinder
	books   BookFinder
	authors AuthorFinder
	metrics Recorder
}

// NewService はServiceを生成する。
func NewService(
	repo repository.LibraryRepository,
	users UserFinder,
	books BookFinder,
	authors AuthorFinder,
	metrics Recorder,
) *Service {
	return &Service{
		repo:    repo,
		users:   users,
		books:   books,
		authors: authors,
		metrics: metrics,
	}
}

// ToggleListMembership は書籍がリストにあれば削除し、なければ追加する。
// 同じ操作を2回行うと元の状態に戻る。
func (s *Service) ToggleListMembership(ctx context.Context, uid, listName, rawBookID string) (model.ToggleStatus, error) {
	if err := policy.AuthorizeSelf(policy.OpListToggle, uid); err != nil {
		return "", err
	}
	list, ok := model.ParseListName(listName)
	if !ok {
		return "", model.NewInvalidListError(listName)
	}
	if err := s.requireUser(ctx, uid); err != nil {
		return "", err
	}
	bookID, err := s.requireBook(ctx, rawBookID)
	if err != nil {
		return "", err
	}

	status, err := s.repo.ToggleList(ctx, uid, list, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			// 存在確認の後に書籍が削除された
			return "", model.NewBookNotFoundError(rawBookID)
		}
		return "", fmt.Errorf("リストの更新に失敗しました: %w", err)
	}

	s.metrics.RecordToggle("list", string(status))
	slog.Debug("list toggled",
		slog.String("uid", uid),
		slog.String("list", string(list)),
		slog.String("book_id", bookID),
		slog.String("status", string(status)),
	)
	return status, nil
}

// ToggleFavoriteAuthor は著者がお気に入りにあれば削除し、なければ追加する。
// 更新後のお気に入り一覧を合わせて返す。
func (s *Service) ToggleFavoriteAuthor(ctx context.Context, uid, rawAuthorID string) (model.ToggleStatus, []model.FavoriteEntry, error) {
	if err := policy.AuthorizeSelf(policy.OpFavoriteToggle, uid); err != nil {
		return "", nil, err
	}
	if err := s.requireUser(ctx, uid); err != nil {
		return "", nil, err
	}

	authorID, ok := model.ParseID(rawAuthorID)
	if !ok {
		return "", nil, model.NewAuthorNotFoundError(rawAuthorID)
	}
	author, err := s.authors.FindByID(ctx, authorID)
	if err != nil {
		return "", nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return "", nil, model.NewAuthorNotFoundError(rawAuthorID)
	}

	status, err := s.repo.ToggleFavorite(ctx, uid, authorID)
	if err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return "", nil, model.NewAuthorNotFoundError(rawAuthorID)
		}
		return "", nil, fmt.Errorf("お気に入りの更新に失敗しました: %w", err)
	}
	s.metrics.RecordToggle("favorite", string(status))

	favorites, err := s.repo.ListFavorites(ctx, uid)
	if err != nil {
		return "", nil, fmt.Errorf("お気に入り著者の取得に失敗しました: %w", err)
	}
	return status, favorites, nil
}

// SetRating は書籍への評価を設定する。ratingがnilの場合は評価を削除する。
// 評価値は1から10の整数でなければならない。
func (s *Service) SetRating(ctx context.Context, uid, rawBookID string, rating *int) (model.RatingChange, error) {
	if err := policy.AuthorizeSelf(policy.OpRate, uid); err != nil {
		return model.RatingChange{}, err
	}
	if rating != nil && (*rating < model.MinRating || *rating > model.MaxRating) {
		return model.RatingChange{}, model.NewInvalidRatingError(*rating)
	}
	if err := s.requireUser(ctx, uid); err != nil {
		return model.RatingChange{}, err
	}
	bookID, ok := model.ParseID(rawBookID)
	if !ok {
		return model.RatingChange{}, model.NewBookNotFoundError(rawBookID)
	}

	// 書籍の存在確認は評価の書き込みと同じトランザクション内の行ロックで行う
	change, err := s.repo.SetRating(ctx, uid, bookID, rating)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrMissingReference) {
			return model.RatingChange{}, model.NewBookNotFoundError(rawBookID)
		}
		return model.RatingChange{}, fmt.Errorf("評価の更新に失敗しました: %w", err)
	}

	s.metrics.RecordRating(string(change.Action))
	slog.Debug("rating changed",
		slog.String("uid", uid),
		slog.String("book_id", bookID),
		slog.String("action", string(change.Action)),
		slog.Int("ratings_count", change.RatingsCount),
	)
	return change, nil
}

// RecomputeAggregate は評価テーブルから書籍の平均評価と評価数を再計算する。
func (s *Service) RecomputeAggregate(ctx context.Context, rawBookID string) error {
	bookID, ok := model.ParseID(rawBookID)
	if !ok {
		return model.NewBookNotFoundError(rawBookID)
	}
	if err := s.repo.RecomputeAggregate(ctx, bookID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewBookNotFoundError(rawBookID)
		}
		return fmt.Errorf("集計値の再計算に失敗しました: %w", err)
	}
	return nil
}

// ReconcileAggregates は評価テーブルと食い違っている全書籍の集計値を修復し、修復件数を返す。
func (s *Service) ReconcileAggregates(ctx context.Context) (int64, error) {
	repaired, err := s.repo.ReconcileAggregates(ctx)
	s.metrics.RecordReconcile(repaired, err)
	if err != nil {
		return 0, fmt.Errorf("集計値の修復に失敗しました: %w", err)
	}
	return repaired, nil
}

// Library はユーザーのリスト・評価・お気に入りをまとめて返す。
func (s *Service) Library(ctx context.Context, uid string) (*model.UserLibrary, error) {
	lib, err := s.repo.Library(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ライブラリの取得に失敗しました: %w", err)
	}
	return lib, nil
}

func (s *Service) requireUser(ctx context.Context, uid string) error {
	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	return nil
}

func (s *Service) requireBook(ctx context.Context, rawID string) (string, error) {
	id, ok := model.ParseID(rawID)
	if !ok {
		return "", model.NewBookNotFoundError(rawID)
	}
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return "", model.NewBookNotFoundError(rawID)
	}
	return id, nil
}
