// Package book は書籍カタログのドメインロジックを提供する。
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/policy"
	"github.com/hitoshi/ulib/internal/repository"
	"github.com/hitoshi/ulib/internal/security"
)

// AuthorFinder は著者の存在確認に使うインターフェース。
type AuthorFinder interface {
	FindByID(ctx context.Context, id string) (*model.Author, error)
}

// UserDataReader はユーザーのリスト所属と評価を書籍単位で読み取るインターフェース。
type UserDataReader interface {
	UserBookData(ctx context.Context, uid string, bookIDs []string) (map[string]model.UserBookData, error)
}

// DeletionRecorder は書籍削除のメトリクスを記録するインターフェース。
type DeletionRecorder interface {
	RecordBookDeleted(listEntries, ratings, comments int64)
}

// ListQuery はクエリパラメータから受け取った書籍一覧の条件。
type ListQuery struct {
	Author string
	Search string
	Sort   string
	Order  string
	List   string
}

// Service は書籍の一覧・取得・登録・編集・削除を提供する。
type Service struct {
	bookRepo  repository.BookRepository
	authors   AuthorFinder
	userData  UserDataReader
	plainText security.Sanitizer
	metrics   DeletionRecorder
}

// NewService はServiceを生成する。
func NewService(
	bookRepo repository.BookRepository,
	authors AuthorFinder,
	userData UserDataReader,
	plainText security.Sanitizer,
	metrics DeletionRecorder,
) *Service {
	return &Service{
		bookRepo:  bookRepo,
		authors:   authors,
		userData:  userData,
		plainText: plainText,
		metrics:   metrics,
	}
}

// List は条件に一致する書籍一覧を返す。
// actorがnilでない場合は各書籍にユーザーのリスト所属と評価を付与し、listによる絞り込みを受け付ける。
func (s *Service) List(ctx context.Context, actor *model.Actor, q ListQuery) ([]*model.BookWithUserData, error) {
	filter, err := buildFilter(actor, q)
	if err != nil {
		return nil, err
	}
	// 書名は無害化済みの形で保存されているため、検索語も同じ変換をかける
	filter.Search = s.plainText.Sanitize(filter.Search)

	books, err := s.bookRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("書籍一覧の取得に失敗しました: %w", err)
	}
	return s.attachUserData(ctx, actor, books)
}

// Get は書籍を返す。actorがnilでない場合はユーザーのリスト所属と評価を付与する。
func (s *Service) Get(ctx context.Context, actor *model.Actor, rawID string) (*model.BookWithUserData, error) {
	id, ok := model.ParseID(rawID)
	if !ok {
		return nil, model.NewBookNotFoundError(rawID)
	}

	book, err := s.bookRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(rawID)
	}

	result, err := s.attachUserData(ctx, actor, []*model.Book{book})
	if err != nil {
		return nil, err
	}
	return result[0], nil
}

// Create は書籍を登録する。管理者のみ実行できる。
func (s *Service) Create(ctx context.Context, actor *model.Actor, input model.BookInput) (*model.Book, error) {
	if err := policy.Authorize(policy.OpBookCreate, actor, policy.Resource{}); err != nil {
		return nil, err
	}

	book, err := s.build(ctx, input)
	if err != nil {
		return nil, err
	}
	book.ID = model.NewID()

	if err := s.bookRepo.Create(ctx, book); err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return nil, model.NewAuthorNotFoundError(input.AuthorID)
		}
		return nil, fmt.Errorf("書籍の登録に失敗しました: %w", err)
	}

	slog.Info("book created",
		slog.String("book_id", book.ID),
		slog.String("author_id", book.AuthorID),
		slog.String("actor_uid", actor.UID),
	)
	return s.reload(ctx, book)
}

// Update は書籍情報を更新する。管理者のみ実行できる。評価の集計値は変更しない。
func (s *Service) Update(ctx context.Context, actor *model.Actor, rawID string, input model.BookInput) (*model.Book, error) {
	if err := policy.Authorize(policy.OpBookUpdate, actor, policy.Resource{}); err != nil {
		return nil, err
	}

	id, ok := model.ParseID(rawID)
	if !ok {
		return nil, model.NewBookNotFoundError(rawID)
	}

	book, err := s.build(ctx, input)
	if err != nil {
		return nil, err
	}
	book.ID = id

	if err := s.bookRepo.Update(ctx, book); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewBookNotFoundError(rawID)
		case errors.Is(err, repository.ErrMissingReference):
			return nil, model.NewAuthorNotFoundError(input.AuthorID)
		}
		return nil, fmt.Errorf("書籍の更新に失敗しました: %w", err)
	}
	return s.reload(ctx, book)
}

// Delete は書籍を削除する。管理者のみ実行できる。
// 著者の書籍シーケンス・全ユーザーのリストと評価・コメントからの除去は1トランザクションで行う。
func (s *Service) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	if err := policy.Authorize(policy.OpBookDelete, actor, policy.Resource{}); err != nil {
		return err
	}

	id, ok := model.ParseID(rawID)
	if !ok {
		return model.NewBookNotFoundError(rawID)
	}

	deletion, err := s.bookRepo.DeleteCascade(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewBookNotFoundError(rawID)
		}
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}

	s.metrics.RecordBookDeleted(deletion.ListEntries, deletion.Ratings, deletion.Comments)
	slog.Info("book deleted",
		slog.String("book_id", id),
		slog.String("actor_uid", actor.UID),
		slog.Int64("list_entries", deletion.ListEntries),
		slog.Int64("ratings", deletion.Ratings),
		slog.Int64("comments", deletion.Comments),
	)
	return nil
}

// build は入力値を検証・無害化して書籍モデルを組み立てる。著者が存在しない場合はAUTHOR_NOT_FOUNDを返す。
func (s *Service) build(ctx context.Context, input model.BookInput) (*model.Book, error) {
	book := &model.Book{
		Title:  s.plainText.Sanitize(input.Title),
		Year:   input.Year,
		Cover:  strings.TrimSpace(input.Cover),
		Genres: uniqueGenres(security.SanitizeAll(s.plainText, input.Genres)),
	}
	if book.Title == "" {
		return nil, model.NewValidationError(map[string]string{"title": "タイトルを入力してください"})
	}

	authorID, ok := model.ParseID(input.AuthorID)
	if !ok {
		return nil, model.NewAuthorNotFoundError(input.AuthorID)
	}
	author, err := s.authors.FindByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return nil, model.NewAuthorNotFoundError(input.AuthorID)
	}
	book.AuthorID = authorID
	book.AuthorName = author.Name
	return book, nil
}

// reload は保存後の書籍を読み直す。並行して削除された場合は保存時の値を返す。
func (s *Service) reload(ctx context.Context, book *model.Book) (*model.Book, error) {
	stored, err := s.bookRepo.FindByID(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if stored == nil {
		return book, nil
	}
	return stored, nil
}

func (s *Service) attachUserData(ctx context.Context, actor *model.Actor, books []*model.Book) ([]*model.BookWithUserData, error) {
	data := map[string]model.UserBookData{}
	if actor != nil && len(books) > 0 {
		ids := make([]string, len(books))
		for i, b := range books {
			ids[i] = b.ID
		}
		var err error
		data, err = s.userData.UserBookData(ctx, actor.UID, ids)
		if err != nil {
			return nil, fmt.Errorf("ユーザーデータの取得に失敗しました: %w", err)
		}
	}

	result := make([]*model.BookWithUserData, 0, len(books))
	for _, b := range books {
		ud := data[b.ID]
		if ud.Lists == nil {
			ud.Lists = []model.ListName{}
		}
		result = append(result, &model.BookWithUserData{Book: *b, UserData: ud})
	}
	return result, nil
}

// buildFilter はクエリパラメータを検証して検索条件に変換する。
func buildFilter(actor *model.Actor, q ListQuery) (model.BookFilter, error) {
	filter := model.BookFilter{
		Search: strings.TrimSpace(q.Search),
		Sort:   model.BookSortCreatedAt,
		Order:  model.SortDesc,
	}
	fields := map[string]string{}

	if q.Author != "" {
		id, ok := model.ParseID(q.Author)
		if !ok {
			fields["author"] = "著者IDの形式が正しくありません"
		}
		filter.AuthorID = id
	}

	switch model.BookSort(q.Sort) {
	case "":
	case model.BookSortTitle, model.BookSortYear, model.BookSortRating, model.BookSortCreatedAt:
		filter.Sort = model.BookSort(q.Sort)
	default:
		fields["sort"] = "title, year, rating, createdAt のいずれかを指定してください"
	}

	switch model.SortOrder(q.Order) {
	case "":
	case model.SortAsc, model.SortDesc:
		filter.Order = model.SortOrder(q.Order)
	default:
		fields["order"] = "asc または desc を指定してください"
	}

	if len(fields) > 0 {
		return model.BookFilter{}, model.NewValidationError(fields)
	}

	if q.List != "" && actor != nil {
		list, ok := model.ParseListName(q.List)
		if !ok {
			return model.BookFilter{}, model.NewInvalidListError(q.List)
		}
		filter.ListName = list
		filter.UserUID = actor.UID
	}
	return filter, nil
}

// uniqueGenres は重複したジャンルを最初の出現順を保って取り除く。
func uniqueGenres(genres []string) []string {
	seen := make(map[string]struct{}, len(genres))
	out := genres[:0]
	for _, g := range genres {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
