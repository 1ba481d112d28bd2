// Package author は著者カタログのドメインロジックを提供する。
package author

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

// FavoritesReader はユーザーのお気に入り著者を読み取るインターフェース。
type FavoritesReader interface {
	ListFavorites(ctx context.Context, uid string) ([]model.FavoriteEntry, error)
}

// Service は著者の一覧・取得・登録・編集・削除を提供する。
type Service struct {
	authorRepo repository.AuthorRepository
	favorites  FavoritesReader
	richText   security.Sanitizer
	plainText  security.Sanitizer
}

// NewService はServiceを生成する。
// richTextは紹介文に、plainTextは名前と国に適用される。
func NewService(
	authorRepo repository.AuthorRepository,
	favorites FavoritesReader,
	richText security.Sanitizer,
	plainText security.Sanitizer,
) *Service {
	return &Service{
		authorRepo: authorRepo,
		favorites:  favorites,
		richText:   richText,
		plainText:  plainText,
	}
}

// List は著者一覧を返す。actorがnilでない場合はお気に入り状態を付与する。
func (s *Service) List(ctx context.Context, actor *model.Actor, filter model.AuthorFilter) ([]*model.AuthorWithFavorite, error) {
	// 名前は無害化済みの形で保存されているため、検索語も同じ変換をかける
	filter.Search = s.plainText.Sanitize(filter.Search)
	authors, err := s.authorRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("著者一覧の取得に失敗しました: %w", err)
	}

	favorite := map[string]bool{}
	if actor != nil {
		entries, err := s.favorites.ListFavorites(ctx, actor.UID)
		if err != nil {
			return nil, fmt.Errorf("お気に入り著者の取得に失敗しました: %w", err)
		}
		for _, e := range entries {
			favorite[e.AuthorID] = true
		}
	}

	result := make([]*model.AuthorWithFavorite, 0, len(authors))
	for _, a := range authors {
		result = append(result, &model.AuthorWithFavorite{
			Author:     *a,
			IsFavorite: favorite[a.ID],
		})
	}
	return result, nil
}

// Get は著者を書籍IDシーケンス付きで返す。
func (s *Service) Get(ctx context.Context, rawID string) (*model.Author, error) {
	id, ok := model.ParseID(rawID)
	if !ok {
		return nil, model.NewAuthorNotFoundError(rawID)
	}

	author, err := s.authorRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return nil, model.NewAuthorNotFoundError(rawID)
	}
	return author, nil
}

// Create は著者を登録する。管理者のみ実行できる。
func (s *Service) Create(ctx context.Context, actor *model.Actor, input model.AuthorInput) (*model.Author, error) {
	if err := policy.Authorize(policy.OpAuthorCreate, actor, policy.Resource{}); err != nil {
		return nil, err
	}

	author, err := s.build(input)
	if err != nil {
		return nil, err
	}
	author.ID = model.NewID()

	if err := s.authorRepo.Create(ctx, author); err != nil {
		return nil, fmt.Errorf("著者の登録に失敗しました: %w", err)
	}

	slog.Info("author created",
		slog.String("author_id", author.ID),
		slog.String("actor_uid", actor.UID),
	)
	return author, nil
}

// Update は著者情報を更新する。管理者のみ実行できる。
func (s *Service) Update(ctx context.Context, actor *model.Actor, rawID string, input model.AuthorInput) (*model.Author, error) {
	if err := policy.Authorize(policy.OpAuthorUpdate, actor, policy.Resource{}); err != nil {
		return nil, err
	}

	id, ok := model.ParseID(rawID)
	if !ok {
		return nil, model.NewAuthorNotFoundError(rawID)
	}

	author, err := s.build(input)
	if err != nil {
		return nil, err
	}
	author.ID = id

	if err := s.authorRepo.Update(ctx, author); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewAuthorNotFoundError(rawID)
		}
		return nil, fmt.Errorf("著者の更新に失敗しました: %w", err)
	}

	// 書籍IDシーケンスは更新対象外のため読み直す
	updated, err := s.authorRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewAuthorNotFoundError(rawID)
	}
	return updated, nil
}

// Delete は著者を削除する。管理者のみ実行できる。
// 書籍が1冊でも残っている場合はAUTHOR_HAS_BOOKSを返し、何も変更しない。
func (s *Service) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	if err := policy.Authorize(policy.OpAuthorDelete, actor, policy.Resource{}); err != nil {
		return err
	}

	id, ok := model.ParseID(rawID)
	if !ok {
		return model.NewAuthorNotFoundError(rawID)
	}

	author, err := s.authorRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if author == nil {
		return model.NewAuthorNotFoundError(rawID)
	}
	if len(author.BookIDs) > 0 {
		return model.NewAuthorHasBooksError(len(author.BookIDs))
	}

	if err := s.authorRepo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrReferenced):
			// 確認後に書籍が追加された
			return model.NewAuthorHasBooksError(1)
		case errors.Is(err, repository.ErrNotFound):
			return model.NewAuthorNotFoundError(rawID)
		}
		return fmt.Errorf("著者の削除に失敗しました: %w", err)
	}

	slog.Info("author deleted",
		slog.String("author_id", id),
		slog.String("actor_uid", actor.UID),
	)
	return nil
}

// build は入力値を無害化して著者モデルを組み立てる。
func (s *Service) build(input model.AuthorInput) (*model.Author, error) {
	author := &model.Author{
		Name:        s.plainText.Sanitize(input.Name),
		Country:     s.plainText.Sanitize(input.Country),
		Description: s.richText.Sanitize(input.Description),
		Photo:       strings.TrimSpace(input.Photo),
	}
	if author.Name == "" {
		return nil, model.NewValidationError(map[string]string{"name": "名前を入力してください"})
	}
	return author, nil
}
