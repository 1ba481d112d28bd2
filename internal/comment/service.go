// Package comment は書籍へのコメントのドメインロジックを提供する。
package comment

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/policy"
	"github.com/hitoshi/ulib/internal/repository"
)

// UserFinder は投稿者の確認に使うインターフェース。
type UserFinder interface {
	FindByUID(ctx context.Context, uid string) (*model.User, error)
}

// BookFinder は書籍の存在確認に使うインターフェース。
type BookFinder interface {
	FindByID(ctx context.Context, id string) (*model.Book, error)
}

// Service はコメントの投稿・削除・一覧を提供する。
type Service struct {
	commentRepo repository.CommentRepository
	users       UserFinder
	books       BookFinder
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(commentRepo repository.CommentRepository, users UserFinder, books BookFinder) *Service {
	return &Service{
		commentRepo: commentRepo,
		users:       users,
		books:       books,
		now:         time.Now,
	}
}

// Add は書籍にコメントを投稿する。
// 本文は前後の空白を除いて1〜1000文字で、HTMLエスケープして保存する。
func (s *Service) Add(ctx context.Context, uid, rawBookID, text string) (*model.Comment, error) {
	if err := policy.AuthorizeSelf(policy.OpCommentCreate, uid); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < 1 || n > model.MaxCommentLength {
		return nil, model.NewValidationError(map[string]string{
			"text": fmt.Sprintf("1〜%d文字で入力してください", model.MaxCommentLength),
		})
	}

	user, err := s.users.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	bookID, err := s.requireBook(ctx, rawBookID)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		ID:        model.NewID(),
		UserUID:   uid,
		UserName:  user.Name,
		BookID:    bookID,
		Text:      html.EscapeString(text),
		CreatedAt: s.now().UTC(),
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return nil, model.NewBookNotFoundError(rawBookID)
		}
		return nil, fmt.Errorf("コメントの投稿に失敗しました: %w", err)
	}

	slog.Info("comment added",
		slog.String("comment_id", comment.ID),
		slog.String("book_id", bookID),
		slog.String("uid", uid),
	)
	return comment, nil
}

// Delete はコメントを削除する。投稿者本人または管理者のみ実行できる。
// 投稿者が退会済みのコメントは管理者のみ削除できる。
func (s *Service) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	id, ok := model.ParseID(rawID)
	if !ok {
		return model.NewCommentNotFoundError(rawID)
	}

	comment, err := s.commentRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return model.NewCommentNotFoundError(rawID)
	}

	if err := policy.Authorize(policy.OpCommentDelete, actor, policy.Resource{OwnerUID: comment.UserUID}); err != nil {
		return err
	}

	if err := s.commentRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewCommentNotFoundError(rawID)
		}
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}

	slog.Info("comment deleted",
		slog.String("comment_id", id),
		slog.String("actor_uid", actor.UID),
	)
	return nil
}

// List は書籍のコメントを返す。orderは"newest"（デフォルト）または"oldest"。
func (s *Service) List(ctx context.Context, rawBookID, order string) ([]*model.Comment, error) {
	o := model.CommentsNewest
	switch model.CommentOrder(order) {
	case "", model.CommentsNewest:
	case model.CommentsOldest:
		o = model.CommentsOldest
	default:
		return nil, model.NewValidationError(map[string]string{"sort": "newest または oldest を指定してください"})
	}

	bookID, err := s.requireBook(ctx, rawBookID)
	if err != nil {
		return nil, err
	}

	comments, err := s.commentRepo.ListByBook(ctx, bookID, o)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
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
