// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/policy"
	"github.com/hitoshi/ulib/internal/repository"
)

// AccountDeleter はIdP上のアカウントを削除するインターフェース。
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, uid string) error
}

// Service はユーザー管理のサービス層。
// プロフィール更新と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	idp      AccountDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, idp AccountDeleter) *Service {
	return &Service{
		userRepo: userRepo,
		idp:      idp,
	}
}

// UpdateName はユーザー名を更新する。名前はHTMLエスケープして保存する。
func (s *Service) UpdateName(ctx context.Context, uid, name string) (*model.User, error) {
	if err := policy.AuthorizeSelf(policy.OpProfileUpdate, uid); err != nil {
		return nil, err
	}
	user, err := s.userRepo.UpdateName(ctx, uid, html.EscapeString(strings.TrimSpace(name)))
	if err != nil {
		return nil, fmt.Errorf("ユーザー名の更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateEmail はメールアドレスを更新する。
func (s *Service) UpdateEmail(ctx context.Context, uid, email string) (*model.User, error) {
	if err := policy.AuthorizeSelf(policy.OpProfileUpdate, uid); err != nil {
		return nil, err
	}
	user, err := s.userRepo.UpdateEmail(ctx, uid, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("メールアドレスの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// DeleteMe はユーザーの退会処理を実行する。
// 削除順序: ユーザーディレクトリ（評価を集計値から差し引き、リスト・お気に入りをCASCADE削除）→ IdPアカウント。
// コメントは投稿者をNULLにして残す。
func (s *Service) DeleteMe(ctx context.Context, uid string) error {
	if err := policy.AuthorizeSelf(policy.OpProfileDelete, uid); err != nil {
		return err
	}
	slog.Info("退会処理を開始します", slog.String("uid", uid))

	if err := s.userRepo.Delete(ctx, uid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if err := s.idp.DeleteAccount(ctx, uid); err != nil {
		// ディレクトリからは削除済みのため、IdPアカウントの手動削除が必要
		slog.Error("IdPアカウントの削除に失敗しました",
			slog.String("uid", uid),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("IdPアカウントの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.String("uid", uid))
	return nil
}
