// Package auth はIdPトークンの検証とユーザー登録を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/repository"
)

// TokenVerifier はIdPが発行したベアラートークンを検証するインターフェース。
type TokenVerifier interface {
	// VerifyToken はトークンを検証し、外部アイデンティティ（uid + claims）を返す。
	VerifyToken(ctx context.Context, rawToken string) (*model.Identity, error)
}

// AccountDeleter はIdP上のアカウントを削除するインターフェース。
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, uid string) error
}

// IdentityProvider は外部IdPのアダプタ。
type IdentityProvider interface {
	TokenVerifier
	AccountDeleter
}

// LibraryReader はユーザーのリスト・評価・お気に入りの読み取りインターフェース。
type LibraryReader interface {
	Library(ctx context.Context, uid string) (*model.UserLibrary, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	AdminUIDs []string // 登録時に管理者ロールを付与するUID
}

// Profile は/auth/meで返すユーザー情報。
type Profile struct {
	User    *model.User
	Library *model.UserLibrary
}

// Service はユーザー登録と現在のユーザー情報取得のビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	library   LibraryReader
	adminUIDs map[string]bool
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, library LibraryReader, config ServiceConfig) *Service {
	admins := make(map[string]bool, len(config.AdminUIDs))
	for _, uid := range config.AdminUIDs {
		if uid = strings.TrimSpace(uid); uid != "" {
			admins[uid] = true
		}
	}
	return &Service{
		userRepo:  userRepo,
		library:   library,
		adminUIDs: admins,
	}
}

// Register は検証済みアイデンティティに対応するユーザーディレクトリのエントリを作成する。
// 名前はHTMLエスケープして保存する。登録済みの場合はALREADY_REGISTEREDエラーを返す。
func (s *Service) Register(ctx context.Context, identity *model.Identity, name, email string) (*model.User, error) {
	existing, err := s.userRepo.FindByUID(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyRegisteredError()
	}

	role := model.RoleUser
	if s.adminUIDs[identity.UID] {
		role = model.RoleAdmin
	}

	user := &model.User{
		UID:   identity.UID,
		Name:  html.EscapeString(strings.TrimSpace(name)),
		Email: strings.TrimSpace(email),
		Role:  role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, model.NewAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("uid", user.UID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// Me は現在のユーザーとそのリスト・評価・お気に入りを返す。
func (s *Service) Me(ctx context.Context, uid string) (*Profile, error) {
	user, err := s.userRepo.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewNotRegisteredError()
	}

	lib, err := s.library.Library(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load user library: %w", err)
	}

	return &Profile{User: user, Library: lib}, nil
}
