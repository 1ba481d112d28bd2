// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/ulib/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	actorContextKey    = contextKey("actor")
	identityContextKey = contextKey("identity")
)

// TokenVerifier はベアラートークンの検証に必要なインターフェース。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*model.Identity, error)
}

// UserFinder はユーザーディレクトリの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByUID(ctx context.Context, uid string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// ユーザーディレクトリに登録済みのユーザーをActorとしてコンテキストに注入するミドルウェアを返す。
// トークンがない・無効・期限切れの場合は401、未登録の場合は404 NOT_REGISTEREDを返す。
func NewAuthMiddleware(verifier TokenVerifier, finder UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := verifyBearer(w, r, verifier)
			if !ok {
				return
			}

			user, err := finder.FindByUID(r.Context(), identity.UID)
			if err != nil {
				slog.Error("failed to find user",
					slog.String("uid", identity.UID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusNotFound, model.NewNotRegisteredError())
				return
			}

			setRequestUID(r.Context(), user.UID)
			ctx := ContextWithActor(r.Context(), &model.Actor{UID: user.UID, Role: user.Role})
			ctx = ContextWithIdentity(ctx, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewTokenDecodeMiddleware はトークンの検証のみを行い、ディレクトリを参照しないミドルウェアを返す。
// ユーザー登録のように、ディレクトリのエントリがまだ存在しないエンドポイントで使う。
func NewTokenDecodeMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := verifyBearer(w, r, verifier)
			if !ok {
				return
			}

			setRequestUID(r.Context(), identity.UID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// verifyBearer はベアラートークンを検証する。失敗時は401を書き込みfalseを返す。
func verifyBearer(w http.ResponseWriter, r *http.Request, verifier TokenVerifier) (*model.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}

	identity, err := verifier.VerifyToken(r.Context(), token)
	if err != nil {
		slog.Debug("token verification failed", slog.String("error", err.Error()))
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return identity, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ActorFromContext はリクエストコンテキストから認証済みのActorを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func ActorFromContext(ctx context.Context) (*model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(*model.Actor)
	return actor, ok && actor != nil && actor.UID != ""
}

// ContextWithActor はコンテキストにActorを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithActor(ctx context.Context, actor *model.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// IdentityFromContext はリクエストコンテキストから検証済みのアイデンティティを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil && identity.UID != ""
}

// ContextWithIdentity はコンテキストにアイデンティティを注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
