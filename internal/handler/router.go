package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/middleware"
	"github.com/hitoshi/ulib/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier      middleware.TokenVerifier
	UserFinder         middleware.UserFinder
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	HTTPRecorder       middleware.HTTPRecorder

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// サービス
	AuthService    AuthServiceInterface
	UserService    UserServiceInterface
	AuthorService  AuthorServiceInterface
	BookService    BookServiceInterface
	CommentService CommentServiceInterface
	LibraryService LibraryServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Auth → RateLimit(General)
//
// 公開ルートはAuthとRateLimitの外に配置する。/auth/registerはトークン検証のみを行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRouteNotFoundError())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIErrorResponse(w, http.StatusMethodNotAllowed, model.NewMethodNotAllowedError())
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.UserService)
	authorHandler := NewAuthorHandler(deps.AuthorService)
	bookHandler := NewBookHandler(deps.BookService)
	commentHandler := NewCommentHandler(deps.CommentService)
	userHandler := NewUserHandler(deps.LibraryService)

	authenticate := middleware.NewAuthMiddleware(deps.TokenVerifier, deps.UserFinder)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/authors/public", authorHandler.ListPublic)
	r.Get("/books/public", bookHandler.ListPublic)
	r.Get("/books/public/{id}", bookHandler.GetPublic)
	r.Get("/comments/book/{bookId}", commentHandler.List)

	// ユーザー登録（ディレクトリ未登録のためトークン検証のみ）
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenDecodeMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Post("/auth/register", authHandler.Register)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)
		r.Delete("/auth/deleteMe", authHandler.DeleteMe)
		r.Put("/auth/updateName", authHandler.UpdateName)
		r.Put("/auth/updateEmail", authHandler.UpdateEmail)

		r.Get("/authors/authorized", authorHandler.ListAuthorized)
		r.Post("/authors/add", authorHandler.Create)
		r.Put("/authors/edit/{id}", authorHandler.Update)
		r.Delete("/authors/delete/{id}", authorHandler.Delete)

		r.Get("/books/authorized", bookHandler.ListAuthorized)
		r.Get("/books/authorized/{id}", bookHandler.GetAuthorized)
		r.Post("/books/add", bookHandler.Create)
		r.Put("/books/edit/{id}", bookHandler.Update)
		r.Delete("/books/delete/{id}", bookHandler.Delete)

		// POST /comments/add - 投稿専用レート制限を追加
		r.With(deps.RateLimiter.CommentMiddleware()).Post("/comments/add", commentHandler.Add)
		r.Delete("/comments/delete/{id}", commentHandler.Delete)

		r.Post("/users/books/{list}", userHandler.ToggleList)
		r.Post("/users/favoriteAuthors", userHandler.ToggleFavoriteAuthor)
		r.Post("/users/rating", userHandler.SetRating)
	})

	// 静的パス（/authors/public, /authors/authorized）が優先される
	r.Get("/authors/{id}", authorHandler.Get)

	return r
}
