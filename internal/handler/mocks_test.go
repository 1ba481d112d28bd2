package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/auth"
	"github.com/hitoshi/ulib/internal/book"
	"github.com/hitoshi/ulib/internal/middleware"
	"github.com/hitoshi/ulib/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, identity *model.Identity, name, email string) (*model.User, error)
	meFn       func(ctx context.Context, uid string) (*auth.Profile, error)
}

func (m *mockAuthService) Register(ctx context.Context, identity *model.Identity, name, email string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, identity, name, email)
	}
	return &model.User{UID: identity.UID, Name: name, Email: email, Role: model.RoleUser}, nil
}

func (m *mockAuthService) Me(ctx context.Context, uid string) (*auth.Profile, error) {
	if m.meFn != nil {
		return m.meFn(ctx, uid)
	}
	return &auth.Profile{User: &model.User{UID: uid, Role: model.RoleUser}, Library: model.NewUserLibrary()}, nil
}

type mockUserService struct {
	updateNameFn  func(ctx context.Context, uid, name string) (*model.User, error)
	updateEmailFn func(ctx context.Context, uid, email string) (*model.User, error)
	deleteMeFn    func(ctx context.Context, uid string) error
}

func (m *mockUserService) UpdateName(ctx context.Context, uid, name string) (*model.User, error) {
	if m.updateNameFn != nil {
		return m.updateNameFn(ctx, uid, name)
	}
	return &model.User{UID: uid, Name: name}, nil
}

func (m *mockUserService) UpdateEmail(ctx context.Context, uid, email string) (*model.User, error) {
	if m.updateEmailFn != nil {
		return m.updateEmailFn(ctx, uid, email)
	}
	return &model.User{UID: uid, Email: email}, nil
}

func (m *mockUserService) DeleteMe(ctx context.Context, uid string) error {
	if m.deleteMeFn != nil {
		return m.deleteMeFn(ctx, uid)
	}
	return nil
}

type mockAuthorService struct {
	listFn   func(ctx context.Context, actor *model.Actor, filter model.AuthorFilter) ([]*model.AuthorWithFavorite, error)
	getFn    func(ctx context.Context, rawID string) (*model.Author, error)
	createFn func(ctx context.Context, actor *model.Actor, input model.AuthorInput) (*model.Author, error)
	updateFn func(ctx context.Context, actor *model.Actor, rawID string, input model.AuthorInput) (*model.Author, error)
	deleteFn func(ctx context.Context, actor *model.Actor, rawID string) error
}

func (m *mockAuthorService) List(ctx context.Context, actor *model.Actor, filter model.AuthorFilter) ([]*model.AuthorWithFavorite, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, filter)
	}
	return nil, nil
}

func (m *mockAuthorService) Get(ctx context.Context, rawID string) (*model.Author, error) {
	if m.getFn != nil {
		return m.getFn(ctx, rawID)
	}
	return nil, model.NewAuthorNotFoundError(rawID)
}

func (m *mockAuthorService) Create(ctx context.Context, actor *model.Actor, input model.AuthorInput) (*model.Author, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, input)
	}
	return &model.Author{ID: "author-1", Name: input.Name}, nil
}

func (m *mockAuthorService) Update(ctx context.Context, actor *model.Actor, rawID string, input model.AuthorInput) (*model.Author, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, rawID, input)
	}
	return &model.Author{ID: rawID, Name: input.Name}, nil
}

func (m *mockAuthorService) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, rawID)
	}
	return nil
}

type mockBookService struct {
	listFn   func(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error)
	getFn    func(ctx context.Context, actor *model.Actor, rawID string) (*model.BookWithUserData, error)
	createFn func(ctx context.Context, actor *model.Actor, input model.BookInput) (*model.Book, error)
	updateFn func(ctx context.Context, actor *model.Actor, rawID string, input model.BookInput) (*model.Book, error)
	deleteFn func(ctx context.Context, actor *model.Actor, rawID string) error
}

func (m *mockBookService) List(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, q)
	}
	return nil, nil
}

func (m *mockBookService) Get(ctx context.Context, actor *model.Actor, rawID string) (*model.BookWithUserData, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, rawID)
	}
	return nil, model.NewBookNotFoundError(rawID)
}

func (m *mockBookService) Create(ctx context.Context, actor *model.Actor, input model.BookInput) (*model.Book, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, input)
	}
	return &model.Book{ID: "book-1", Title: input.Title, AuthorID: input.AuthorID}, nil
}

func (m *mockBookService) Update(ctx context.Context, actor *model.Actor, rawID string, input model.BookInput) (*model.Book, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actor, rawID, input)
	}
	return &model.Book{ID: rawID, Title: input.Title, AuthorID: input.AuthorID}, nil
}

func (m *mockBookService) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, rawID)
	}
	return nil
}

type mockCommentService struct {
	addFn    func(ctx context.Context, uid, rawBookID, text string) (*model.Comment, error)
	deleteFn func(ctx context.Context, actor *model.Actor, rawID string) error
	listFn   func(ctx context.Context, rawBookID, order string) ([]*model.Comment, error)
}

func (m *mockCommentService) Add(ctx context.Context, uid, rawBookID, text string) (*model.Comment, error) {
	if m.addFn != nil {
		return m.addFn(ctx, uid, rawBookID, text)
	}
	return &model.Comment{ID: "comment-1", UserUID: uid, BookID: rawBookID, Text: text}, nil
}

func (m *mockCommentService) Delete(ctx context.Context, actor *model.Actor, rawID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, rawID)
	}
	return nil
}

func (m *mockCommentService) List(ctx context.Context, rawBookID, order string) ([]*model.Comment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, rawBookID, order)
	}
	return nil, nil
}

type mockLibraryService struct {
	toggleListFn     func(ctx context.Context, uid, listName, rawBookID string) (model.ToggleStatus, error)
	toggleFavoriteFn func(ctx context.Context, uid, rawAuthorID string) (model.ToggleStatus, []model.FavoriteEntry, error)
	setRatingFn      func(ctx context.Context, uid, rawBookID string, rating *int) (model.RatingChange, error)
}

func (m *mockLibraryService) ToggleListMembership(ctx context.Context, uid, listName, rawBookID string) (model.ToggleStatus, error) {
	if m.toggleListFn != nil {
		return m.toggleListFn(ctx, uid, listName, rawBookID)
	}
	return model.ToggleAdded, nil
}

func (m *mockLibraryService) ToggleFavoriteAuthor(ctx context.Context, uid, rawAuthorID string) (model.ToggleStatus, []model.FavoriteEntry, error) {
	if m.toggleFavoriteFn != nil {
		return m.toggleFavoriteFn(ctx, uid, rawAuthorID)
	}
	return model.ToggleAdded, nil, nil
}

func (m *mockLibraryService) SetRating(ctx context.Context, uid, rawBookID string, rating *int) (model.RatingChange, error) {
	if m.setRatingFn != nil {
		return m.setRatingFn(ctx, uid, rawBookID, rating)
	}
	return model.RatingChange{Action: model.RatingInserted}, nil
}

// --- テストヘルパー ---

// withActor はテスト用にリクエストコンテキストにActorを注入するヘルパー。
func withActor(r *http.Request, uid string, role model.Role) *http.Request {
	return r.WithContext(middleware.ContextWithActor(r.Context(), &model.Actor{UID: uid, Role: role}))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonRequest はJSONボディ付きのリクエストを生成するヘルパー。
func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディを汎用マップにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

// decodeList はレスポンスボディをJSON配列としてデコードするヘルパー。
func decodeList(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var result []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}
