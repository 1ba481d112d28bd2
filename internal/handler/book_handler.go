package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/book"
	"github.com/hitoshi/ulib/internal/model"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	List(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error)
	Get(ctx context.Context, actor *model.Actor, rawID string) (*model.BookWithUserData, error)
	Create(ctx context.Context, actor *model.Actor, input model.BookInput) (*model.Book, error)
	Update(ctx context.Context, actor *model.Actor, rawID string, input model.BookInput) (*model.Book, error)
	// Delete は書籍と、その書籍を参照するリスト・評価・コメントを1トランザクションで削除する。
	Delete(ctx context.Context, actor *model.Actor, rawID string) error
}

// BookHandler は書籍のHTTPハンドラー。
type BookHandler struct {
	service BookServiceInterface
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface) *BookHandler {
	return &BookHandler{service: service}
}

type bookRequest struct {
	Title  string   `json:"title" validate:"required,notblank,max=300"`
	Author string   `json:"author" validate:"required,uuid"`
	Year   *int     `json:"year" validate:"omitempty,gte=0,lte=2100"`
	Cover  string   `json:"cover" validate:"omitempty,http_url,max=2048"`
	Genres []string `json:"genres" validate:"max=20,dive,required,notblank,max=50"`
}

func (req bookRequest) toInput() model.BookInput {
	return model.BookInput{
		Title:    req.Title,
		AuthorID: req.Author,
		Year:     req.Year,
		Cover:    req.Cover,
		Genres:   req.Genres,
	}
}

type bookAuthorResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userDataResponse struct {
	Lists  []string `json:"lists"`
	Rating *int     `json:"rating"`
}

// bookResponse は書籍のAPIレスポンス。userDataは認証済みのエンドポイントでのみ含める。
type bookResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Author        bookAuthorResponse `json:"author"`
	Year          *int               `json:"year"`
	Cover         string             `json:"cover"`
	Genres        []string           `json:"genres"`
	AverageRating *float64           `json:"averageRating"`
	RatingsCount  int                `json:"ratingsCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	UserData      *userDataResponse  `json:"userData,omitempty"`
}

type bookMessageResponse struct {
	Message string       `json:"message"`
	Book    bookResponse `json:"book"`
}

// ListPublic は書籍一覧を返す。
// GET /books/public?author=&search=&sort=&order=
func (h *BookHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, nil)
}

// ListAuthorized はリスト所属と評価付きの書籍一覧を返す。listで絞り込める。
// GET /books/authorized?author=&search=&sort=&order=&list=
func (h *BookHandler) ListAuthorized(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.list(w, r, actor)
}

func (h *BookHandler) list(w http.ResponseWriter, r *http.Request, actor *model.Actor) {
	query := r.URL.Query()
	q := book.ListQuery{
		Author: query.Get("author"),
		Search: query.Get("search"),
		Sort:   query.Get("sort"),
		Order:  query.Get("order"),
	}
	if actor != nil {
		q.List = query.Get("list")
	}

	books, err := h.service.List(r.Context(), actor, q)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookWithUserDataResponse(b, actor != nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPublic は書籍を返す。
// GET /books/public/{id}
func (h *BookHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), nil, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookWithUserDataResponse(b, false))
}

// GetAuthorized はリスト所属と評価付きの書籍を返す。
// GET /books/authorized/{id}
func (h *BookHandler) GetAuthorized(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	b, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookWithUserDataResponse(b, true))
}

// Create は書籍を登録する。
// POST /books/add
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	b, err := h.service.Create(r.Context(), actor, req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookMessageResponse{
		Message: "書籍を登録しました。",
		Book:    toBookResponse(b),
	})
}

// Update は書籍を更新する。
// PUT /books/edit/{id}
func (h *BookHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	b, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookMessageResponse{
		Message: "書籍を更新しました。",
		Book:    toBookResponse(b),
	})
}

// Delete は書籍を削除する。
// DELETE /books/delete/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "書籍を削除しました。"})
}

func toBookResponse(b *model.Book) bookResponse {
	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}
	return bookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        bookAuthorResponse{ID: b.AuthorID, Name: b.AuthorName},
		Year:          b.Year,
		Cover:         b.Cover,
		Genres:        genres,
		AverageRating: b.AverageRating(),
		RatingsCount:  b.RatingsCount,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func toBookWithUserDataResponse(b *model.BookWithUserData, withUserData bool) bookResponse {
	resp := toBookResponse(&b.Book)
	if !withUserData {
		return resp
	}

	lists := make([]string, 0, len(b.UserData.Lists))
	for _, l := range b.UserData.Lists {
		lists = append(lists, string(l))
	}
	resp.UserData = &userDataResponse{
		Lists:  lists,
		Rating: b.UserData.Rating,
	}
	return resp
}
