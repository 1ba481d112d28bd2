package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/model"
)

// AuthorServiceInterface は著者ハンドラーが必要とするサービスインターフェース。
type AuthorServiceInterface interface {
	List(ctx context.Context, actor *model.Actor, filter model.AuthorFilter) ([]*model.AuthorWithFavorite, error)
	Get(ctx context.Context, rawID string) (*model.Author, error)
	Create(ctx context.Context, actor *model.Actor, input model.AuthorInput) (*model.Author, error)
	Update(ctx context.Context, actor *model.Actor, rawID string, input model.AuthorInput) (*model.Author, error)
	Delete(ctx context.Context, actor *model.Actor, rawID string) error
}

// AuthorHandler は著者のHTTPハンドラー。
type AuthorHandler struct {
	service AuthorServiceInterface
}

// NewAuthorHandler はAuthorHandlerを生成する。
func NewAuthorHandler(service AuthorServiceInterface) *AuthorHandler {
	return &AuthorHandler{service: service}
}

type authorRequest struct {
	Name        string `json:"name" validate:"required,notblank,max=200"`
	Country     string `json:"country" validate:"max=100"`
	Description string `json:"description" validate:"max=5000"`
	Photo       string `json:"photo" validate:"omitempty,http_url,max=2048"`
}

func (req authorRequest) toInput() model.AuthorInput {
	return model.AuthorInput{
		Name:        req.Name,
		Country:     req.Country,
		Description: req.Description,
		Photo:       req.Photo,
	}
}

// authorResponse は著者のAPIレスポンス。isFavoriteは認証済みの一覧でのみ含める。
type authorResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	Description string    `json:"description"`
	Photo       string    `json:"photo"`
	Books       []string  `json:"books"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	IsFavorite  *bool     `json:"isFavorite,omitempty"`
}

type authorMessageResponse struct {
	Message string         `json:"message"`
	Author  authorResponse `json:"author"`
}

// ListPublic は著者一覧を返す。
// GET /authors/public?search=
func (h *AuthorHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, nil)
}

// ListAuthorized はお気に入り状態付きの著者一覧を返す。
// GET /authors/authorized?search=
func (h *AuthorHandler) ListAuthorized(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.list(w, r, actor)
}

func (h *AuthorHandler) list(w http.ResponseWriter, r *http.Request, actor *model.Actor) {
	filter := model.AuthorFilter{Search: r.URL.Query().Get("search")}

	authors, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]authorResponse, 0, len(authors))
	for _, a := range authors {
		item := toAuthorResponse(&a.Author)
		if actor != nil {
			isFavorite := a.IsFavorite
			item.IsFavorite = &isFavorite
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は著者を返す。
// GET /authors/{id}
func (h *AuthorHandler) Get(w http.ResponseWriter, r *http.Request) {
	author, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthorResponse(author))
}

// Create は著者を登録する。
// POST /authors/add
func (h *AuthorHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	author, err := h.service.Create(r.Context(), actor, req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorMessageResponse{
		Message: "著者を登録しました。",
		Author:  toAuthorResponse(author),
	})
}

// Update は著者を更新する。
// PUT /authors/edit/{id}
func (h *AuthorHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	author, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorMessageResponse{
		Message: "著者を更新しました。",
		Author:  toAuthorResponse(author),
	})
}

// Delete は著者を削除する。書籍が登録されている著者は削除できない。
// DELETE /authors/delete/{id}
func (h *AuthorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "著者を削除しました。"})
}

func toAuthorResponse(a *model.Author) authorResponse {
	books := a.BookIDs
	if books == nil {
		books = []string{}
	}
	return authorResponse{
		ID:          a.ID,
		Name:        a.Name,
		Country:     a.Country,
		Description: a.Description,
		Photo:       a.Photo,
		Books:       books,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
