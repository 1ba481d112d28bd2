package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/model"
)

// LibraryServiceInterface は/users/*のハンドラーが必要とするサービスインターフェース。
type LibraryServiceInterface interface {
	ToggleListMembership(ctx context.Context, uid, listName, rawBookID string) (model.ToggleStatus, error)
	ToggleFavoriteAuthor(ctx context.Context, uid, rawAuthorID string) (model.ToggleStatus, []model.FavoriteEntry, error)
	// SetRating はratingがnilなら評価を削除し、それ以外は1〜10の評価を登録・上書きする。
	SetRating(ctx context.Context, uid, rawBookID string, rating *int) (model.RatingChange, error)
}

// UserHandler は読書リスト・お気に入り著者・評価のHTTPハンドラー。
type UserHandler struct {
	service LibraryServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service LibraryServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type toggleListRequest struct {
	BookID string `json:"bookId" validate:"required"`
}

type toggleFavoriteRequest struct {
	AuthorID string `json:"authorId" validate:"required"`
}

// ratingRequest はratingのnullと未指定を区別するためRawMessageで受ける。
type ratingRequest struct {
	BookID string          `json:"bookId" validate:"required"`
	Rating json.RawMessage `json:"rating"`
}

type toggleResponse struct {
	Status string `json:"status"`
}

type favoriteUserResponse struct {
	FavoriteAuthors []favoriteEntryResponse `json:"favoriteAuthors"`
}

type toggleFavoriteResponse struct {
	Status string               `json:"status"`
	User   favoriteUserResponse `json:"user"`
}

type ratingResponse struct {
	Message       string   `json:"message"`
	AverageRating *float64 `json:"averageRating"`
	RatingsCount  int      `json:"ratingsCount"`
}

// ToggleList は読書リストへの書籍の追加・削除を切り替える。
// POST /users/books/{list}
func (h *UserHandler) ToggleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req toggleListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	status, err := h.service.ToggleListMembership(r.Context(), actor.UID, chi.URLParam(r, "list"), req.BookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleResponse{Status: string(status)})
}

// ToggleFavoriteAuthor はお気に入り著者の追加・削除を切り替える。
// POST /users/favoriteAuthors
func (h *UserHandler) ToggleFavoriteAuthor(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req toggleFavoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	status, favorites, err := h.service.ToggleFavoriteAuthor(r.Context(), actor.UID, req.AuthorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toggleFavoriteResponse{
		Status: string(status),
		User:   favoriteUserResponse{FavoriteAuthors: toFavoriteResponses(favorites)},
	})
}

// SetRating は書籍の評価を登録・更新・削除する。
// POST /users/rating
func (h *UserHandler) SetRating(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	fields := map[string]string{}
	if err := requestValidator.Validate(req); err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		fields = apiErr.Fields
	}
	rating, ok := parseRating(req.Rating)
	if !ok {
		fields["rating"] = "1から10の整数またはnullを指定してください"
	}
	if len(fields) > 0 {
		handleServiceError(w, model.NewValidationError(fields))
		return
	}

	change, err := h.service.SetRating(r.Context(), actor.UID, req.BookID, rating)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	message := "評価を登録しました。"
	if rating == nil {
		message = "評価を削除しました。"
	}
	writeJSON(w, http.StatusOK, ratingResponse{
		Message:       message,
		AverageRating: change.AverageRating,
		RatingsCount:  change.RatingsCount,
	})
}

// parseRating はratingフィールドを解釈する。nullはnil、整数はその値を返す。
// 未指定や整数以外の場合はfalseを返す。範囲の検証はサービス層で行う。
func parseRating(raw json.RawMessage) (*int, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}
