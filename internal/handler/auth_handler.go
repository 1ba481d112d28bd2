// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/ulib/internal/auth"
	"github.com/hitoshi/ulib/internal/middleware"
	"github.com/hitoshi/ulib/internal/model"
	"github.com/hitoshi/ulib/internal/validation"
)

// requestValidator はリクエストボディの検証に使う共有Validator。
var requestValidator = validation.New()

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, identity *model.Identity, name, email string) (*model.User, error)
	Me(ctx context.Context, uid string) (*auth.Profile, error)
}

// UserServiceInterface はプロフィール更新・退会に必要なサービスインターフェース。
type UserServiceInterface interface {
	UpdateName(ctx context.Context, uid, name string) (*model.User, error)
	UpdateEmail(ctx context.Context, uid, email string) (*model.User, error)
	// DeleteMe はユーザーディレクトリのエントリとIdPアカウントを削除する。
	DeleteMe(ctx context.Context, uid string) error
}

// AuthHandler は/auth/*のHTTPハンドラー。
type AuthHandler struct {
	authService AuthServiceInterface
	userService UserServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(authService AuthServiceInterface, userService UserServiceInterface) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
	}
}

type registerRequest struct {
	Name  string `json:"name" validate:"required,notblank,min=2,max=100"`
	Email string `json:"email" validate:"required,email,max=254"`
}

type updateNameRequest struct {
	NewName string `json:"newName" validate:"required,notblank,min=2,max=100"`
}

type updateEmailRequest struct {
	NewEmail string `json:"newEmail" validate:"required,email,max=254"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type listEntryResponse struct {
	BookID    string    `json:"bookId"`
	DateAdded time.Time `json:"dateAdded"`
}

type ratingEntryResponse struct {
	BookID string `json:"bookId"`
	Rating int    `json:"rating"`
}

type favoriteEntryResponse struct {
	AuthorID  string    `json:"authorId"`
	DateAdded time.Time `json:"dateAdded"`
}

// profileResponse はユーザー情報とリスト・評価・お気に入り著者を含むレスポンス。
type profileResponse struct {
	userResponse
	ReadBooks             []listEntryResponse     `json:"readBooks"`
	CurrentlyReadingBooks []listEntryResponse     `json:"currentlyReadingBooks"`
	PlannedBooks          []listEntryResponse     `json:"plannedBooks"`
	AbandonedBooks        []listEntryResponse     `json:"abandonedBooks"`
	RatedBooks            []ratingEntryResponse   `json:"ratedBooks"`
	FavoriteAuthors       []favoriteEntryResponse `json:"favoriteAuthors"`
}

type meResponse struct {
	User profileResponse `json:"user"`
	Role string          `json:"role"`
}

type userMessageResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

// Me は現在のユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	profile, err := h.authService.Me(r.Context(), actor.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User: toProfileResponse(profile),
		Role: string(profile.User.Role),
	})
}

// Register は検証済みトークンのUIDでユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.authService.Register(r.Context(), identity, req.Name, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userMessageResponse{
		Message: "ユーザー登録が完了しました。",
		User:    toUserResponse(user),
	})
}

// DeleteMe は退会処理を実行する。
// DELETE /auth/deleteMe
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.userService.DeleteMe(r.Context(), actor.UID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "退会処理が完了しました。"})
}

// UpdateName はユーザー名を更新する。
// PUT /auth/updateName
func (h *AuthHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.userService.UpdateName(r.Context(), actor.UID, req.NewName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userMessageResponse{
		Message: "ユーザー名を更新しました。",
		User:    toUserResponse(user),
	})
}

// UpdateEmail はメールアドレスを更新する。
// PUT /auth/updateEmail
func (h *AuthHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.userService.UpdateEmail(r.Context(), actor.UID, req.NewEmail)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userMessageResponse{
		Message: "メールアドレスを更新しました。",
		User:    toUserResponse(user),
	})
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		UID:       u.UID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func toProfileResponse(p *auth.Profile) profileResponse {
	lib := p.Library
	if lib == nil {
		lib = model.NewUserLibrary()
	}

	resp := profileResponse{
		userResponse:          toUserResponse(p.User),
		ReadBooks:             toListEntryResponses(lib.Lists[model.ListRead]),
		CurrentlyReadingBooks: toListEntryResponses(lib.Lists[model.ListCurrentlyReading]),
		PlannedBooks:          toListEntryResponses(lib.Lists[model.ListPlanned]),
		AbandonedBooks:        toListEntryResponses(lib.Lists[model.ListAbandoned]),
		RatedBooks:            make([]ratingEntryResponse, 0, len(lib.Ratings)),
		FavoriteAuthors:       toFavoriteResponses(lib.Favorites),
	}
	for _, r := range lib.Ratings {
		resp.RatedBooks = append(resp.RatedBooks, ratingEntryResponse{BookID: r.BookID, Rating: r.Rating})
	}
	return resp
}

func toListEntryResponses(entries []model.ListEntry) []listEntryResponse {
	result := make([]listEntryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, listEntryResponse{BookID: e.BookID, DateAdded: e.DateAdded})
	}
	return result
}

func toFavoriteResponses(entries []model.FavoriteEntry) []favoriteEntryResponse {
	result := make([]favoriteEntryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, favoriteEntryResponse{AuthorID: e.AuthorID, DateAdded: e.DateAdded})
	}
	return result
}
