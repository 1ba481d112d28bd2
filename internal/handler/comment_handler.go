package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ulib/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	Add(ctx context.Context, uid, rawBookID, text string) (*model.Comment, error)
	Delete(ctx context.Context, actor *model.Actor, rawID string) error
	List(ctx context.Context, rawBookID, order string) ([]*model.Comment, error)
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

// 本文の長さは前後の空白を除いてサービス層で検証する。
type addCommentRequest struct {
	Text   string `json:"text" validate:"required,notblank"`
	BookID string `json:"bookId" validate:"required"`
}

type commentUserResponse struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// commentResponse はコメントのAPIレスポンス。投稿者が退会済みの場合userはnull。
type commentResponse struct {
	ID        string               `json:"id"`
	BookID    string               `json:"bookId"`
	Text      string               `json:"text"`
	CreatedAt time.Time            `json:"createdAt"`
	User      *commentUserResponse `json:"user"`
}

type commentMessageResponse struct {
	Message string          `json:"message"`
	Comment commentResponse `json:"comment"`
}

// List は書籍のコメント一覧を返す。
// GET /comments/book/{bookId}?sort=newest|oldest
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.List(r.Context(), chi.URLParam(r, "bookId"), r.URL.Query().Get("sort"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, toCommentResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Add はコメントを投稿する。
// POST /comments/add
func (h *CommentHandler) Add(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req addCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requestValidator.Validate(req); err != nil {
		handleServiceError(w, err)
		return
	}

	comment, err := h.service.Add(r.Context(), actor.UID, req.BookID, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, commentMessageResponse{
		Message: "コメントを投稿しました。",
		Comment: toCommentResponse(comment),
	})
}

// Delete はコメントを削除する。投稿者本人または管理者のみ。
// DELETE /comments/delete/{id}
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "コメントを削除しました。"})
}

func toCommentResponse(c *model.Comment) commentResponse {
	resp := commentResponse{
		ID:        c.ID,
		BookID:    c.BookID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
	if c.UserUID != "" {
		resp.User = &commentUserResponse{UID: c.UserUID, Name: c.UserName}
	}
	return resp
}
