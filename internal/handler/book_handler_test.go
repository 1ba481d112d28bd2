package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/ulib/internal/book"
	"github.com/hitoshi/ulib/internal/model"
)

const testAuthorID = "3f1c0b9e-8a5d-4c1e-9f3a-2b7d6e5c4a10"

func sampleBook() model.Book {
	year := 1869
	return model.Book{
		ID:           "b1",
		Title:        "War and Peace",
		AuthorID:     testAuthorID,
		AuthorName:   "Tolstoy",
		Year:         &year,
		Genres:       []string{"novel"},
		RatingSum:    17,
		RatingsCount: 2,
	}
}

func TestBookHandler_ListPublic_IgnoresListAndOmitsUserData(t *testing.T) {
	svc := &mockBookService{
		listFn: func(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error) {
			if actor != nil {
				t.Error("public list must not pass an actor")
			}
			if q.List != "" {
				t.Errorf("list = %q, want empty on public route", q.List)
			}
			if q.Sort != "title" || q.Order != "asc" || q.Search != "war" {
				t.Errorf("query = %+v", q)
			}
			return []*model.BookWithUserData{{Book: sampleBook()}}, nil
		},
	}
	h := NewBookHandler(svc)

	w := httptest.NewRecorder()
	h.ListPublic(w, httptest.NewRequest(http.MethodGet, "/books/public?sort=title&order=asc&search=war&list=readBooks", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	list := decodeList(t, w)
	if _, ok := list[0]["userData"]; ok {
		t.Error("userData must be omitted on the public list")
	}
	if list[0]["averageRating"] != 8.5 {
		t.Errorf("averageRating = %v, want 8.5", list[0]["averageRating"])
	}
	if list[0]["ratingsCount"] != float64(2) {
		t.Errorf("ratingsCount = %v, want 2", list[0]["ratingsCount"])
	}
	author := list[0]["author"].(map[string]any)
	if author["name"] != "Tolstoy" {
		t.Errorf("author.name = %v", author["name"])
	}
}

func TestBookHandler_ListAuthorized_IncludesUserData(t *testing.T) {
	rating := 9
	svc := &mockBookService{
		listFn: func(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error) {
			if q.List != "readBooks" {
				t.Errorf("list = %q, want readBooks", q.List)
			}
			unrated := sampleBook()
			unrated.ID = "b2"
			unrated.RatingsCount = 0
			unrated.RatingSum = 0
			return []*model.BookWithUserData{
				{Book: sampleBook(), UserData: model.UserBookData{Lists: []model.ListName{model.ListRead}, Rating: &rating}},
				{Book: unrated, UserData: model.UserBookData{Lists: []model.ListName{}}},
			}, nil
		},
	}
	h := NewBookHandler(svc)

	req := withActor(httptest.NewRequest(http.MethodGet, "/books/authorized?list=readBooks", nil), "uid-1", model.RoleUser)
	w := httptest.NewRecorder()
	h.ListAuthorized(w, req)

	list := decodeList(t, w)
	ud := list[0]["userData"].(map[string]any)
	if ud["rating"] != float64(9) {
		t.Errorf("rating = %v, want 9", ud["rating"])
	}
	if lists := ud["lists"].([]any); len(lists) != 1 || lists[0] != "readBooks" {
		t.Errorf("lists = %v", lists)
	}

	ud2 := list[1]["userData"].(map[string]any)
	if ud2["rating"] != nil {
		t.Errorf("rating = %v, want null", ud2["rating"])
	}
	if list[1]["averageRating"] != nil {
		t.Errorf("averageRating = %v, want null", list[1]["averageRating"])
	}
}

func TestBookHandler_ListAuthorized_InvalidList(t *testing.T) {
	svc := &mockBookService{
		listFn: func(ctx context.Context, actor *model.Actor, q book.ListQuery) ([]*model.BookWithUserData, error) {
			return nil, model.NewInvalidListError(q.List)
		},
	}
	h := NewBookHandler(svc)

	req := withActor(httptest.NewRequest(http.MethodGet, "/books/authorized?list=wishlist", nil), "uid-1", model.RoleUser)
	w := httptest.NewRecorder()
	h.ListAuthorized(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := parseAPIErrorResponse(t, w); resp.Code != model.ErrCodeInvalidList {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeInvalidList)
	}
}

func TestBookHandler_GetPublic_NotFound(t *testing.T) {
	h := NewBookHandler(&mockBookService{})

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/books/public/x", nil), "id", "x")
	w := httptest.NewRecorder()
	h.GetPublic(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBookHandler_GetAuthorized_PassesActor(t *testing.T) {
	svc := &mockBookService{
		getFn: func(ctx context.Context, actor *model.Actor, rawID string) (*model.BookWithUserData, error) {
			if actor == nil || actor.UID != "uid-1" {
				t.Errorf("actor = %+v", actor)
			}
			return &model.BookWithUserData{Book: sampleBook(), UserData: model.UserBookData{Lists: []model.ListName{}}}, nil
		},
	}
	h := NewBookHandler(svc)

	req := withActor(httptest.NewRequest(http.MethodGet, "/books/authorized/b1", nil), "uid-1", model.RoleUser)
	req = withChiURLParam(req, "id", "b1")
	w := httptest.NewRecorder()
	h.GetAuthorized(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := decodeBody(t, w)["userData"]; !ok {
		t.Error("expected userData")
	}
}

func TestBookHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantFields []string
		wantCode   string
	}{
		{
			name:       "success",
			body:       `{"title":"War and Peace","author":"` + testAuthorID + `","year":1869,"genres":["novel"]}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "reports every invalid field",
			body:       `{"title":"","author":"not-a-uuid","year":-5,"genres":[""]}`,
			wantStatus: http.StatusBadRequest,
			wantFields: []string{"title", "author", "year", "genres[0]"},
		},
		{
			name:       "author missing",
			body:       `{"title":"War and Peace","author":"` + testAuthorID + `"}`,
			serviceErr: model.NewAuthorNotFoundError(testAuthorID),
			wantStatus: http.StatusNotFound,
			wantCode:   model.ErrCodeAuthorNotFound,
		},
		{
			name:       "forbidden",
			body:       `{"title":"War and Peace","author":"` + testAuthorID + `"}`,
			serviceErr: model.NewForbiddenError(),
			wantStatus: http.StatusForbidden,
			wantCode:   model.ErrCodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockBookService{
				createFn: func(ctx context.Context, actor *model.Actor, input model.BookInput) (*model.Book, error) {
					if tt.serviceErr != nil {
						return nil, tt.serviceErr
					}
					if input.Year == nil || *input.Year != 1869 {
						t.Errorf("year = %v, want 1869", input.Year)
					}
					b := sampleBook()
					return &b, nil
				},
			}
			h := NewBookHandler(svc)

			req := withActor(jsonRequest(http.MethodPost, "/books/add", tt.body), "admin", model.RoleAdmin)
			w := httptest.NewRecorder()
			h.Create(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				return
			}
			resp := parseAPIErrorResponse(t, w)
			if tt.wantCode != "" && resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			for _, f := range tt.wantFields {
				if _, ok := resp.Fields[f]; !ok {
					t.Errorf("fields = %v, want %q", resp.Fields, f)
				}
			}
		})
	}
}

func TestBookHandler_Delete_Success(t *testing.T) {
	deleted := ""
	svc := &mockBookService{
		deleteFn: func(ctx context.Context, actor *model.Actor, rawID string) error {
			deleted = rawID
			return nil
		},
	}
	h := NewBookHandler(svc)

	req := withActor(httptest.NewRequest(http.MethodDelete, "/books/delete/b1", nil), "admin", model.RoleAdmin)
	req = withChiURLParam(req, "id", "b1")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if deleted != "b1" {
		t.Errorf("deleted = %q, want b1", deleted)
	}
}
