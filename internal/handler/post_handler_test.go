package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/render"
)

// --- モック定義 ---

type mockPostService struct {
	getFn           func(ctx context.Context, caller model.Caller, id string) (*model.Post, error)
	getPublicFn     func(ctx context.Context, id string) (*model.Post, error)
	listPublishedFn func(ctx context.Context, limit int) ([]*model.Post, error)
	listOwnedFn     func(ctx context.Context, caller model.Caller, ownerID string, limit int) ([]*model.Post, error)
	countOwnedFn    func(ctx context.Context, caller model.Caller, ownerID string) (int, error)
	createFn        func(ctx context.Context, caller model.Caller, in model.NewPost) (*model.Post, error)
	updateFn        func(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error)
	deleteFn        func(ctx context.Context, caller model.Caller, id string) error
}

func (m *mockPostService) Get(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
	if m.getFn != nil {
		return m.getFn(ctx, caller, id)
	}
	return nil, model.NewPostNotFoundError(id)
}

func (m *mockPostService) GetPublic(ctx context.Context, id string) (*model.Post, error) {
	if m.getPublicFn != nil {
		return m.getPublicFn(ctx, id)
	}
	return nil, model.NewPostNotFoundError(id)
}

func (m *mockPostService) ListPublished(ctx context.Context, limit int) ([]*model.Post, error) {
	if m.listPublishedFn != nil {
		return m.listPublishedFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockPostService) ListOwned(ctx context.Context, caller model.Caller, ownerID string, limit int) ([]*model.Post, error) {
	if m.listOwnedFn != nil {
		return m.listOwnedFn(ctx, caller, ownerID, limit)
	}
	return nil, nil
}

func (m *mockPostService) CountOwned(ctx context.Context, caller model.Caller, ownerID string) (int, error) {
	if m.countOwnedFn != nil {
		return m.countOwnedFn(ctx, caller, ownerID)
	}
	return 0, nil
}

func (m *mockPostService) Create(ctx context.Context, caller model.Caller, in model.NewPost) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, caller, in)
	}
	return nil, nil
}

func (m *mockPostService) Update(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, caller, id, patch)
	}
	return nil, nil
}

func (m *mockPostService) Delete(ctx context.Context, caller model.Caller, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, caller, id)
	}
	return nil
}

func samplePost(id, owner string, status model.PostStatus) *model.Post {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return &model.Post{
		ID:        id,
		Title:     "Hello",
		Body:      strPtr("# Hello\n\nworld"),
		UserID:    owner,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []model.Tag{*sampleTag("t1", "Go", "go")},
	}
}

func decodePost(t *testing.T, w *httptest.ResponseRecorder) postResponse {
	t.Helper()
	var got postResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return got
}

// --- 一覧 ---

func TestPostHandler_ListPublished(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantStatus int
	}{
		{name: "limit省略", target: "/api/posts", wantLimit: 0, wantStatus: http.StatusOK},
		{name: "limit指定", target: "/api/posts?limit=5", wantLimit: 5, wantStatus: http.StatusOK},
		{name: "limitが数値でない", target: "/api/posts?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "limitが0", target: "/api/posts?limit=0", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPostService{
				listPublishedFn: func(ctx context.Context, limit int) ([]*model.Post, error) {
					if limit != tt.wantLimit {
						t.Errorf("limit = %d, want %d", limit, tt.wantLimit)
					}
					return []*model.Post{samplePost("p1", "user-1", model.PostStatusPublished)}, nil
				},
			}
			h := NewPostHandler(svc, render.NewMarkdownRenderer())

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()

			h.ListPublished(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got []postResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			if got[0].BodyHTML != nil {
				t.Error("list response should not include body_html")
			}
			if len(got[0].Tags) != 1 || got[0].Tags[0].Slug != "go" {
				t.Errorf("tags = %+v", got[0].Tags)
			}
		})
	}
}

func TestPostHandler_ListPublished_EmptyIsArray(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, nil)

	w := httptest.NewRecorder()
	h.ListPublished(w, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

// --- 詳細 ---

func TestPostHandler_GetPost_PassesCallerAndRendersBody(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		wantCaller string
	}{
		{name: "匿名", userID: "", wantCaller: ""},
		{name: "ログイン中", userID: "user-1", wantCaller: "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPostService{
				getFn: func(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
					if caller.UserID != tt.wantCaller {
						t.Errorf("caller = %q, want %q", caller.UserID, tt.wantCaller)
					}
					if id != "p1" {
						t.Errorf("id = %q, want p1", id)
					}
					return samplePost(id, "user-1", model.PostStatusDraft), nil
				},
			}
			h := NewPostHandler(svc, render.NewMarkdownRenderer())

			req := httptest.NewRequest(http.MethodGet, "/api/posts/p1", nil)
			if tt.userID != "" {
				req = withUserID(req, tt.userID)
			}
			req = withURLParams(req, "id", "p1")
			w := httptest.NewRecorder()

			h.GetPost(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			got := decodePost(t, w)
			if got.BodyHTML == nil || !strings.Contains(*got.BodyHTML, "<h1") {
				t.Errorf("body_html = %v, want rendered heading", got.BodyHTML)
			}
		})
	}
}

func TestPostHandler_GetPost_NotFound(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, nil)

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/posts/missing", nil), "id", "missing")
	w := httptest.NewRecorder()

	h.GetPost(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := decodeAPIError(t, w); got.Code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodeNotFound)
	}
}

func TestPostHandler_GetPublicPost_IgnoresSession(t *testing.T) {
	svc := &mockPostService{
		getFn: func(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
			t.Error("Get should not be called")
			return nil, nil
		},
		getPublicFn: func(ctx context.Context, id string) (*model.Post, error) {
			return samplePost(id, "user-1", model.PostStatusPublished), nil
		},
	}
	h := NewPostHandler(svc, nil)

	req := withURLParams(withUserID(httptest.NewRequest(http.MethodGet, "/api/public/posts/p1", nil), "user-1"), "id", "p1")
	w := httptest.NewRecorder()

	h.GetPublicPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodePost(t, w); got.BodyHTML != nil {
		t.Error("body_html should be omitted without a renderer")
	}
}

func TestPostHandler_ListPostTags(t *testing.T) {
	svc := &mockPostService{
		getFn: func(ctx context.Context, caller model.Caller, id string) (*model.Post, error) {
			return samplePost(id, "user-1", model.PostStatusPublished), nil
		},
	}
	h := NewPostHandler(svc, nil)

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/posts/p1/tags", nil), "id", "p1")
	w := httptest.NewRecorder()

	h.ListPostTags(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []tagResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Go" {
		t.Errorf("tags = %+v", got)
	}
}

// --- 自分の投稿 ---

func TestPostHandler_ListMine_UsesCallerAsOwner(t *testing.T) {
	svc := &mockPostService{
		listOwnedFn: func(ctx context.Context, caller model.Caller, ownerID string, limit int) ([]*model.Post, error) {
			if caller.UserID != "user-1" || ownerID != "user-1" {
				t.Errorf("caller = %q, ownerID = %q", caller.UserID, ownerID)
			}
			if limit != 20 {
				t.Errorf("limit = %d, want 20", limit)
			}
			return []*model.Post{samplePost("p1", "user-1", model.PostStatusDraft)}, nil
		},
	}
	h := NewPostHandler(svc, nil)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me/posts?limit=20", nil), "user-1")
	w := httptest.NewRecorder()

	h.ListMine(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestPostHandler_CountMine(t *testing.T) {
	svc := &mockPostService{
		countOwnedFn: func(ctx context.Context, caller model.Caller, ownerID string) (int, error) {
			return 3, nil
		},
	}
	h := NewPostHandler(svc, nil)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/me/posts/count", nil), "user-1")
	w := httptest.NewRecorder()

	h.CountMine(w, req)

	var got map[string]int
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["count"] != 3 {
		t.Errorf("count = %d, want 3", got["count"])
	}
}

func TestPostHandler_MeRoutes_RequireSession(t *testing.T) {
	h := NewPostHandler(&mockPostService{}, nil)

	tests := []struct {
		name string
		fn   http.HandlerFunc
		req  *http.Request
	}{
		{"ListMine", h.ListMine, httptest.NewRequest(http.MethodGet, "/api/me/posts", nil)},
		{"CountMine", h.CountMine, httptest.NewRequest(http.MethodGet, "/api/me/posts/count", nil)},
		{"CreatePost", h.CreatePost, httptest.NewRequest(http.MethodPost, "/api/me/posts", strings.NewReader(`{"title":"x"}`))},
		{"UpdatePost", h.UpdatePost, httptest.NewRequest(http.MethodPatch, "/api/me/posts/p1", strings.NewReader(`{}`))},
		{"DeletePost", h.DeletePost, httptest.NewRequest(http.MethodDelete, "/api/me/posts/p1", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.fn(w, tt.req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

// --- 作成・更新・削除 ---

func TestPostHandler_CreatePost(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "作成成功",
			body:       `{"title":"Hello","body":"text","status":"published","tag_names":["Go","Web"]}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "タイトルなし",
			body:       `{"body":"text"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidation,
		},
		{
			name:       "不正なステータス",
			body:       `{"title":"Hello","status":"hidden"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidation,
		},
		{
			name:       "サービスの検証エラー",
			body:       `{"title":"   "}`,
			svcErr:     model.NewValidationError("title", "空にできません"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidation,
		},
		{
			name:       "ストレージ障害",
			body:       `{"title":"Hello"}`,
			svcErr:     model.NewStorageFailureError("投稿の作成", errors.New("connection refused")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPostService{
				createFn: func(ctx context.Context, caller model.Caller, in model.NewPost) (*model.Post, error) {
					if tt.svcErr != nil {
						return nil, tt.svcErr
					}
					if in.Title != "Hello" || in.Status != model.PostStatusPublished {
						t.Errorf("input = %+v", in)
					}
					if len(in.TagNames) != 2 {
						t.Errorf("tag names = %v, want 2", in.TagNames)
					}
					p := samplePost("p-new", caller.UserID, in.Status)
					return p, nil
				},
			}
			h := NewPostHandler(svc, render.NewMarkdownRenderer())

			req := withUserID(httptest.NewRequest(http.MethodPost, "/api/me/posts", strings.NewReader(tt.body)), "user-1")
			w := httptest.NewRecorder()

			h.CreatePost(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				got := decodeAPIError(t, w)
				if got.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
				}
				if strings.Contains(got.Message, "connection refused") {
					t.Error("storage cause should not be exposed")
				}
				return
			}
			if got := decodePost(t, w); got.UserID != "user-1" || got.BodyHTML == nil {
				t.Errorf("post = %+v", got)
			}
		})
	}
}

func TestPostHandler_UpdatePost_ForwardsPatch(t *testing.T) {
	svc := &mockPostService{
		updateFn: func(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error) {
			if id != "p1" {
				t.Errorf("id = %q, want p1", id)
			}
			if !patch.Title.Valid || patch.Title.Value != "New title" {
				t.Errorf("title = %+v", patch.Title)
			}
			if !patch.FeaturedImage.IsNull() {
				t.Errorf("featured_image = %+v, want explicit null", patch.FeaturedImage)
			}
			if patch.Body.Set {
				t.Errorf("body = %+v, want unset", patch.Body)
			}
			if !patch.TagNames.Valid || len(patch.TagNames.Value) != 0 {
				t.Errorf("tag_names = %+v, want empty list", patch.TagNames)
			}
			if !patch.Status.Valid || patch.Status.Value != model.PostStatusArchived {
				t.Errorf("status = %+v", patch.Status)
			}
			return samplePost(id, caller.UserID, model.PostStatusArchived), nil
		},
	}
	h := NewPostHandler(svc, nil)

	body := `{"title":"New title","featured_image":null,"tag_names":[],"status":"archived"}`
	req := withURLParams(withUserID(httptest.NewRequest(http.MethodPatch, "/api/me/posts/p1", strings.NewReader(body)), "user-1"), "id", "p1")
	w := httptest.NewRecorder()

	h.UpdatePost(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestPostHandler_UpdatePost_NotOwnedIsNotFound(t *testing.T) {
	svc := &mockPostService{
		updateFn: func(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error) {
			return nil, model.NewPostNotFoundError(id)
		},
	}
	h := NewPostHandler(svc, nil)

	req := withURLParams(withUserID(httptest.NewRequest(http.MethodPatch, "/api/me/posts/p1", strings.NewReader(`{"title":"x"}`)), "user-2"), "id", "p1")
	w := httptest.NewRecorder()

	h.UpdatePost(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPostHandler_DeletePost(t *testing.T) {
	deleted := ""
	svc := &mockPostService{
		deleteFn: func(ctx context.Context, caller model.Caller, id string) error {
			deleted = id
			return nil
		},
	}
	h := NewPostHandler(svc, nil)

	req := withURLParams(withUserID(httptest.NewRequest(http.MethodDelete, "/api/me/posts/p1", nil), "user-1"), "id", "p1")
	w := httptest.NewRecorder()

	h.DeletePost(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != "p1" {
		t.Errorf("deleted = %q, want p1", deleted)
	}
}
