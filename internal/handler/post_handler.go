package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/render"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Get(ctx context.Context, caller model.Caller, id string) (*model.Post, error)
	GetPublic(ctx context.Context, id string) (*model.Post, error)
	ListPublished(ctx context.Context, limit int) ([]*model.Post, error)
	ListOwned(ctx context.Context, caller model.Caller, ownerID string, limit int) ([]*model.Post, error)
	CountOwned(ctx context.Context, caller model.Caller, ownerID string) (int, error)
	Create(ctx context.Context, caller model.Caller, in model.NewPost) (*model.Post, error)
	Update(ctx context.Context, caller model.Caller, id string, patch model.PostPatch) (*model.Post, error)
	Delete(ctx context.Context, caller model.Caller, id string) error
}

// PostHandler は投稿のHTTPハンドラー。
type PostHandler struct {
	service  PostServiceInterface
	renderer render.Renderer
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, renderer render.Renderer) *PostHandler {
	return &PostHandler{
		service:  service,
		renderer: renderer,
	}
}

// createPostRequest は投稿作成リクエストのボディ。
type createPostRequest struct {
	Title         string   `json:"title" validate:"required"`
	Body          *string  `json:"body"`
	Status        string   `json:"status" validate:"omitempty,oneof=draft published archived"`
	FeaturedImage *string  `json:"featured_image"`
	TagNames      []string `json:"tag_names"`
}

// updatePostRequest は投稿更新リクエストのボディ。
// キーの省略とnullを区別する。
type updatePostRequest struct {
	Title         model.Optional[string]           `json:"title"`
	Body          model.Optional[string]           `json:"body"`
	Status        model.Optional[model.PostStatus] `json:"status"`
	FeaturedImage model.Optional[string]           `json:"featured_image"`
	TagNames      model.Optional[[]string]         `json:"tag_names"`
}

// postResponse は投稿のAPIレスポンス。
// BodyHTMLは詳細取得時のみ設定する。
type postResponse struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Body          *string       `json:"body"`
	BodyHTML      *string       `json:"body_html,omitempty"`
	UserID        string        `json:"user_id"`
	Status        string        `json:"status"`
	FeaturedImage *string       `json:"featured_image"`
	Tags          []tagResponse `json:"tags"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ListPublished は公開済み投稿の一覧を返す。
// GET /api/posts?limit=
func (h *PostHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	posts, err := h.service.ListPublished(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPostList(posts))
}

// GetPost は投稿詳細を返す。セッションがあれば自分の下書きも参照できる。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.Get(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPostDetail(post))
}

// GetPublicPost はセッションに関わらず匿名として投稿詳細を返す。
// GET /api/public/posts/{id}
func (h *PostHandler) GetPublicPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPublic(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPostDetail(post))
}

// ListPostTags は投稿に付与されたタグを返す。投稿の可視性に従う。
// GET /api/posts/{id}/tags
func (h *PostHandler) ListPostTags(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.Get(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTagValues(post.Tags))
}

// ListMine は自分の投稿をステータスに関わらず返す。
// GET /api/me/posts?limit=
func (h *PostHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	posts, err := h.service.ListOwned(r.Context(), caller, caller.UserID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPostList(posts))
}

// CountMine は自分の投稿数を返す。
// GET /api/me/posts/count
func (h *PostHandler) CountMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	n, err := h.service.CountOwned(r.Context(), caller, caller.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// CreatePost は投稿を作成する。
// POST /api/me/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req createPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.Create(r.Context(), caller, model.NewPost{
		Title:         req.Title,
		Body:          req.Body,
		Status:        model.PostStatus(req.Status),
		FeaturedImage: req.FeaturedImage,
		TagNames:      req.TagNames,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toPostDetail(post))
}

// UpdatePost は投稿を部分更新する。
// PATCH /api/me/posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req updatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.Update(r.Context(), caller, chi.URLParam(r, "id"), model.PostPatch{
		Title:         req.Title,
		Body:          req.Body,
		Status:        req.Status,
		FeaturedImage: req.FeaturedImage,
		TagNames:      req.TagNames,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toPostDetail(post))
}

// DeletePost は投稿を削除する。
// DELETE /api/me/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PostHandler) toPostList(posts []*model.Post) []postResponse {
	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostResponse(p))
	}
	return resp
}

func (h *PostHandler) toPostDetail(p *model.Post) postResponse {
	resp := toPostResponse(p)
	if p.Body != nil && h.renderer != nil {
		html := h.renderer.Render(*p.Body)
		resp.BodyHTML = &html
	}
	return resp
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:            p.ID,
		Title:         p.Title,
		Body:          p.Body,
		UserID:        p.UserID,
		Status:        string(p.Status),
		FeaturedImage: p.FeaturedImage,
		Tags:          toTagValues(p.Tags),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
