package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/model"
)

// TagServiceInterface はタグハンドラーが必要とするサービスインターフェース。
type TagServiceInterface interface {
	Search(ctx context.Context, term string) ([]*model.Tag, error)
	ListAll(ctx context.Context) ([]*model.Tag, error)
	Create(ctx context.Context, caller model.Caller, name string) (*model.Tag, error)
	GetOrCreate(ctx context.Context, caller model.Caller, name string) (*model.Tag, error)
	Delete(ctx context.Context, caller model.Caller, id string) error
}

// TagHandler はタグのHTTPハンドラー。
type TagHandler struct {
	service TagServiceInterface
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(service TagServiceInterface) *TagHandler {
	return &TagHandler{service: service}
}

// tagNameRequest はタグ作成リクエストのボディ。
type tagNameRequest struct {
	Name string `json:"name" validate:"required"`
}

// tagResponse はタグのAPIレスポンス。
type tagResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Search は名前に検索語を含むタグを返す。
// GET /api/tags?q=
func (h *TagHandler) Search(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagPointers(tags))
}

// ListAll は全タグを名前順で返す。
// GET /api/tags/all
func (h *TagHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagPointers(tags))
}

// Create はタグを作成する。同名またはスラッグが衝突する場合は409。
// POST /api/tags
func (h *TagHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req tagNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tag, err := h.service.Create(r.Context(), caller, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTagResponse(*tag))
}

// GetOrCreate は同名のタグを返し、なければ作成する。
// POST /api/tags/get-or-create
func (h *TagHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req tagNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tag, err := h.service.GetOrCreate(r.Context(), caller, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagResponse(*tag))
}

// Delete はタグを削除する。
// DELETE /api/tags/{id}
func (h *TagHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

func toTagResponse(t model.Tag) tagResponse {
	return tagResponse{
		ID:        t.ID,
		Name:      t.Name,
		Slug:      t.Slug,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTagValues(tags []model.Tag) []tagResponse {
	resp := make([]tagResponse, 0, len(tags))
	for _, t := range tags {
		resp = append(resp, toTagResponse(t))
	}
	return resp
}

func toTagPointers(tags []*model.Tag) []tagResponse {
	resp := make([]tagResponse, 0, len(tags))
	for _, t := range tags {
		resp = append(resp, toTagResponse(*t))
	}
	return resp
}
