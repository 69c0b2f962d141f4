package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogman/internal/asset"
	"github.com/hitoshi/blogman/internal/metrics"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// uploadFormField は画像ファイルを受け取るマルチパートのフィールド名。
const uploadFormField = "file"

// multipartOverhead はマルチパートの境界やヘッダーに許容する余分なバイト数。
const multipartOverhead = 64 << 10

// AssetStorer はアップロードされた画像を保存する。
type AssetStorer interface {
	Store(ctx context.Context, r io.Reader) (*asset.Stored, error)
	MaxBytes() int64
}

// UploadHandler は画像アップロードのHTTPハンドラー。
type UploadHandler struct {
	store   AssetStorer
	metrics metrics.MetricsCollector
}

// NewUploadHandler はUploadHandlerを生成する。recorderはnilでもよい。
func NewUploadHandler(store AssetStorer, recorder metrics.MetricsCollector) *UploadHandler {
	return &UploadHandler{
		store:   store,
		metrics: metrics.OrNop(recorder),
	}
}

// uploadResponse はアップロード結果のAPIレスポンス。
type uploadResponse struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Upload はマルチパートのfileフィールドの画像を保存し、公開URLを返す。
// POST /api/me/uploads
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUploadRejectedError("multipart/form-dataで送信してください"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.writeUploadError(w, r, err)
			return
		}
		if part.FormName() != uploadFormField {
			part.Close()
			continue
		}

		stored, err := h.store.Store(r.Context(), part)
		part.Close()
		if err != nil {
			h.writeUploadError(w, r, err)
			return
		}

		h.metrics.RecordUpload(stored.ContentType, stored.Size)
		slog.Info("画像をアップロードしました",
			slog.String("user_id", caller.UserID),
			slog.String("path", stored.Path),
			slog.Int64("size", stored.Size),
		)

		writeJSON(w, http.StatusCreated, uploadResponse{
			URL:         stored.URL,
			Path:        stored.Path,
			ContentType: stored.ContentType,
			Size:        stored.Size,
			Width:       stored.Width,
			Height:      stored.Height,
		})
		return
	}

	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUploadRejectedError("fileフィールドがありません"))
}

// writeUploadError は保存時のエラーをレスポンスに変換する。
func (h *UploadHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, asset.ErrTooLarge), errors.As(err, &maxErr):
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewUploadRejectedError("ファイルサイズが上限を超えています"))
	case errors.Is(err, asset.ErrUnsupportedType):
		middleware.WriteErrorResponse(w, http.StatusUnsupportedMediaType, model.NewUploadRejectedError("対応していない画像形式です"))
	case errors.Is(err, asset.ErrInvalidImage):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUploadRejectedError("画像を読み込めません"))
	default:
		slog.Error("画像の保存に失敗しました", slog.String("error", err.Error()))
		handleServiceError(w, r, model.NewStorageFailureError("画像の保存", err))
	}
}
