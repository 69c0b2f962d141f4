package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogman/internal/model"
)

// ErrorResponseBody はAPIが返すエラーJSON。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// errInternal は原因を伏せて返す汎用エラー。
var errInternal = &model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

// statusByCode に無いコードは500として扱う。
var statusByCode = map[string]int{
	model.ErrCodeNotFound:        http.StatusNotFound,
	model.ErrCodeUserNotFound:    http.StatusNotFound,
	model.ErrCodeUnauthorized:    http.StatusForbidden,
	model.ErrCodeValidation:      http.StatusBadRequest,
	model.ErrCodeUploadRejected:  http.StatusBadRequest,
	model.ErrCodeDuplicateKey:    http.StatusConflict,
	model.ErrCodeTagSlugConflict: http.StatusConflict,
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は500を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, errInternal)
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError はサービス層のエラーをレスポンスに変換する。
//
// APIErrorでないエラーと5xxに該当するAPIErrorは、原因をログに残して
// INTERNAL_ERRORまたは元のメッセージだけを返す。原因の文字列はレスポンスに含めない。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		logFailure(r, "INTERNAL_ERROR", err)
		WriteInternalServerError(w)
		return
	}

	status := StatusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError {
		logFailure(r, apiErr.Code, err)
	}
	WriteErrorResponse(w, status, apiErr)
}

func logFailure(r *http.Request, code string, err error) {
	slog.ErrorContext(r.Context(), "request failed",
		slog.String("code", code),
		slog.String("route", r.Method+" "+r.URL.Path),
		slog.String("error", err.Error()),
	)
}
