package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// validate はリクエストボディの構造体タグを検証する。
// エラーメッセージのフィールド名にはJSONタグ名を使う。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// errInvalidJSON はリクエストボディを解析できない場合のエラー。
var errInvalidJSON = &model.APIError{
	Code:     model.ErrCodeValidation,
	Message:  "リクエストボディの解析に失敗しました。",
	Category: "validation",
	Action:   "正しいJSON形式でリクエストしてください。",
}

// decodeJSON はリクエストボディをdstに読み込み、validateタグを検証する。
// 失敗時はエラーレスポンスを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidJSON)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(fe.Field(), friendlyMessage(fe)))
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidJSON)
		return false
	}
	return true
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須です"
	case "oneof":
		return "次のいずれかを指定してください: " + fe.Param()
	case "max":
		return fmt.Sprintf("%s以下で指定してください", fe.Param())
	default:
		return "不正な値です"
	}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}

// requireCaller は認証済みの呼び出し元を返す。
// 未認証の場合は401を書き込んでfalseを返す。
func requireCaller(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller := middleware.CallerFromContext(r.Context())
	if !caller.Authenticated() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return caller, false
	}
	return caller, true
}

// parseLimit は?limit=の値を返す。未指定の場合は0（サービス側の既定値）。
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limit", "1以上の整数を指定してください"))
		return 0, false
	}
	return n, true
}

// callerOf はリクエストの呼び出し元を返す。セッションがなければ匿名。
func callerOf(r *http.Request) model.Caller {
	return middleware.CallerFromContext(r.Context())
}
