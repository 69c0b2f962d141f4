// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はerrors.Isでの比較に使う。Codeが同じなら一致とみなす。
// TAG_SLUG_CONFLICTはDUPLICATE_KEYの一種として扱う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == ErrCodeDuplicateKey && e.Code == ErrCodeTagSlugConflict
}

// 定義済みエラーコード
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeDuplicateKey    = "DUPLICATE_KEY"
	ErrCodeTagSlugConflict = "TAG_SLUG_CONFLICT"
	ErrCodeStorageFailure  = "STORAGE_FAILURE"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeUploadRejected  = "UPLOAD_REJECTED"
)

// errors.Isで使う番兵エラー。
var (
	ErrNotFound       = &APIError{Code: ErrCodeNotFound}
	ErrUnauthorized   = &APIError{Code: ErrCodeUnauthorized}
	ErrValidation     = &APIError{Code: ErrCodeValidation}
	ErrDuplicateKey   = &APIError{Code: ErrCodeDuplicateKey}
	ErrStorageFailure = &APIError{Code: ErrCodeStorageFailure}
)

// NewPostNotFoundError は投稿未検出エラーを生成する。
// 非公開投稿の閲覧権限がない場合もこのエラーを返し、存在を区別しない。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "content",
		Action:   "投稿IDを確認してください。",
	}
}

// NewTagNotFoundError はタグ未検出エラーを生成する。
func NewTagNotFoundError(tagID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたタグが見つかりません: %s", tagID),
		Category: "content",
		Action:   "タグIDを確認してください。",
	}
}

// NewUnauthorizedError は所有者以外による操作のエラーを生成する。
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", reason),
		Category: "auth",
		Action:   "自分が作成したリソースのみ操作できます。",
	}
}

// NewAuthRequiredError は未認証の呼び出し元に対するエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewValidationError は入力値不正のエラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewDuplicateTagError は同名タグが既に存在する場合のエラーを生成する。
func NewDuplicateTagError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateKey,
		Message:  fmt.Sprintf("同じ名前のタグが既に存在します: %s", name),
		Category: "validation",
		Action:   "既存のタグを使用してください。",
	}
}

// NewTagSlugConflictError は名前は異なるがスラッグが衝突する場合のエラーを生成する。
func NewTagSlugConflictError(name, slug string) *APIError {
	return &APIError{
		Code:     ErrCodeTagSlugConflict,
		Message:  fmt.Sprintf("タグ「%s」のスラッグ %q は既存のタグと重複しています", name, slug),
		Category: "validation",
		Action:   "既存のタグを使用するか、別の名前を指定してください。",
	}
}

// NewStorageFailureError はデータベースやアセットストアの障害を表すエラーを生成する。
// 原因はErrに保持し、レスポンスには含めない。
func NewStorageFailureError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  fmt.Sprintf("%sに失敗しました。", op),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewUploadRejectedError はアップロードされたファイルを受け付けられない場合のエラーを生成する。
func NewUploadRejectedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUploadRejected,
		Message:  fmt.Sprintf("ファイルをアップロードできません: %s", reason),
		Category: "validation",
		Action:   "5MB以下のJPEG、PNG、GIF、WebP画像を選択してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
