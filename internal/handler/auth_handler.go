// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogman/internal/auth"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// AuthServiceInterface はAuthHandlerが使う認証サービス。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig はログイン後の遷移先とCookie属性。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// AuthHandler はGoogleログインのフローとログイン中ユーザーの取得を扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	cookies cookieJar
}

func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config, cookies: newCookieJar(config)}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

var (
	errInvalidOAuthState = &model.APIError{
		Code:     "INVALID_OAUTH_STATE",
		Message:  "認証リクエストが無効です。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
	errMissingAuthCode = &model.APIError{
		Code:     "MISSING_AUTH_CODE",
		Message:  "認可コードがありません。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
	errAuthFailed = &model.APIError{
		Code:     "AUTH_FAILED",
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
)

// Login は GET /auth/google/login を処理する。
// stateをCookieに保存してGoogleの同意画面へリダイレクトする。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := newOAuthState()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.cookies.setState(w, state)
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback は GET /auth/google/callback を処理する。
// stateの照合後に認可コードをセッションに交換し、BaseURLへ戻す。
// IdPとの通信に失敗した場合は502を返す。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !h.stateMatches(r, q.Get("state")) {
		slog.WarnContext(r.Context(), "oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidOAuthState)
		return
	}
	h.cookies.clearState(w)

	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errMissingAuthCode)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.ErrorContext(r.Context(), "oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, errAuthFailed)
		return
	}

	h.cookies.setSession(w, session.ID, h.config.SessionMaxAge)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) stateMatches(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

// Logout は POST /auth/logout を処理する。
// セッションの削除に失敗してもCookieは消してBaseURLへ戻す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if err := h.service.Logout(r.Context(), c.Value); err != nil {
			slog.ErrorContext(r.Context(), "failed to delete session", slog.String("error", err.Error()))
		}
	}
	h.cookies.clearSession(w)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me は GET /auth/me を処理する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), c.Value)
	switch {
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionRequired):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return
	case err != nil:
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}
