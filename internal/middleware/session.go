// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

const sessionCookieName = "session_id"

type contextKey string

var userIDContextKey = contextKey("user_id")

// errNoSession はCookieがないか、セッションが無効であることを表す。
var errNoSession = errors.New("no valid session")

// SessionFinder はセッションIDからセッションを引く。
// 期限切れのセッションにはnil, nilを返す。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はセッションCookieを必須とするミドルウェアを返す。
// 無効なセッションには401を、セッションストアの障害には500を返す。
func NewSessionMiddleware(sessions SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolveSession(r, sessions)
			switch {
			case errors.Is(err, errNoSession):
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			case err != nil:
				slog.ErrorContext(r.Context(), "session lookup failed", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			next.ServeHTTP(w, withUser(r, userID))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあれば呼び出し元を所有者として扱い、
// なければ匿名のまま後段に渡す。下書きを所有者にだけ見せるルートで使う。
func NewOptionalSessionMiddleware(sessions SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolveSession(r, sessions)
			if err == nil {
				r = withUser(r, userID)
			} else if !errors.Is(err, errNoSession) {
				slog.WarnContext(r.Context(), "session lookup failed, serving anonymously", slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withUser(r *http.Request, userID string) *http.Request {
	noteUserID(r, userID)
	return r.WithContext(ContextWithUserID(r.Context(), userID))
}

func resolveSession(r *http.Request, sessions SessionFinder) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoSession
	}

	session, err := sessions.FindByID(r.Context(), cookie.Value)
	if err != nil {
		return "", err
	}
	if session == nil || !session.ExpiresAt.After(time.Now()) {
		return "", errNoSession
	}
	return session.UserID, nil
}

// UserIDFromContext はセッションミドルウェアが注入したユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", errNoSession
	}
	return userID, nil
}

// CallerFromContext はリクエストの呼び出し元を返す。セッションがなければ匿名。
func CallerFromContext(ctx context.Context) model.Caller {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return model.Anonymous()
	}
	return model.AsUser(userID)
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
