package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

// ダブルサブミット方式。フロントエンドがCookieを読んでヘッダーに載せるため、CookieはHttpOnlyにしない。
const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenBytes = 32
	csrfTokenTTL   = 24 * time.Hour
)

// CSRFConfig はCSRFトークンCookieの属性。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

var errCSRFRejected = &model.APIError{
	Code:     "CSRF_TOKEN_INVALID",
	Message:  "CSRFトークンの検証に失敗しました。",
	Category: "auth",
	Action:   "ページを再読み込みしてから再度お試しください。",
}

// NewCSRFMiddleware はGET/HEAD/OPTIONS以外のリクエストで
// csrf_token CookieとX-CSRF-Tokenヘッダーの一致を要求する。
// 安全なメソッドではCookieがなければ発行する。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if cookieToken(r) == "" {
					if _, err := config.issue(w); err != nil {
						slog.ErrorContext(r.Context(), "failed to issue CSRF token", slog.String("error", err.Error()))
					}
				}
			default:
				if reason := checkDoubleSubmit(r); reason != "" {
					slog.WarnContext(r.Context(), "CSRF check failed",
						slog.String("reason", reason),
						slog.String("route", r.Method+" "+r.URL.Path),
					)
					WriteErrorResponse(w, http.StatusForbidden, errCSRFRejected)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler は GET /api/csrf-token を処理する。
// Cookieのトークンを返し、なければ発行して返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieToken(r)
		if token == "" {
			var err error
			if token, err = config.issue(w); err != nil {
				slog.ErrorContext(r.Context(), "failed to issue CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{token})
	})
}

func cookieToken(r *http.Request) string {
	c, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// checkDoubleSubmit は拒否理由を返す。一致すれば空文字列。
func checkDoubleSubmit(r *http.Request) string {
	cookie := cookieToken(r)
	if cookie == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}

func (c CSRFConfig) issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   int(csrfTokenTTL / time.Second),
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}
