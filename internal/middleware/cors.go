package middleware

import (
	"net/http"
	"strings"
)

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
	}, ", ")
	corsAllowHeaders = "Content-Type, " + csrfHeaderName
)

// corsPreflightMaxAge はプリフライト結果をブラウザがキャッシュできる秒数。
const corsPreflightMaxAge = "600"

// NewCORSMiddleware はフロントエンドのオリジンからのcredentials付きリクエストを許可する。
//
// Originヘッダーがallowedと一致した場合のみ許可ヘッダーを返す。
// 一致しないオリジンのリクエストもそのまま処理するが、ブラウザは結果を読めない。
// プリフライト（Access-Control-Request-Method付きのOPTIONS）は後段に渡さず204で応答する。
func NewCORSMiddleware(allowed string) func(next http.Handler) http.Handler {
	allowed = strings.TrimRight(allowed, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			matched := origin != "" && origin == allowed
			if matched {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if matched {
					h := w.Header()
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", corsPreflightMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
