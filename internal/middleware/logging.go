package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/blogman/internal/metrics"
)

// requestInfo は内側のミドルウェアが判明させた値をアクセスログへ戻す。
type requestInfo struct {
	userID string
}

var requestInfoContextKey = contextKey("request_info")

// noteUserID はセッションで解決したユーザーIDをアクセスログに載せる。
func noteUserID(r *http.Request, userID string) {
	if info, ok := r.Context().Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
}

// levelForStatus は5xxをERROR、4xxをWARNとして出力する。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとにアクセスログを1行出力し、
// ステータスコードをメトリクスに記録する。
//
// ログにはmethod、path、route（chiのルートパターン）、status、bytes、duration_ms、
// request_id、user_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger, recorder metrics.MetricsCollector) func(next http.Handler) http.Handler {
	recorder = metrics.OrNop(recorder)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			info := &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				attrs = append(attrs, slog.String("route", rctx.RoutePattern()))
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if info.userID != "" {
				attrs = append(attrs, slog.String("user_id", info.userID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(status), "http_request", attrs...)
			recorder.RecordHTTPStatus(status)
		})
	}
}
