package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// UserServiceInterface はUserHandlerが使う退会サービス。
type UserServiceInterface interface {
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はアカウント自体の操作を扱う。
type UserHandler struct {
	service UserServiceInterface
	cookies cookieJar
}

func NewUserHandler(service UserServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{service: service, cookies: newCookieJar(config)}
}

// Withdraw は DELETE /api/users/me を処理する。
// 投稿・プロフィール・セッション・ユーザーを削除し、セッションCookieを消す。
// タグは他のユーザーと共有するため残る。
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), caller.UserID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "account withdrawn", slog.String("user_id", caller.UserID))
	h.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}
