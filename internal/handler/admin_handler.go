package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
)

// AdminServiceInterface は管理者向けハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Impersonate(ctx context.Context, adminID, targetID string) (*auth.Impersonation, error)
}

// AdminHandler は管理者向け操作のHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type impersonateResponse struct {
	Token       string      `json:"token"`
	User        userSummary `json:"user"`
	Permissions []string    `json:"permissions"`
}

// Impersonate は対象ユーザーとして振る舞うトークンを発行する。
// 権限ゲート(admin.impersonate)の内側にマウントする。
// POST /api/admin/user/{id}/impersonate
func (h *AdminHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	imp, err := h.service.Impersonate(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	perms := imp.Permissions
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, impersonateResponse{
		Token:       imp.AccessToken,
		User:        toUserSummary(imp.User),
		Permissions: perms,
	})
}
