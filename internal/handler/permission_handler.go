package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/letwinventory/internal/middleware"
)

// PermissionLister はユーザーの実効権限一覧を返すインターフェース。
type PermissionLister interface {
	Permissions(ctx context.Context, userID string) ([]string, error)
}

type permissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// PermissionHandler は権限照会のHTTPハンドラー。
type PermissionHandler struct {
	lister PermissionLister
}

// NewPermissionHandler はPermissionHandlerを生成する。
func NewPermissionHandler(lister PermissionLister) *PermissionHandler {
	return &PermissionHandler{lister: lister}
}

// Mine はログイン中のユーザーの権限を"resource.action"形式で返す。
// GET /api/permissions/me
func (h *PermissionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	perms, err := h.lister.Permissions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}

	writeJSON(w, http.StatusOK, permissionsResponse{Permissions: perms})
}
