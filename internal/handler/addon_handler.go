package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

// AddonServiceInterface はWorkspaceアドオン向けハンドラーが必要とするサービスインターフェース。
type AddonServiceInterface interface {
	ExchangeAddonToken(ctx context.Context, idToken string) (*auth.LoginResult, error)
	RevokeToken(ctx context.Context, claim *model.IdentityClaim) error
}

// AddonHandler はアドオンのトークン交換と失効を扱う。
type AddonHandler struct {
	service AddonServiceInterface
}

// NewAddonHandler はAddonHandlerを生成する。
func NewAddonHandler(service AddonServiceInterface) *AddonHandler {
	return &AddonHandler{service: service}
}

// Exchange はGoogle IDトークンを長期セッショントークンに交換する。
// POST /auth/addon/exchange
func (h *AddonHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req idTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	result, err := h.service.ExchangeAddonToken(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// Revoke は提示されたセッショントークンを失効させる。
// POST /auth/addon/revoke
func (h *AddonHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.service.RevokeToken(r.Context(), claim); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
