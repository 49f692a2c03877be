package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

// APIKeyServiceInterface はAPIキーハンドラーが必要とするサービスインターフェース。
type APIKeyServiceInterface interface {
	CreateAPIKey(ctx context.Context, userID, name string, permissions []string, expiresAt *time.Time) (*auth.CreatedAPIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID string) error
	APIKeyPermissions(ctx context.Context, userID, keyID string) ([]string, error)
	ExchangeAPIKey(ctx context.Context, rawKey string) (*auth.APIKeyLogin, error)
}

// APIKeyHandler はAPIキー管理とトークン交換のHTTPハンドラー。
type APIKeyHandler struct {
	service APIKeyServiceInterface
}

// NewAPIKeyHandler はAPIKeyHandlerを生成する。
func NewAPIKeyHandler(service APIKeyServiceInterface) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
	// Permissions は "resource.action" 形式。省略時は実効権限を全て付与する。
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type apiKeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt"`
	Permissions []string   `json:"permissions"`
}

type createdAPIKeyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	Permissions []string   `json:"permissions"`
}

type exchangeAPIKeyRequest struct {
	Key string `json:"key"`
}

type apiKeyTokenResponse struct {
	AccessToken string      `json:"accessToken"`
	User        userSummary `json:"user"`
	Permissions []string    `json:"permissions"`
}

func toAPIKeyResponse(k *model.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:          k.ID,
		Name:        k.Name,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
		Permissions: permissionKeyList(k.Permissions),
	}
}

func permissionKeyList(perms []model.Permission) []string {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	return keys
}

// Create はAPIキーを作成する。生のキーはこのレスポンスでのみ返す。
// POST /auth/api-key
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	created, err := h.service.CreateAPIKey(r.Context(), userID, req.Name, req.Permissions, req.ExpiresAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	k := created.Key
	writeJSON(w, http.StatusCreated, createdAPIKeyResponse{
		ID:          k.ID,
		Name:        k.Name,
		Key:         created.RawKey,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		Permissions: permissionKeyList(k.Permissions),
	})
}

// List はユーザーの有効なAPIキーを新しい順で返す。
// GET /auth/api-key
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keys, err := h.service.ListAPIKeys(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, toAPIKeyResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke はAPIキーを無効化する。
// DELETE /auth/api-key/{id}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.service.RevokeAPIKey(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "API key revoked"})
}

// Permissions はAPIキーに付与された権限を返す。
// GET /auth/api-key/{id}/permissions
func (h *APIKeyHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	perms, err := h.service.APIKeyPermissions(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, permissionsResponse{Permissions: perms})
}

// Token はAPIキーを1時間有効のベアラートークンに交換する。
// POST /auth/api-key/token
func (h *APIKeyHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req exchangeAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	login, err := h.service.ExchangeAPIKey(r.Context(), req.Key)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, apiKeyTokenResponse{
		AccessToken: login.AccessToken,
		User:        toUserSummary(login.User),
		Permissions: login.Permissions,
	})
}
