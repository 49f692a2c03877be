package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

// UserServiceInterface はパスワードログイン系ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	PasswordLogin(ctx context.Context, username, password string) (*auth.LoginResult, error)
	CheckToken(ctx context.Context, raw string) (*auth.TokenCheck, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	Logout(ctx context.Context, claim *model.IdentityClaim, rawRefresh string) error
}

// UserHandler はユーザー名・パスワードによる認証のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type passwordLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type checkTokenResponse struct {
	Valid          bool         `json:"valid"`
	User           *userSummary `json:"user,omitempty"`
	ImpersonatedBy string       `json:"impersonatedBy,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// Login はユーザー名とパスワードで短期トークンを発行する。
// POST /auth/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	result, err := h.service.PasswordLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// Check はベアラートークンの有効性を返す。
// GET /auth/user/check
func (h *UserHandler) Check(w http.ResponseWriter, r *http.Request) {
	raw := middleware.BearerToken(r)
	if raw == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "No token provided")
		return
	}

	check, err := h.service.CheckToken(r.Context(), raw)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, apiErr.HTTPStatus(), checkTokenResponse{Valid: false, Error: apiErr.Message})
		return
	}

	summary := toUserSummary(check.User)
	writeJSON(w, http.StatusOK, checkTokenResponse{
		Valid:          true,
		User:           &summary,
		ImpersonatedBy: check.ImpersonatedBy,
	})
}

// Get はログイン中のユーザー情報を返す。
// GET /auth/user
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserProfile(user))
}

// Logout は提示されたベアラートークンを失効させる。
// POST /auth/user/logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claim, ""); err != nil {
		slog.Error("failed to revoke token on logout",
			slog.String("user_id", claim.Subject),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
