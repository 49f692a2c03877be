package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

const (
	refreshCookieName = "refresh_token"
	oauthStateCookie  = "oauth_state"
)

// AuthServiceInterface はブラウザ向け認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
	LoginWithGoogleToken(ctx context.Context, idToken string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, rawRefresh string) (*auth.LoginResult, error)
	Logout(ctx context.Context, claim *model.IdentityClaim, rawRefresh string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	TestLogin(ctx context.Context, email, displayName string) (*auth.LoginResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はGoogleフェデレーションログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		now:     time.Now,
	}
}

type idTokenRequest struct {
	IDToken string `json:"idToken"`
}

type testLoginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Invalid state parameter")
		return
	}
	h.clearCookie(w, oauthStateCookie)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	// 3. 認証処理
	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 4. Cookieを設定してフロントエンドにリダイレクト
	h.setSessionCookies(w, result)
	http.Redirect(w, r, h.config.FrontendURL, http.StatusFound)
}

// GoogleToken はフロントエンドが取得したGoogle IDトークンでログインする。
// POST /auth/google/token
func (h *AuthHandler) GoogleToken(w http.ResponseWriter, r *http.Request) {
	var req idTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	result, err := h.service.LoginWithGoogleToken(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookies(w, result)
	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// Refresh はrefresh_token Cookieでアクセストークンを再発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var raw string
	if c, err := r.Cookie(refreshCookieName); err == nil {
		raw = c.Value
	}

	result, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookies(w, result)
	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// Logout はアクセストークンを失効させ、認証Cookieをクリアする。
// POST /auth/logout
// 失効処理に失敗してもCookieはクリアする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claim, _ := middleware.IdentityFromContext(r.Context())

	var raw string
	if c, err := r.Cookie(refreshCookieName); err == nil {
		raw = c.Value
	}

	if err := h.service.Logout(r.Context(), claim, raw); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.clearCookie(w, middleware.AuthCookieName)
	h.clearCookie(w, refreshCookieName)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
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

// TestLogin は開発環境専用のログイン。
// POST /auth/test-login
func (h *AuthHandler) TestLogin(w http.ResponseWriter, r *http.Request) {
	var req testLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w)
		return
	}

	result, err := h.service.TestLogin(r.Context(), req.Email, req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setAccessCookie(w, result)
	writeJSON(w, http.StatusOK, toTokenResponse(result))
}

// setSessionCookies はアクセストークンとリフレッシュトークンのCookieを設定する。
func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, result *auth.LoginResult) {
	h.setAccessCookie(w, result)
	if result.RefreshToken == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    result.RefreshToken,
		Path:     "/auth",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.maxAge(result.RefreshExpiresAt),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, result *auth.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    result.AccessToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.accessMaxAge(result),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name == refreshCookieName {
		path = "/auth"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// accessMaxAge はアクセストークンCookieの秒数を返す。
// 発行時の有効期間が分かる場合はそれをそのまま使う。
func (h *AuthHandler) accessMaxAge(result *auth.LoginResult) int {
	if result.AccessTTL >= time.Second {
		return int(result.AccessTTL / time.Second)
	}
	return h.maxAge(result.AccessExpiresAt)
}

// maxAge は有効期限までの秒数を切り上げて返す。
// 発行側は時刻を秒単位に切り捨てるため、1秒未満の経過で1秒短くならないようにする。
func (h *AuthHandler) maxAge(expiresAt time.Time) int {
	remaining := expiresAt.Sub(h.now())
	secs := int(remaining / time.Second)
	if remaining%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		return 1
	}
	return secs
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
