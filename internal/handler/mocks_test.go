package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/letwinventory/internal/auth"
	"github.com/hitoshi/letwinventory/internal/middleware"
	"github.com/hitoshi/letwinventory/internal/model"
)

// --- モック定義 ---

// mockAuthService はハンドラーが使う全サービスインターフェースのモック実装。
type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.LoginResult, error)
	googleTokenFn    func(ctx context.Context, idToken string) (*auth.LoginResult, error)
	refreshFn        func(ctx context.Context, raw string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, claim *model.IdentityClaim, raw string) error
	currentUserFn    func(ctx context.Context, userID string) (*model.User, error)
	testLoginFn      func(ctx context.Context, email, displayName string) (*auth.LoginResult, error)
	exchangeFn       func(ctx context.Context, idToken string) (*auth.LoginResult, error)
	revokeFn         func(ctx context.Context, claim *model.IdentityClaim) error
	passwordLoginFn  func(ctx context.Context, username, password string) (*auth.LoginResult, error)
	checkTokenFn     func(ctx context.Context, raw string) (*auth.TokenCheck, error)
	permissionsFn    func(ctx context.Context, userID string) ([]string, error)

	createAPIKeyFn      func(ctx context.Context, userID, name string, permissions []string, expiresAt *time.Time) (*auth.CreatedAPIKey, error)
	listAPIKeysFn       func(ctx context.Context, userID string) ([]*model.APIKey, error)
	revokeAPIKeyFn      func(ctx context.Context, userID, keyID string) error
	apiKeyPermissionsFn func(ctx context.Context, userID, keyID string) ([]string, error)
	exchangeAPIKeyFn    func(ctx context.Context, rawKey string) (*auth.APIKeyLogin, error)
	impersonateFn       func(ctx context.Context, adminID, targetID string) (*auth.Impersonation, error)
}

var (
	_ AuthServiceInterface   = (*mockAuthService)(nil)
	_ AddonServiceInterface  = (*mockAuthService)(nil)
	_ UserServiceInterface   = (*mockAuthService)(nil)
	_ PermissionLister       = (*mockAuthService)(nil)
	_ APIKeyServiceInterface = (*mockAuthService)(nil)
	_ AdminServiceInterface  = (*mockAuthService)(nil)
)

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) LoginWithGoogleToken(ctx context.Context, idToken string) (*auth.LoginResult, error) {
	if m.googleTokenFn != nil {
		return m.googleTokenFn(ctx, idToken)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) Refresh(ctx context.Context, raw string) (*auth.LoginResult, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, raw)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) Logout(ctx context.Context, claim *model.IdentityClaim, raw string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, claim, raw)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, model.NewUnauthenticatedError("User not found")
}

func (m *mockAuthService) TestLogin(ctx context.Context, email, displayName string) (*auth.LoginResult, error) {
	if m.testLoginFn != nil {
		return m.testLoginFn(ctx, email, displayName)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) ExchangeAddonToken(ctx context.Context, idToken string) (*auth.LoginResult, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, idToken)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) RevokeToken(ctx context.Context, claim *model.IdentityClaim) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, claim)
	}
	return nil
}

func (m *mockAuthService) PasswordLogin(ctx context.Context, username, password string) (*auth.LoginResult, error) {
	if m.passwordLoginFn != nil {
		return m.passwordLoginFn(ctx, username, password)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) CheckToken(ctx context.Context, raw string) (*auth.TokenCheck, error) {
	if m.checkTokenFn != nil {
		return m.checkTokenFn(ctx, raw)
	}
	return nil, model.NewUnauthenticatedError("Invalid token")
}

func (m *mockAuthService) Permissions(ctx context.Context, userID string) ([]string, error) {
	if m.permissionsFn != nil {
		return m.permissionsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAuthService) CreateAPIKey(ctx context.Context, userID, name string, permissions []string, expiresAt *time.Time) (*auth.CreatedAPIKey, error) {
	if m.createAPIKeyFn != nil {
		return m.createAPIKeyFn(ctx, userID, name, permissions, expiresAt)
	}
	return nil, model.NewInternalError("not configured")
}

func (m *mockAuthService) ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error) {
	if m.listAPIKeysFn != nil {
		return m.listAPIKeysFn(ctx, userID)
	}
	return []*model.APIKey{}, nil
}

func (m *mockAuthService) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	if m.revokeAPIKeyFn != nil {
		return m.revokeAPIKeyFn(ctx, userID, keyID)
	}
	return model.NewNotFoundError("API key not found")
}

func (m *mockAuthService) APIKeyPermissions(ctx context.Context, userID, keyID string) ([]string, error) {
	if m.apiKeyPermissionsFn != nil {
		return m.apiKeyPermissionsFn(ctx, userID, keyID)
	}
	return nil, model.NewNotFoundError("API key not found")
}

func (m *mockAuthService) ExchangeAPIKey(ctx context.Context, rawKey string) (*auth.APIKeyLogin, error) {
	if m.exchangeAPIKeyFn != nil {
		return m.exchangeAPIKeyFn(ctx, rawKey)
	}
	return nil, model.NewUnauthenticatedError("Invalid API key")
}

func (m *mockAuthService) Impersonate(ctx context.Context, adminID, targetID string) (*auth.Impersonation, error) {
	if m.impersonateFn != nil {
		return m.impersonateFn(ctx, adminID, targetID)
	}
	return nil, model.NewInternalError("not configured")
}

// --- ヘルパー ---

var handlerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testUser() *model.User {
	return &model.User{
		ID:          "user-1",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		PhotoURL:    "https://example.com/alice.png",
		Active:      true,
	}
}

// browserLogin はブラウザ向けフローのログイン結果を返す。
func browserLogin() *auth.LoginResult {
	return &auth.LoginResult{
		User:             testUser(),
		AccessToken:      "access-token",
		AccessExpiresAt:  handlerNow.Add(time.Hour),
		RefreshToken:     "refresh-token",
		RefreshExpiresAt: handlerNow.Add(7 * 24 * time.Hour),
	}
}

func newTestAuthHandler(svc AuthServiceInterface, secure bool) *AuthHandler {
	h := NewAuthHandler(svc, AuthHandlerConfig{
		FrontendURL:  "http://localhost:4200",
		CookieSecure: secure,
	})
	h.now = func() time.Time { return handlerNow }
	return h
}

// withIdentity はリクエストコンテキストに検証済みクレームを設定する。
func withIdentity(r *http.Request, claim *model.IdentityClaim) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), claim))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Error
}
