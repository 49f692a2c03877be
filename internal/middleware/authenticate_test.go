package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/letwinventory/internal/model"
)

// stubAuthenticate は受け取ったトークンを記録し、validだけを受理する。
func stubAuthenticate(seen *[]string) AuthenticateFunc {
	return func(_ context.Context, raw string) (*model.IdentityClaim, error) {
		*seen = append(*seen, raw)
		if raw == "valid" || raw == "cookie-valid" {
			return &model.IdentityClaim{Subject: "user-1", Email: "alice@example.com"}, nil
		}
		return nil, model.NewUnauthenticatedError("Invalid token")
	}
}

func captureIdentity(got **model.IdentityClaim) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claim, _ := IdentityFromContext(r.Context())
		*got = claim
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuthenticator_ValidToken_AttachesIdentity(t *testing.T) {
	var seen []string
	var got *model.IdentityClaim
	handler := NewBearerAuthenticator(stubAuthenticate(&seen))(captureIdentity(&got))

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer valid")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got == nil || got.Subject != "user-1" {
		t.Errorf("identity = %+v, want subject user-1", got)
	}
}

func TestBearerAuthenticator_IgnoresCookie(t *testing.T) {
	var seen []string
	handler := NewBearerAuthenticator(stubAuthenticate(&seen))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "cookie-valid"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(seen) != 0 {
		t.Errorf("authenticate should not be called, got %v", seen)
	}
}

func TestSessionAuthenticator_PrefersCookieOverHeader(t *testing.T) {
	var seen []string
	var got *model.IdentityClaim
	handler := NewSessionAuthenticator(stubAuthenticate(&seen))(captureIdentity(&got))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "cookie-valid"})
	req.Header.Set("Authorization", "Bearer valid")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if len(seen) != 1 || seen[0] != "cookie-valid" {
		t.Errorf("authenticated tokens = %v, want [cookie-valid]", seen)
	}
}

func TestSessionAuthenticator_FallsBackToHeader(t *testing.T) {
	var seen []string
	var got *model.IdentityClaim
	handler := NewSessionAuthenticator(stubAuthenticate(&seen))(captureIdentity(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer valid")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got == nil || got.Email != "alice@example.com" {
		t.Errorf("identity = %+v", got)
	}
}

func TestAuthenticator_Failures(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		authErr    error
		wantStatus int
		wantMsg    string
	}{
		{"no header", "", nil, http.StatusUnauthorized, "No token provided"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", nil, http.StatusUnauthorized, "No token provided"},
		{"empty bearer", "Bearer ", nil, http.StatusUnauthorized, "No token provided"},
		{"rejected", "Bearer bad", model.NewUnauthenticatedError("Invalid token"), http.StatusUnauthorized, "Invalid token"},
		{"inactive user", "Bearer bad", model.NewUnauthorizedError("User account is not active."), http.StatusUnauthorized, "User account is not active."},
		{"lookup failure", "Bearer bad", errors.New("db down"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticate := func(context.Context, string) (*model.IdentityClaim, error) {
				return nil, tt.authErr
			}
			handler := NewBearerAuthenticator(authenticate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", body.Error, tt.wantMsg)
			}
		})
	}
}

func TestAuthenticator_NilClaimWithoutError_Returns401(t *testing.T) {
	authenticate := func(context.Context, string) (*model.IdentityClaim, error) {
		return nil, nil
	}
	handler := NewBearerAuthenticator(authenticate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestBearerToken_CaseInsensitiveScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer  abc.def.ghi ")

	if got := BearerToken(req); got != "abc.def.ghi" {
		t.Errorf("BearerToken() = %q, want %q", got, "abc.def.ghi")
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	ctx := contextWithUserID(context.Background(), "user-42")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext() error = %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want %q", userID, "user-42")
	}

	if _, ok := IdentityFromContext(ContextWithIdentity(context.Background(), &model.IdentityClaim{})); ok {
		t.Error("claim without subject must not count as an identity")
	}
}

func TestOptionalSessionAuthenticator(t *testing.T) {
	tests := []struct {
		name        string
		cookie      string
		wantSubject string
	}{
		{name: "有効なトークンはクレームを付与", cookie: "cookie-valid", wantSubject: "user-1"},
		{name: "無効なトークンでも通過", cookie: "expired"},
		{name: "トークン無しでも通過"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			var got *model.IdentityClaim
			handler := NewOptionalSessionAuthenticator(stubAuthenticate(&seen))(captureIdentity(&got))

			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
			switch {
			case tt.wantSubject == "" && got != nil:
				t.Errorf("identity = %+v, want none", got)
			case tt.wantSubject != "" && (got == nil || got.Subject != tt.wantSubject):
				t.Errorf("identity = %+v, want subject %s", got, tt.wantSubject)
			}
			if tt.cookie == "" && len(seen) != 0 {
				t.Errorf("authenticate called %d times without token", len(seen))
			}
		})
	}
}
