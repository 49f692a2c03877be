package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/letwinventory/internal/model"
)

// AuthCookieName はフェデレーションログインのセッショントークンを保持するCookieの名前。
const AuthCookieName = "auth_token"

// AuthenticateFunc は生のトークンを検証し、検証済みクレームを返す。
// 失敗時は*model.APIErrorを返すことが期待される。
type AuthenticateFunc func(ctx context.Context, raw string) (*model.IdentityClaim, error)

// NewBearerAuthenticator はパスワードログイン系のAPI向けミドルウェアを返す。
// Authorizationヘッダーのベアラートークンのみを受け付ける。
func NewBearerAuthenticator(authenticate AuthenticateFunc) func(next http.Handler) http.Handler {
	return newAuthenticator(authenticate, BearerToken)
}

// NewSessionAuthenticator はフェデレーションログイン系のAPI向けミドルウェアを返す。
// auth_token Cookieを優先し、無ければAuthorizationヘッダーを使用する。
func NewSessionAuthenticator(authenticate AuthenticateFunc) func(next http.Handler) http.Handler {
	return newAuthenticator(authenticate, SessionToken)
}

func newAuthenticator(authenticate AuthenticateFunc, extract func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extract(r)
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claim, err := authenticate(r.Context(), raw)
			if err != nil {
				WriteAPIError(w, err)
				return
			}
			if claim == nil || claim.Subject == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			recordIdentity(r.Context(), claim.Subject, tokenSource(r, raw))
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), claim)))
		})
	}
}

// NewOptionalSessionAuthenticator はトークンが有効な場合のみクレームを付与し、
// 無い場合や無効な場合もそのまま次のハンドラーに進むミドルウェアを返す。
// 期限切れのトークンでもログアウトできるようにするために使う。
func NewOptionalSessionAuthenticator(authenticate AuthenticateFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := SessionToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			claim, err := authenticate(r.Context(), raw)
			if err != nil || claim == nil || claim.Subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			recordIdentity(r.Context(), claim.Subject, tokenSource(r, raw))
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), claim)))
		})
	}
}

// BearerToken はAuthorizationヘッダーからベアラートークンを取り出す。
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

// tokenSource はrawがAuthorizationヘッダーとCookieのどちらから来たかを返す。
func tokenSource(r *http.Request, raw string) string {
	if raw == BearerToken(r) {
		return "bearer"
	}
	return "cookie"
}

// SessionToken はauth_token Cookie、Authorizationヘッダーの順にトークンを取り出す。
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(AuthCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return BearerToken(r)
}
