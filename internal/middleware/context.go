// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/letwinventory/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに検証済みクレームを格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityFromContext はリクエストコンテキストから検証済みクレームを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.IdentityClaim, bool) {
	claim, ok := ctx.Value(identityContextKey).(*model.IdentityClaim)
	if !ok || claim == nil || claim.Subject == "" {
		return nil, false
	}
	return claim, true
}

// ContextWithIdentity はコンテキストに検証済みクレームを注入する。
func ContextWithIdentity(ctx context.Context, claim *model.IdentityClaim) context.Context {
	return context.WithValue(ctx, identityContextKey, claim)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	claim, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claim.Subject, nil
}
