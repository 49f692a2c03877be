package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/idtoken"

	"github.com/hitoshi/letwinventory/internal/model"
)

// GoogleIssuerDomain はGoogle IDトークンのissクレームに含まれるべきドメイン。
const GoogleIssuerDomain = "accounts.google.com"

// PayloadValidator はIDトークンの署名と有効期限を検証する。
// 本番では*idtoken.Validatorを使用し、公開鍵のキャッシュはライブラリに任せる。
type PayloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleTokenVerifier はGoogle IDトークンを検証し、IdentityClaimに正規化する。
type GoogleTokenVerifier struct {
	validator PayloadValidator
}

// NewGoogleTokenVerifier はGoogleTokenVerifierを生成する。
func NewGoogleTokenVerifier(validator PayloadValidator) *GoogleTokenVerifier {
	return &GoogleTokenVerifier{validator: validator}
}

// NewDefaultGoogleTokenVerifier はGoogleの公開鍵で検証する本番用のVerifierを生成する。
func NewDefaultGoogleTokenVerifier(ctx context.Context) (*GoogleTokenVerifier, error) {
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create id token validator: %w", err)
	}
	return NewGoogleTokenVerifier(v), nil
}

// Verify はIDトークンを検証する。audienceが空の場合はaudience検証を省略する。
// エラーはErrProviderTokenRejected、ErrIssuerMismatch、ErrProviderUnavailableのいずれかでラップされる。
func (v *GoogleTokenVerifier) Verify(ctx context.Context, raw, audience string) (*model.IdentityClaim, error) {
	payload, err := v.validator.Validate(ctx, raw, audience)
	if err != nil {
		if IsRejectedProviderToken(err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderTokenRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if !strings.Contains(payload.Issuer, GoogleIssuerDomain) {
		return nil, fmt.Errorf("%w: %q", ErrIssuerMismatch, payload.Issuer)
	}

	return &model.IdentityClaim{
		Subject:     payload.Subject,
		DisplayName: stringClaim(payload.Claims, "name"),
		Email:       stringClaim(payload.Claims, "email"),
		PhotoURL:    stringClaim(payload.Claims, "picture"),
		Issuer:      payload.Issuer,
		Audience:    payload.Audience,
		IssuedAt:    time.Unix(payload.IssuedAt, 0).UTC(),
		ExpiresAt:   time.Unix(payload.Expires, 0).UTC(),

		EmailVerified: boolClaim(payload.Claims, "email_verified"),
	}, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// boolClaim は真偽値のクレームを読む。文字列の"true"も受け付ける。
func boolClaim(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
