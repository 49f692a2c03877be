package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/letwinventory/internal/model"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なエンドポイント。ゼロ値の場合はGoogleの本番エンドポイント。
	Endpoint oauth2.Endpoint
}

// IDTokenVerifier はIDトークンを検証する。*GoogleTokenVerifierが実装する。
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw, audience string) (*model.IdentityClaim, error)
}

// GoogleOAuthProvider はGoogle OAuth 2.0 / OpenID Connectの認可コードフローを提供する。
// ユーザー情報はトークンレスポンスのid_tokenから取り出し、署名を検証して使用する。
type GoogleOAuthProvider struct {
	config   *oauth2.Config
	idTokens IDTokenVerifier
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig, idTokens IDTokenVerifier) *GoogleOAuthProvider {
	endpoint := config.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &GoogleOAuthProvider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		idTokens: idTokens,
	}
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode は認可コードをトークンに交換し、id_tokenから検証済みのクレームを返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.IdentityClaim, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("id_token missing from token response")
	}

	claim, err := p.idTokens.Verify(ctx, rawIDToken, p.config.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	return claim, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
