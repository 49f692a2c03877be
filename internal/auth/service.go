// Package auth は認証フロー（Google OAuth、アドオンのトークン交換、パスワードログイン）と
// トークン検証を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/letwinventory/internal/model"
	"github.com/hitoshi/letwinventory/internal/repository"
	"github.com/hitoshi/letwinventory/internal/security"
	"github.com/hitoshi/letwinventory/internal/token"
)

// ログイン方式。メトリクスのラベルに使用する。
const (
	MethodGoogle   = "google"
	MethodIDToken  = "google_id_token"
	MethodAddon    = "addon"
	MethodPassword = "password"
	MethodRefresh  = "refresh"
	MethodTest     = "test"
	MethodAPIKey   = "api_key"
)

// ユーザーに返すエラーメッセージ。
const (
	msgIDTokenRequired      = "idToken is required"
	msgInvalidIssuer        = "Invalid token issuer"
	msgEmailNotFound        = "Email not found in token"
	msgEmailNotVerified     = "Email address is not verified"
	msgUserNotFound         = "User not found. Please sign up first."
	msgUserInactive         = "User account is not active."
	msgInvalidGoogleToken   = "Invalid or expired Google token"
	msgAuthFailed           = "Authentication failed"
	msgMissingCredentials   = "Request is missing username or password"
	msgBadCredentials       = "Username or password is incorrect"
	msgInvalidToken         = "Invalid token"
	msgNoRefreshToken       = "No refresh token provided"
	msgInvalidRefreshToken  = "Invalid refresh token"
	msgRefreshTokenExpired  = "Refresh token expired"
	msgRefreshUserInactive  = "User is not active"
	msgEmailRequired        = "email is required"
	msgTokenNotRevocable    = "Token cannot be revoked"
	msgInternalServerError  = "Internal server error"
	msgPermissionListFailed = "Permission check failed"

	msgCannotImpersonateSelf = "Cannot impersonate yourself"
	msgImpersonateNotFound   = "User not found"
	msgImpersonateInactive   = "Cannot impersonate an inactive user"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、検証済みのクレームを返す。
	ExchangeCode(ctx context.Context, code string) (*model.IdentityClaim, error)
}

// TokenVerifier はServiceが使用するトークン検証経路。*Verifierが実装する。
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*model.IdentityClaim, error)
	VerifySession(ctx context.Context, raw string) (*model.IdentityClaim, error)
	VerifyProvider(ctx context.Context, raw, audience string) (*model.IdentityClaim, error)
}

// TokenIssuer はセッショントークンを発行する。*token.Issuerが実装する。
type TokenIssuer interface {
	Issue(identity token.Identity, variant token.Variant) (string, time.Time, error)
	TTL(variant token.Variant) time.Duration
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLogin(method, outcome string)
}

type nopLoginRecorder struct{}

func (nopLoginRecorder) RecordLogin(string, string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// GoogleClientID は対話フローで受け付けるIDトークンのaudience。
	GoogleClientID  string
	RefreshTokenTTL time.Duration
}

// Dependencies はServiceが利用するコンポーネント。
type Dependencies struct {
	OAuth         OAuthProvider
	Verifier      TokenVerifier
	Issuer        TokenIssuer
	Users         repository.UserRepository
	Grants        repository.GrantRepository
	RefreshTokens repository.RefreshTokenRepository
	Revocations   repository.RevocationRepository
	APIKeys       repository.APIKeyRepository
	Sanitizer     security.ProfileSanitizer
	Recorder      LoginRecorder
}

// LoginResult はログイン成功時に発行したクレデンシャル。
type LoginResult struct {
	User            *model.User
	AccessToken     string
	AccessExpiresAt time.Time
	// AccessTTL は発行したトークンの有効期間。Cookieのmax-ageに使う。
	AccessTTL time.Duration

	// RefreshToken はブラウザ向けフローでのみ発行される生のトークン値。
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	deps   Dependencies
	config ServiceConfig
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Dependencies, config ServiceConfig) *Service {
	if deps.Recorder == nil {
		deps.Recorder = nopLoginRecorder{}
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewProfileSanitizer()
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &Service{
		deps:   deps,
		config: config,
		now:    time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.deps.OAuth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、短期トークンとリフレッシュトークンを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	claim, err := s.deps.OAuth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodGoogle, "failure")
		return nil, model.NewUnauthorizedError(msgAuthFailed)
	}

	return s.completeFederatedLogin(ctx, claim, MethodGoogle)
}

// LoginWithGoogleToken はフロントエンドが取得したGoogle IDトークンでログインする。
// audienceはOAuthクライアントIDで検証する。
func (s *Service) LoginWithGoogleToken(ctx context.Context, idToken string) (*LoginResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, model.NewBadRequestError(msgIDTokenRequired)
	}

	claim, err := s.deps.Verifier.VerifyProvider(ctx, idToken, s.config.GoogleClientID)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodIDToken, "failure")
		return nil, providerError(err)
	}

	return s.completeFederatedLogin(ctx, claim, MethodIDToken)
}

// ExchangeAddonToken はWorkspaceアドオンのGoogle IDトークンを長期セッショントークンに交換する。
// アドオンのトークンはスクリプト側のaudienceを持つため、audienceは検証しない。
// ユーザーの自動作成は行わない。
func (s *Service) ExchangeAddonToken(ctx context.Context, idToken string) (*LoginResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, model.NewBadRequestError(msgIDTokenRequired)
	}

	claim, err := s.deps.Verifier.VerifyProvider(ctx, idToken, "")
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodAddon, "failure")
		return nil, providerError(err)
	}

	if claim.Email == "" {
		s.deps.Recorder.RecordLogin(MethodAddon, "failure")
		return nil, model.NewUnauthorizedError(msgEmailNotFound)
	}
	if !claim.EmailVerified {
		s.deps.Recorder.RecordLogin(MethodAddon, "failure")
		return nil, model.NewUnauthorizedError(msgEmailNotVerified)
	}

	user, err := s.deps.Users.FindByEmail(ctx, claim.Email)
	if err != nil {
		slog.Error("failed to find user for addon exchange", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodAddon, "error")
		return nil, model.NewInternalError(msgAuthFailed)
	}
	if user == nil {
		s.deps.Recorder.RecordLogin(MethodAddon, "failure")
		return nil, model.NewUnauthorizedError(msgUserNotFound)
	}
	if !user.Active {
		s.deps.Recorder.RecordLogin(MethodAddon, "failure")
		return nil, model.NewUnauthorizedError(msgUserInactive)
	}

	result, err := s.issueAccess(user, token.VariantLong)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodAddon, "error")
		return nil, err
	}

	slog.Info("addon token issued", slog.String("user_id", user.ID))
	s.deps.Recorder.RecordLogin(MethodAddon, "success")
	return result, nil
}

// PasswordLogin はユーザー名とパスワードでログインし、短期トークンを発行する。
func (s *Service) PasswordLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, model.NewBadRequestError(msgMissingCredentials)
	}

	user, err := s.deps.Users.FindByUsername(ctx, username)
	if err != nil {
		slog.Error("failed to find user for password login", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodPassword, "error")
		return nil, model.NewInternalError(msgAuthFailed)
	}
	if user == nil || !user.Active || !VerifyPassword(user.PasswordHash, password) {
		s.deps.Recorder.RecordLogin(MethodPassword, "failure")
		return nil, model.NewUnauthorizedError(msgBadCredentials)
	}

	result, err := s.issueAccess(user, token.VariantShort)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodPassword, "error")
		return nil, err
	}

	s.deps.Recorder.RecordLogin(MethodPassword, "success")
	return result, nil
}

// AuthenticateBearer はパスワードログイン系のベアラートークンを検証する。
// セッション経路のみを使用し、ユーザーが存在して有効であることも確認する。
func (s *Service) AuthenticateBearer(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	claim, err := s.deps.Verifier.VerifySession(ctx, raw)
	if err != nil {
		return nil, model.NewUnauthenticatedError(msgInvalidToken)
	}

	if _, err := s.activeUser(ctx, claim.Subject); err != nil {
		return nil, err
	}
	return claim, nil
}

// AuthenticateFederated はフェデレーションログイン系のトークンを2経路で検証する。
// Google IDトークンで認証された場合は、subjectをアプリケーションのユーザーIDに置き換える。
// メールアドレスでの照合はGoogleが確認済みのアドレスに限る。
func (s *Service) AuthenticateFederated(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	claim, err := s.deps.Verifier.Verify(ctx, raw)
	if err != nil {
		return nil, model.NewUnauthenticatedError(msgInvalidToken)
	}

	if claim.Issuer == token.IssuerName {
		if _, err := s.activeUser(ctx, claim.Subject); err != nil {
			return nil, err
		}
		return claim, nil
	}

	user, err := s.deps.Users.FindByGoogleID(ctx, claim.Subject)
	if err == nil && user == nil && claim.Email != "" && claim.EmailVerified {
		user, err = s.deps.Users.FindByEmail(ctx, claim.Email)
	}
	if err != nil {
		slog.Error("failed to resolve federated user", slog.String("error", err.Error()))
		return nil, model.NewInternalError(msgAuthFailed)
	}
	if user == nil || !user.Active {
		return nil, model.NewUnauthenticatedError(msgInvalidToken)
	}

	resolved := *claim
	resolved.Subject = user.ID
	resolved.Email = user.Email
	resolved.DisplayName = user.DisplayName
	resolved.PhotoURL = user.PhotoURL
	return &resolved, nil
}

// TokenCheck はCheckTokenの結果。
type TokenCheck struct {
	User *model.User
	// ImpersonatedBy は代理ログインのトークンの場合、発行した管理者のユーザーID。
	ImpersonatedBy string
}

// CheckToken はトークンの有効性を確認し、対応するユーザーを返す。
func (s *Service) CheckToken(ctx context.Context, raw string) (*TokenCheck, error) {
	claim, err := s.deps.Verifier.VerifySession(ctx, raw)
	if err != nil {
		return nil, model.NewUnauthenticatedError(msgInvalidToken)
	}
	user, err := s.activeUser(ctx, claim.Subject)
	if err != nil {
		return nil, err
	}
	return &TokenCheck{User: user, ImpersonatedBy: claim.ImpersonatedBy}, nil
}

// Impersonation は代理ログインの結果。
type Impersonation struct {
	*LoginResult
	Permissions []string
}

// Impersonate は管理者adminIDが対象ユーザーとして振る舞う短期トークンを発行する。
// トークンにはimpersonatedByクレームとして管理者のIDを記録する。
func (s *Service) Impersonate(ctx context.Context, adminID, targetID string) (*Impersonation, error) {
	if adminID == targetID {
		return nil, model.NewBadRequestError(msgCannotImpersonateSelf)
	}
	if _, err := uuid.Parse(targetID); err != nil {
		return nil, model.NewNotFoundError(msgImpersonateNotFound)
	}

	target, err := s.deps.Users.FindByID(ctx, targetID)
	if err != nil {
		slog.Error("failed to find impersonation target",
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if target == nil {
		return nil, model.NewNotFoundError(msgImpersonateNotFound)
	}
	if !target.Active {
		return nil, model.NewBadRequestError(msgImpersonateInactive)
	}

	perms, err := s.Permissions(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.issueAccessAs(target, token.VariantShort, adminID)
	if err != nil {
		return nil, err
	}

	slog.Warn("admin impersonation",
		slog.String("admin_id", adminID),
		slog.String("target_id", target.ID),
	)
	return &Impersonation{LoginResult: result, Permissions: perms}, nil
}

// Refresh はリフレッシュトークンをローテーションし、新しい短期トークンを発行する。
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*LoginResult, error) {
	if rawRefresh == "" {
		return nil, model.NewUnauthenticatedError(msgNoRefreshToken)
	}

	stored, err := s.deps.RefreshTokens.FindActiveByHash(ctx, hashRefreshToken(rawRefresh))
	if err != nil {
		slog.Error("failed to find refresh token", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodRefresh, "error")
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if stored == nil {
		s.deps.Recorder.RecordLogin(MethodRefresh, "failure")
		return nil, model.NewUnauthenticatedError(msgInvalidRefreshToken)
	}

	if !s.now().Before(stored.ExpiresAt) {
		if err := s.deps.RefreshTokens.Deactivate(ctx, stored.ID); err != nil {
			slog.Warn("failed to deactivate expired refresh token", slog.String("error", err.Error()))
		}
		s.deps.Recorder.RecordLogin(MethodRefresh, "failure")
		return nil, model.NewUnauthenticatedError(msgRefreshTokenExpired)
	}

	user, err := s.deps.Users.FindByID(ctx, stored.UserID)
	if err != nil {
		slog.Error("failed to find user for refresh", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodRefresh, "error")
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if user == nil || !user.Active {
		s.deps.Recorder.RecordLogin(MethodRefresh, "failure")
		return nil, model.NewUnauthenticatedError(msgRefreshUserInactive)
	}

	result, err := s.issueBrowserSession(ctx, user)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodRefresh, "error")
		return nil, err
	}

	s.deps.Recorder.RecordLogin(MethodRefresh, "success")
	return result, nil
}

// Logout は提示されたアクセストークンを失効させ、リフレッシュトークンを無効化する。
// claimとrawRefreshはどちらも省略できる。
func (s *Service) Logout(ctx context.Context, claim *model.IdentityClaim, rawRefresh string) error {
	var errs []error

	if claim != nil && claim.TokenID != "" {
		if err := s.deps.Revocations.Revoke(ctx, claim.TokenID, claim.Subject, claim.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	if rawRefresh != "" {
		if err := s.deps.RefreshTokens.DeactivateByHash(ctx, hashRefreshToken(rawRefresh)); err != nil {
			errs = append(errs, err)
		}
	}

	if claim != nil {
		slog.Info("user logged out", slog.String("user_id", claim.Subject))
	}
	return errors.Join(errs...)
}

// RevokeToken は提示されたセッショントークンを自然失効時刻まで失効させる。
func (s *Service) RevokeToken(ctx context.Context, claim *model.IdentityClaim) error {
	if claim == nil || claim.TokenID == "" {
		return model.NewBadRequestError(msgTokenNotRevocable)
	}
	if err := s.deps.Revocations.Revoke(ctx, claim.TokenID, claim.Subject, claim.ExpiresAt); err != nil {
		slog.Error("failed to revoke token",
			slog.String("user_id", claim.Subject),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError(msgInternalServerError)
	}

	slog.Info("session token revoked", slog.String("user_id", claim.Subject))
	return nil
}

// CurrentUser はユーザーIDから有効なユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.activeUser(ctx, userID)
}

// Permissions はユーザーの実効権限を"resource.action"形式で昇順に返す。
func (s *Service) Permissions(ctx context.Context, userID string) ([]string, error) {
	perms, err := s.deps.Grants.ListPermissions(ctx, userID)
	if err != nil {
		slog.Error("failed to list permissions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgPermissionListFailed)
	}

	keys := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		k := p.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// TestLogin は開発環境専用のログイン。メールアドレスでユーザーを検索または作成する。
func (s *Service) TestLogin(ctx context.Context, email, displayName string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.NewBadRequestError(msgEmailRequired)
	}

	user, err := s.deps.Users.FindByEmail(ctx, email)
	if err != nil {
		slog.Error("failed to find user for test login", slog.String("error", err.Error()))
		return nil, model.NewInternalError(msgInternalServerError)
	}

	switch {
	case user == nil:
		name := s.deps.Sanitizer.DisplayName(displayName)
		if name == "" {
			name = localPart(email)
		}
		user = &model.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: name,
			Active:      true,
		}
		if err := s.deps.Users.CreateWithDefaultGroup(ctx, user); err != nil {
			slog.Error("failed to create test user", slog.String("error", err.Error()))
			return nil, model.NewInternalError(msgInternalServerError)
		}
	case !user.Active:
		if err := s.deps.Users.Activate(ctx, user.ID); err != nil {
			slog.Error("failed to activate test user", slog.String("error", err.Error()))
			return nil, model.NewInternalError(msgInternalServerError)
		}
		user.Active = true
	}

	result, err := s.issueAccess(user, token.VariantShort)
	if err != nil {
		return nil, err
	}
	s.deps.Recorder.RecordLogin(MethodTest, "success")
	return result, nil
}

// completeFederatedLogin はGoogleのクレームからユーザーを特定または作成し、ブラウザセッションを発行する。
func (s *Service) completeFederatedLogin(ctx context.Context, claim *model.IdentityClaim, method string) (*LoginResult, error) {
	user, err := s.findOrCreateFederatedUser(ctx, claim)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.deps.Recorder.RecordLogin(method, "failure")
			return nil, apiErr
		}
		slog.Error("failed to resolve federated user", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(method, "error")
		return nil, model.NewInternalError(msgAuthFailed)
	}

	if !user.Active {
		slog.Warn("inactive user attempted login", slog.String("user_id", user.ID))
		s.deps.Recorder.RecordLogin(method, "failure")
		return nil, model.NewUnauthorizedError(msgUserInactive)
	}

	result, err := s.issueBrowserSession(ctx, user)
	if err != nil {
		s.deps.Recorder.RecordLogin(method, "error")
		return nil, err
	}

	s.deps.Recorder.RecordLogin(method, "success")
	return result, nil
}

// findOrCreateFederatedUser はGoogleのsubjectでユーザーを検索する。
// 見つからない場合、同じメールアドレスで管理者が事前作成したユーザーがいればGoogleアカウントを紐付け、
// いなければ新規作成してDefaultグループに所属させる。
func (s *Service) findOrCreateFederatedUser(ctx context.Context, claim *model.IdentityClaim) (*model.User, error) {
	user, err := s.deps.Users.FindByGoogleID(ctx, claim.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google id: %w", err)
	}
	if user != nil {
		slog.Info("existing user logged in", slog.String("user_id", user.ID))
		return user, nil
	}

	if claim.Email == "" {
		return nil, model.NewUnauthorizedError(msgEmailNotFound)
	}
	// 未確認のアドレスでは既存ユーザーへの紐付けも新規作成も行わない
	if !claim.EmailVerified {
		return nil, model.NewUnauthorizedError(msgEmailNotVerified)
	}

	displayName := s.deps.Sanitizer.DisplayName(claim.DisplayName)
	if displayName == "" {
		displayName = localPart(claim.Email)
	}
	photoURL := s.deps.Sanitizer.PhotoURL(claim.PhotoURL)

	existing, err := s.deps.Users.FindByEmail(ctx, claim.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		if err := s.deps.Users.LinkGoogleAccount(ctx, existing.ID, claim.Subject, displayName, photoURL); err != nil {
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		existing.GoogleID = claim.Subject
		existing.DisplayName = displayName
		existing.PhotoURL = photoURL
		existing.Active = true
		slog.Info("google account linked to existing user", slog.String("user_id", existing.ID))
		return existing, nil
	}

	user = &model.User{
		ID:          uuid.NewString(),
		GoogleID:    claim.Subject,
		Email:       claim.Email,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		Active:      true,
	}
	if err := s.deps.Users.CreateWithDefaultGroup(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created", slog.String("user_id", user.ID))
	return user, nil
}

// activeUser はIDで有効なユーザーを取得する。見つからない、または無効な場合は401。
func (s *Service) activeUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.deps.Users.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to find user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgAuthFailed)
	}
	if user == nil || !user.Active {
		return nil, model.NewUnauthenticatedError("User not found")
	}
	return user, nil
}

// issueAccess はユーザーのセッショントークンを発行する。
func (s *Service) issueAccess(user *model.User, variant token.Variant) (*LoginResult, error) {
	return s.issueAccessAs(user, variant, "")
}

// issueAccessAs はimpersonatedByが空でなければ代理ログインとしてトークンを発行する。
func (s *Service) issueAccessAs(user *model.User, variant token.Variant, impersonatedBy string) (*LoginResult, error) {
	raw, expiresAt, err := s.deps.Issuer.Issue(token.Identity{
		UserID:         user.ID,
		Email:          user.Email,
		DisplayName:    user.DisplayName,
		PhotoURL:       user.PhotoURL,
		ImpersonatedBy: impersonatedBy,
	}, variant)
	if err != nil {
		slog.Error("failed to issue session token",
			slog.String("user_id", user.ID),
			slog.String("variant", variant.String()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgAuthFailed)
	}

	return &LoginResult{
		User:            user,
		AccessToken:     raw,
		AccessExpiresAt: expiresAt,
		AccessTTL:       s.deps.Issuer.TTL(variant),
	}, nil
}

// issueBrowserSession は短期トークンと新しいリフレッシュトークンを発行する。
// ユーザーの既存のリフレッシュトークンは全て無効化する。
func (s *Service) issueBrowserSession(ctx context.Context, user *model.User) (*LoginResult, error) {
	result, err := s.issueAccess(user, token.VariantShort)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := generateRefreshToken()
	if err != nil {
		slog.Error("failed to generate refresh token", slog.String("error", err.Error()))
		return nil, model.NewInternalError(msgAuthFailed)
	}

	if err := s.deps.RefreshTokens.DeactivateByUserID(ctx, user.ID); err != nil {
		slog.Error("failed to deactivate refresh tokens",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgAuthFailed)
	}

	now := s.now()
	stored := &model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(rawRefresh),
		Active:    true,
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.deps.RefreshTokens.Create(ctx, stored); err != nil {
		slog.Error("failed to store refresh token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgAuthFailed)
	}

	result.RefreshToken = rawRefresh
	result.RefreshExpiresAt = stored.ExpiresAt
	return result, nil
}

// providerError はプロバイダー経路の検証エラーをユーザー向けエラーに変換する。
func providerError(err error) *model.APIError {
	switch {
	case errors.Is(err, ErrIssuerMismatch):
		return model.NewUnauthorizedError(msgInvalidIssuer)
	case IsRejectedProviderToken(err):
		return model.NewUnauthorizedError(msgInvalidGoogleToken)
	default:
		slog.Error("google token verification failed", slog.String("error", err.Error()))
		return model.NewInternalError(msgAuthFailed)
	}
}

// generateRefreshToken は暗号的に安全なリフレッシュトークンを生成する。
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashRefreshToken は保存用のSHA-256ハッシュを返す。
func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
