package auth

import (
	"context"
	"sync"
	"time"

	"google.golang.org/api/idtoken"

	"github.com/hitoshi/letwinventory/internal/model"
	"github.com/hitoshi/letwinventory/internal/repository"
	"github.com/hitoshi/letwinventory/internal/token"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn       func(ctx context.Context, email string) (*model.User, error)
	findByUsernameFn    func(ctx context.Context, username string) (*model.User, error)
	findByGoogleIDFn    func(ctx context.Context, googleID string) (*model.User, error)
	createFn            func(ctx context.Context, user *model.User) error
	linkGoogleAccountFn func(ctx context.Context, userID, googleID, displayName, photoURL string) error
	activateFn          func(ctx context.Context, userID string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	if m.findByGoogleIDFn != nil {
		return m.findByGoogleIDFn(ctx, googleID)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithDefaultGroup(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) LinkGoogleAccount(ctx context.Context, userID, googleID, displayName, photoURL string) error {
	if m.linkGoogleAccountFn != nil {
		return m.linkGoogleAccountFn(ctx, userID, googleID, displayName, photoURL)
	}
	return nil
}

func (m *mockUserRepo) Activate(ctx context.Context, userID string) error {
	if m.activateFn != nil {
		return m.activateFn(ctx, userID)
	}
	return nil
}

type mockGrantRepo struct {
	hasGrantFn        func(ctx context.Context, userID, resource, action string) (bool, error)
	listPermissionsFn func(ctx context.Context, userID string) ([]model.Permission, error)
}

func (m *mockGrantRepo) HasGrant(ctx context.Context, userID, resource, action string) (bool, error) {
	if m.hasGrantFn != nil {
		return m.hasGrantFn(ctx, userID, resource, action)
	}
	return false, nil
}

func (m *mockGrantRepo) ListPermissions(ctx context.Context, userID string) ([]model.Permission, error) {
	if m.listPermissionsFn != nil {
		return m.listPermissionsFn(ctx, userID)
	}
	return nil, nil
}

type mockRefreshTokenRepo struct {
	createFn             func(ctx context.Context, token *model.RefreshToken) error
	findActiveByHashFn   func(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	deactivateFn         func(ctx context.Context, id string) error
	deactivateByHashFn   func(ctx context.Context, tokenHash string) error
	deactivateByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	if m.createFn != nil {
		return m.createFn(ctx, token)
	}
	return nil
}

func (m *mockRefreshTokenRepo) FindActiveByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	if m.findActiveByHashFn != nil {
		return m.findActiveByHashFn(ctx, tokenHash)
	}
	return nil, nil
}

func (m *mockRefreshTokenRepo) Deactivate(ctx context.Context, id string) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, id)
	}
	return nil
}

func (m *mockRefreshTokenRepo) DeactivateByHash(ctx context.Context, tokenHash string) error {
	if m.deactivateByHashFn != nil {
		return m.deactivateByHashFn(ctx, tokenHash)
	}
	return nil
}

func (m *mockRefreshTokenRepo) DeactivateByUserID(ctx context.Context, userID string) error {
	if m.deactivateByUserIDFn != nil {
		return m.deactivateByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockRefreshTokenRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockRevocationRepo struct {
	revokeFn    func(ctx context.Context, jti, userID string, expiresAt time.Time) error
	isRevokedFn func(ctx context.Context, jti string) (bool, error)
}

func (m *mockRevocationRepo) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, jti, userID, expiresAt)
	}
	return nil
}

func (m *mockRevocationRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if m.isRevokedFn != nil {
		return m.isRevokedFn(ctx, jti)
	}
	return false, nil
}

func (m *mockRevocationRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockAPIKeyRepo struct {
	createFn           func(ctx context.Context, key *model.APIKey) error
	listActiveByUserFn func(ctx context.Context, userID string) ([]*model.APIKey, error)
	findActiveByUserFn func(ctx context.Context, id, userID string) (*model.APIKey, error)
	findActiveByHashFn func(ctx context.Context, keyHash string) (*model.APIKey, error)
	deactivateFn       func(ctx context.Context, id, userID string) (bool, error)
	touchLastUsedFn    func(ctx context.Context, id string, usedAt time.Time) error
}

func (m *mockAPIKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	if m.createFn != nil {
		return m.createFn(ctx, key)
	}
	return nil
}

func (m *mockAPIKeyRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.APIKey, error) {
	if m.listActiveByUserFn != nil {
		return m.listActiveByUserFn(ctx, userID)
	}
	return []*model.APIKey{}, nil
}

func (m *mockAPIKeyRepo) FindActiveByUser(ctx context.Context, id, userID string) (*model.APIKey, error) {
	if m.findActiveByUserFn != nil {
		return m.findActiveByUserFn(ctx, id, userID)
	}
	return nil, nil
}

func (m *mockAPIKeyRepo) FindActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	if m.findActiveByHashFn != nil {
		return m.findActiveByHashFn(ctx, keyHash)
	}
	return nil, nil
}

func (m *mockAPIKeyRepo) Deactivate(ctx context.Context, id, userID string) (bool, error) {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, id, userID)
	}
	return false, nil
}

func (m *mockAPIKeyRepo) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	if m.touchLastUsedFn != nil {
		return m.touchLastUsedFn(ctx, id, usedAt)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*model.IdentityClaim, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*model.IdentityClaim, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// fakePayloadValidator はidtoken.Validatorの代わりに使う。
type fakePayloadValidator struct {
	mu        sync.Mutex
	calls     int
	audiences []string
	validate  func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

func (f *fakePayloadValidator) Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error) {
	f.mu.Lock()
	f.calls++
	f.audiences = append(f.audiences, audience)
	f.mu.Unlock()
	return f.validate(ctx, idToken, audience)
}

type recordedEvent struct {
	label   string
	outcome string
}

// eventRecorder はVerificationRecorderとLoginRecorderを兼ねる。
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) RecordTokenVerification(path, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{label: path, outcome: outcome})
}

func (r *eventRecorder) RecordLogin(method, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{label: method, outcome: outcome})
}

func (r *eventRecorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.GrantRepository = (*mockGrantRepo)(nil)
var _ repository.RefreshTokenRepository = (*mockRefreshTokenRepo)(nil)
var _ repository.RevocationRepository = (*mockRevocationRepo)(nil)
var _ repository.APIKeyRepository = (*mockAPIKeyRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ PayloadValidator = (*fakePayloadValidator)(nil)
var _ TokenVerifier = (*Verifier)(nil)
var _ TokenIssuer = (*token.Issuer)(nil)
var _ SessionTokenVerifier = (*token.Issuer)(nil)
