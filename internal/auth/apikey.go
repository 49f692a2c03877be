package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/letwinventory/internal/model"
	"github.com/hitoshi/letwinventory/internal/token"
)

// APIKeyPrefix は発行するAPIキーの接頭辞。
const APIKeyPrefix = "lwinv_"

const maxAPIKeyNameLength = 100

const (
	msgAPIKeyNameRequired        = "Name is required"
	msgAPIKeyNameTooLong         = "Name must be 100 characters or fewer"
	msgAPIKeyExpiryInPast        = "expiresAt must be in the future"
	msgAPIKeyPermissionsExceeded = "Requested permissions exceed your effective permissions"
	msgAPIKeyNotFound            = "API key not found"
	msgAPIKeyRequired            = "Key is required"
	msgInvalidAPIKey             = "Invalid API key"
	msgAPIKeyExpired             = "API key has expired"
)

// CreatedAPIKey は作成したキーと、一度だけ返す生のキー値。
type CreatedAPIKey struct {
	Key    *model.APIKey
	RawKey string
}

// APIKeyLogin はAPIキー交換の結果。
// Permissionsはキーの付与権限と所有者の現在の実効権限の積集合。
type APIKeyLogin struct {
	*LoginResult
	Permissions []string
}

// CreateAPIKey はユーザーのAPIキーを作成する。
// permissionsが空の場合は作成時点の実効権限を全て付与する。
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string, permissions []string, expiresAt *time.Time) (*CreatedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewBadRequestError(msgAPIKeyNameRequired)
	}
	if utf8.RuneCountInString(name) > maxAPIKeyNameLength {
		return nil, model.NewBadRequestError(msgAPIKeyNameTooLong)
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, model.NewBadRequestError(msgAPIKeyExpiryInPast)
	}

	effective, err := s.Permissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	granted := effective
	if len(permissions) > 0 {
		granted, err = subsetOf(permissions, effective)
		if err != nil {
			return nil, err
		}
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		slog.Error("failed to generate api key", slog.String("error", err.Error()))
		return nil, model.NewInternalError(msgInternalServerError)
	}

	key := &model.APIKey{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		KeyHash:     hashRefreshToken(rawKey),
		Active:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		Permissions: toPermissions(granted),
	}
	if err := s.deps.APIKeys.Create(ctx, key); err != nil {
		slog.Error("failed to store api key",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgInternalServerError)
	}

	slog.Info("api key created",
		slog.String("user_id", userID),
		slog.String("api_key_id", key.ID),
		slog.Int("permissions", len(key.Permissions)),
	)
	return &CreatedAPIKey{Key: key, RawKey: rawKey}, nil
}

// ListAPIKeys はユーザーの有効なAPIキーを新しい順で返す。
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error) {
	keys, err := s.deps.APIKeys.ListActiveByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to list api keys",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgInternalServerError)
	}
	return keys, nil
}

// RevokeAPIKey はユーザーが所有するAPIキーを無効化する。
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	if _, err := uuid.Parse(keyID); err != nil {
		return model.NewNotFoundError(msgAPIKeyNotFound)
	}

	ok, err := s.deps.APIKeys.Deactivate(ctx, keyID, userID)
	if err != nil {
		slog.Error("failed to revoke api key",
			slog.String("user_id", userID),
			slog.String("api_key_id", keyID),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError(msgInternalServerError)
	}
	if !ok {
		return model.NewNotFoundError(msgAPIKeyNotFound)
	}

	slog.Info("api key revoked",
		slog.String("user_id", userID),
		slog.String("api_key_id", keyID),
	)
	return nil
}

// APIKeyPermissions はユーザーが所有するAPIキーの付与権限を返す。
func (s *Service) APIKeyPermissions(ctx context.Context, userID, keyID string) ([]string, error) {
	if _, err := uuid.Parse(keyID); err != nil {
		return nil, model.NewNotFoundError(msgAPIKeyNotFound)
	}

	key, err := s.deps.APIKeys.FindActiveByUser(ctx, keyID, userID)
	if err != nil {
		slog.Error("failed to find api key",
			slog.String("api_key_id", keyID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if key == nil {
		return nil, model.NewNotFoundError(msgAPIKeyNotFound)
	}
	return permissionKeys(key.Permissions), nil
}

// ExchangeAPIKey はAPIキーを短期トークンに交換する。
func (s *Service) ExchangeAPIKey(ctx context.Context, rawKey string) (*APIKeyLogin, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, model.NewBadRequestError(msgAPIKeyRequired)
	}

	key, err := s.deps.APIKeys.FindActiveByHash(ctx, hashRefreshToken(rawKey))
	if err != nil {
		slog.Error("failed to find api key", slog.String("error", err.Error()))
		s.deps.Recorder.RecordLogin(MethodAPIKey, "error")
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if key == nil {
		s.deps.Recorder.RecordLogin(MethodAPIKey, "failure")
		return nil, model.NewUnauthenticatedError(msgInvalidAPIKey)
	}
	now := s.now()
	if key.Expired(now) {
		s.deps.Recorder.RecordLogin(MethodAPIKey, "failure")
		return nil, model.NewUnauthenticatedError(msgAPIKeyExpired)
	}

	user, err := s.deps.Users.FindByID(ctx, key.UserID)
	if err != nil {
		slog.Error("failed to find api key owner",
			slog.String("api_key_id", key.ID),
			slog.String("error", err.Error()),
		)
		s.deps.Recorder.RecordLogin(MethodAPIKey, "error")
		return nil, model.NewInternalError(msgInternalServerError)
	}
	if user == nil || !user.Active {
		s.deps.Recorder.RecordLogin(MethodAPIKey, "failure")
		return nil, model.NewUnauthenticatedError(msgRefreshUserInactive)
	}

	if err := s.deps.APIKeys.TouchLastUsed(ctx, key.ID, now); err != nil {
		// 交換自体は成功させる
		slog.Warn("failed to update api key last used",
			slog.String("api_key_id", key.ID),
			slog.String("error", err.Error()),
		)
	}

	effective, err := s.Permissions(ctx, user.ID)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodAPIKey, "error")
		return nil, err
	}

	result, err := s.issueAccess(user, token.VariantShort)
	if err != nil {
		s.deps.Recorder.RecordLogin(MethodAPIKey, "error")
		return nil, err
	}

	s.deps.Recorder.RecordLogin(MethodAPIKey, "success")
	return &APIKeyLogin{
		LoginResult: result,
		Permissions: intersect(permissionKeys(key.Permissions), effective),
	}, nil
}

// subsetOf はrequestedを重複除去・整列して返す。effectiveに無い権限が含まれる場合は400。
func subsetOf(requested, effective []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(effective))
	for _, k := range effective {
		allowed[k] = struct{}{}
	}

	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, k := range requested {
		k = strings.TrimSpace(k)
		if _, ok := allowed[k]; !ok {
			return nil, model.NewBadRequestError(msgAPIKeyPermissionsExceeded)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, k := range b {
		in[k] = struct{}{}
	}
	out := []string{}
	for _, k := range a {
		if _, ok := in[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func permissionKeys(perms []model.Permission) []string {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	sort.Strings(keys)
	return keys
}

// toPermissions は "resource.action" 形式のキーをPermissionに変換する。
func toPermissions(keys []string) []model.Permission {
	perms := make([]model.Permission, 0, len(keys))
	for _, k := range keys {
		resource, action, _ := strings.Cut(k, ".")
		perms = append(perms, model.Permission{Resource: resource, Action: action})
	}
	return perms
}

// generateAPIKey は接頭辞付きの32バイト乱数キーを生成する。
func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}
