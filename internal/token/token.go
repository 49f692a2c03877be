// Package token はアプリケーション自身が発行するセッショントークン(HS256 JWT)を扱う。
//
// トークンは永続化しない。検証は署名・発行者・有効期限と、
// 設定されていれば失効リストの照会のみで完結する。
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/letwinventory/internal/model"
)

// IssuerName はセッショントークンのissクレームに入る値。
const IssuerName = "letwinventory"

const (
	// DefaultShortTTL はブラウザセッション用トークンの有効期間。
	DefaultShortTTL = 3600 * time.Second
	// DefaultLongTTL はWorkspaceアドオン用トークンの有効期間。
	DefaultLongTTL = 604800 * time.Second
)

var (
	// ErrInvalidToken は署名不正・期限切れ・失効済み・形式不正のいずれかを表す。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrRevoked は失効済みのjtiを持つトークンを表す。ErrInvalidTokenと併せて返される。
	ErrRevoked = errors.New("session token revoked")
	// ErrConfiguration は署名鍵が未設定であることを表す。起動時の致命的エラー。
	ErrConfiguration = errors.New("session token secret is not configured")
)

// Variant はトークンの有効期間の種類。
type Variant int

const (
	// VariantShort は対話ログインで発行する1時間のトークン。
	VariantShort Variant = iota
	// VariantLong はアドオン交換で発行する7日間のトークン。
	VariantLong
)

// String はログ出力用の名前を返す。
func (v Variant) String() string {
	switch v {
	case VariantShort:
		return "short"
	case VariantLong:
		return "long"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Identity はトークンに埋め込むユーザー情報。
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	PhotoURL    string

	// ImpersonatedBy は代理ログインを行った管理者のユーザーID。通常のログインでは空。
	ImpersonatedBy string
}

// SessionClaims はセッショントークンのペイロード。
type SessionClaims struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`

	ImpersonatedBy string `json:"impersonatedBy,omitempty"`
	jwt.RegisteredClaims
}

// RevocationChecker はjtiが失効済みかどうかを判定する。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Issuer はセッショントークンの発行と検証を行う。
// 生成後は読み取り専用のため、複数のgoroutineから同時に使用できる。
type Issuer struct {
	secret      []byte
	shortTTL    time.Duration
	longTTL     time.Duration
	now         func() time.Time
	revocations RevocationChecker
}

// Option はIssuerの任意設定を表す。
type Option func(*Issuer)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithTTL は各Variantの有効期間を上書きする。0以下の値は無視する。
func WithTTL(short, long time.Duration) Option {
	return func(i *Issuer) {
		if short > 0 {
			i.shortTTL = short
		}
		if long > 0 {
			i.longTTL = long
		}
	}
}

// WithRevocationChecker は検証時に失効リストを照会するようにする。
func WithRevocationChecker(rc RevocationChecker) Option {
	return func(i *Issuer) {
		i.revocations = rc
	}
}

// NewIssuer はIssuerを生成する。secretが空の場合はErrConfigurationを返す。
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrConfiguration
	}
	i := &Issuer{
		secret:   []byte(secret),
		shortTTL: DefaultShortTTL,
		longTTL:  DefaultLongTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL はVariantに対応する有効期間を返す。
func (i *Issuer) TTL(v Variant) time.Duration {
	if v == VariantLong {
		return i.longTTL
	}
	return i.shortTTL
}

// Issue はidentityに束縛されたトークンを発行し、トークン文字列と有効期限を返す。
func (i *Issuer) Issue(identity Identity, variant Variant) (string, time.Time, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", time.Time{}, errors.New("user id is required")
	}

	now := i.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.TTL(variant))
	claims := SessionClaims{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		PhotoURL:    identity.PhotoURL,

		ImpersonatedBy: identity.ImpersonatedBy,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    IssuerName,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンの署名・発行者・有効期限を検証し、正規化したIdentityClaimを返す。
// 有効期限ちょうどの時刻以降は無効とする。
// base64の未使用ビットが0でないセグメントは、復号結果が同じでも別のトークンとして拒否する。
func (i *Issuer) Verify(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(IssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	if i.revocations != nil && claims.ID != "" {
		revoked, err := i.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: check revocation: %w", ErrInvalidToken, err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrRevoked)
		}
	}

	claim := &model.IdentityClaim{
		Subject:     claims.UserID,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		PhotoURL:    claims.PhotoURL,
		Issuer:      claims.Issuer,
		ExpiresAt:   claims.ExpiresAt.Time,
		TokenID:     claims.ID,

		ImpersonatedBy: claims.ImpersonatedBy,
	}
	if claims.IssuedAt != nil {
		claim.IssuedAt = claims.IssuedAt.Time
	}
	return claim, nil
}
