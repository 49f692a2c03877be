// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// パスワードログイン専用のユーザーはGoogleIDを持たず、
// Googleフェデレーション専用のユーザーはPasswordHashを持たない。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	GoogleID     string
	Email        string
	DisplayName  string
	PhotoURL     string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワード認証が可能なユーザーかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IdentityClaim は検証済みクレデンシャルから取り出した正規化済みのユーザー情報。
// 永続化されることはなく、セッショントークンまたはGoogle IDトークンから
// リクエストごとに投影される。
type IdentityClaim struct {
	Subject     string
	DisplayName string
	Email       string
	PhotoURL    string
	Issuer      string
	Audience    string
	IssuedAt    time.Time
	ExpiresAt   time.Time

	// EmailVerified はGoogleがメールアドレスの所有を確認済みかどうか。
	// セッショントークン由来の場合は常にfalse。
	EmailVerified bool

	// TokenID はセッショントークンのjti。Google IDトークン由来の場合は空。
	TokenID string

	// ImpersonatedBy は代理ログインで発行されたトークンの場合、発行した管理者のユーザーID。
	ImpersonatedBy string
}

// RefreshToken はブラウザセッション更新用のリフレッシュトークンを表す。
// 生のトークン値は保存せず、SHA-256ハッシュのみを保持する。
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	Active    bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Permission はリソースとアクションの組を表す。
type Permission struct {
	Resource string
	Action   string
}

// Key は "resource.action" 形式のキーを返す。
func (p Permission) Key() string {
	return p.Resource + "." + p.Action
}

// APIKey はスクリプトや外部ツール向けの長期クレデンシャル。
// 生のキーは作成時に一度だけ返し、SHA-256ハッシュのみを保存する。
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	KeyHash    string
	Active     bool
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time

	// Permissions はキーに付与された権限。作成時に所有者の実効権限の部分集合に制限される。
	Permissions []Permission
}

// Expired はnow時点でキーが期限切れかどうかを返す。期限なしのキーは期限切れにならない。
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
