// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/letwinventory/internal/model"
)

// DefaultGroupName は新規ユーザーが自動的に所属するグループ名。
const DefaultGroupName = "Default"

// UserRepository はユーザーデータの永続化インターフェース。
// 検索系メソッドは見つからない場合nilを返す。
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// CreateWithDefaultGroup はユーザーを作成し、有効なDefaultグループに
	// 同一トランザクションで所属させる。Defaultグループが無い場合は所属なしで作成する。
	CreateWithDefaultGroup(ctx context.Context, user *model.User) error

	// LinkGoogleAccount は管理者が事前作成したユーザーにGoogleアカウントを紐付け、
	// プロフィールを更新して有効化する。
	LinkGoogleAccount(ctx context.Context, userID, googleID, displayName, photoURL string) error

	// Activate はユーザーを有効化する。
	Activate(ctx context.Context, userID string) error
}

// GrantRepository は権限付与の照会インターフェース。
// 実効権限は、所属する有効なグループの権限とユーザー直接付与の権限の和集合。
type GrantRepository interface {
	// HasGrant はユーザーが(resource, action)の実効権限を持つかを返す。
	HasGrant(ctx context.Context, userID, resource, action string) (bool, error)

	// ListPermissions はユーザーの実効権限を重複なくresource, action順で返す。
	ListPermissions(ctx context.Context, userID string) ([]model.Permission, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを作成する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindActiveByHash はハッシュ値で有効なリフレッシュトークンを取得する。
	// 期限切れでも有効フラグが立っていれば返す。見つからない場合はnilを返す。
	FindActiveByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)

	// Deactivate は指定IDのトークンを無効化する。
	Deactivate(ctx context.Context, id string) error

	// DeactivateByHash はハッシュ値に一致するトークンを無効化する。
	DeactivateByHash(ctx context.Context, tokenHash string) error

	// DeactivateByUserID は指定ユーザーの有効なトークンを全て無効化する。
	DeactivateByUserID(ctx context.Context, userID string) error

	// DeleteExpired はbefore以前に期限切れとなったトークンと無効化済みトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RevocationRepository はセッショントークン失効リストの永続化インターフェース。
type RevocationRepository interface {
	// Revoke はjtiを失効させる。既に失効済みの場合は何もしない。
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error

	// IsRevoked はjtiが失効済みかを返す。
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// DeleteExpired は自然失効時刻がbefore以前の行を削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// APIKeyRepository はAPIキーの永続化インターフェース。
// キーは所有者ごとに管理し、他ユーザーのキーは存在しないものとして扱う。
type APIKeyRepository interface {
	// Create はキーと付与権限を同一トランザクションで作成する。
	// key.Permissionsの各権限はpermissionsテーブルに存在しなければならない。
	Create(ctx context.Context, key *model.APIKey) error

	// ListActiveByUser はユーザーの有効なキーを作成日時の新しい順で返す。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.APIKey, error)

	// FindActiveByUser はユーザーが所有する有効なキーを返す。見つからない場合はnilを返す。
	FindActiveByUser(ctx context.Context, id, userID string) (*model.APIKey, error)

	// FindActiveByHash はハッシュ値で有効なキーを返す。期限切れでも返す。見つからない場合はnilを返す。
	FindActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error)

	// Deactivate はユーザーが所有する有効なキーを無効化する。対象が無い場合はfalseを返す。
	Deactivate(ctx context.Context, id, userID string) (bool, error)

	// TouchLastUsed は最終使用日時を更新する。
	TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
