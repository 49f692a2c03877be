package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/letwinventory/internal/model"
)

const apiKeyColumns = `id, user_id, name, key_hash, active, expires_at, last_used_at, created_at`

// PostgresAPIKeyRepo はPostgreSQLを使用したAPIキーリポジトリ。
type PostgresAPIKeyRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresAPIKeyRepo はPostgresAPIKeyRepoを生成する。
func NewPostgresAPIKeyRepo(db *sql.DB) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: db, now: time.Now}
}

// Create はキーと付与権限を作成する。存在しない権限が含まれる場合は全体をロールバックする。
func (r *PostgresAPIKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, active, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.Active, key.ExpiresAt, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	for _, p := range key.Permissions {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO api_key_permissions (api_key_id, permission_id, created_at)
			 SELECT $1, id, $4 FROM permissions WHERE resource = $2 AND action = $3`,
			key.ID, p.Resource, p.Action, key.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to grant %s to api key: %w", p.Key(), err)
		}
		if err := expectOneRow(result, "permission", p.Key()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListActiveByUser はユーザーの有効なキーを新しい順で返す。
func (r *PostgresAPIKeyRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+`
		 FROM api_keys
		 WHERE user_id = $1 AND active = TRUE
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*model.APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}

	if err := r.loadPermissions(ctx, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// FindActiveByUser はユーザーが所有する有効なキーを返す。見つからない場合はnilを返す。
func (r *PostgresAPIKeyRepo) FindActiveByUser(ctx context.Context, id, userID string) (*model.APIKey, error) {
	return r.findOne(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND user_id = $2 AND active = TRUE`,
		id, userID,
	)
}

// FindActiveByHash はハッシュ値で有効なキーを返す。見つからない場合はnilを返す。
func (r *PostgresAPIKeyRepo) FindActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return r.findOne(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND active = TRUE`,
		keyHash,
	)
}

// Deactivate はユーザーが所有する有効なキーを無効化する。
func (r *PostgresAPIKeyRepo) Deactivate(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE, updated_at = $3
		 WHERE id = $1 AND user_id = $2 AND active = TRUE`,
		id, userID, r.now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchLastUsed は最終使用日時を更新する。
func (r *PostgresAPIKeyRepo) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`,
		id, usedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key last used: %w", err)
	}
	return nil
}

func (r *PostgresAPIKeyRepo) findOne(ctx context.Context, query string, args ...any) (*model.APIKey, error) {
	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadPermissions(ctx, []*model.APIKey{key}); err != nil {
		return nil, err
	}
	return key, nil
}

// loadPermissions はkeysの付与権限を1回のクエリで読み込む。
func (r *PostgresAPIKeyRepo) loadPermissions(ctx context.Context, keys []*model.APIKey) error {
	if len(keys) == 0 {
		return nil
	}

	byID := make(map[string]*model.APIKey, len(keys))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		k.Permissions = []model.Permission{}
		byID[k.ID] = k
		ids = append(ids, k.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT kp.api_key_id, p.resource, p.action
		 FROM api_key_permissions kp
		 JOIN permissions p ON p.id = kp.permission_id
		 WHERE kp.api_key_id = ANY($1::uuid[])
		 ORDER BY p.resource, p.action`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load api key permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var keyID string
		var p model.Permission
		if err := rows.Scan(&keyID, &p.Resource, &p.Action); err != nil {
			return fmt.Errorf("failed to scan api key permission: %w", err)
		}
		if k, ok := byID[keyID]; ok {
			k.Permissions = append(k.Permissions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate api key permissions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*model.APIKey, error) {
	key := &model.APIKey{}
	var expiresAt, lastUsedAt sql.NullTime
	err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.Active,
		&expiresAt, &lastUsedAt, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		key.LastUsedAt = &t
	}
	return key, nil
}

// compile-time interface check
var _ APIKeyRepository = (*PostgresAPIKeyRepo)(nil)
