package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/letwinventory/internal/model"
)

// effectivePermissionsCTE はユーザー($1)の実効権限IDを求める。
// 無効化されたグループ経由の権限は含めない。
const effectivePermissionsCTE = `
	WITH effective AS (
		SELECT gp.permission_id
		FROM user_group_members m
		JOIN user_groups g ON g.id = m.group_id AND g.active = TRUE
		JOIN group_permissions gp ON gp.group_id = g.id
		WHERE m.user_id = $1
		UNION
		SELECT up.permission_id
		FROM user_permissions up
		WHERE up.user_id = $1
	)`

// PostgresGrantRepo はPostgreSQLを使用した権限照会リポジトリ。
type PostgresGrantRepo struct {
	db *sql.DB
}

// NewPostgresGrantRepo はPostgresGrantRepoを生成する。
func NewPostgresGrantRepo(db *sql.DB) *PostgresGrantRepo {
	return &PostgresGrantRepo{db: db}
}

// HasGrant はユーザーが(resource, action)の実効権限を持つかを返す。
func (r *PostgresGrantRepo) HasGrant(ctx context.Context, userID, resource, action string) (bool, error) {
	var granted bool
	err := r.db.QueryRowContext(ctx,
		effectivePermissionsCTE+`
		SELECT EXISTS (
			SELECT 1 FROM effective e
			JOIN permissions p ON p.id = e.permission_id
			WHERE p.resource = $2 AND p.action = $3
		)`,
		userID, resource, action,
	).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return granted, nil
}

// ListPermissions はユーザーの実効権限一覧を返す。
func (r *PostgresGrantRepo) ListPermissions(ctx context.Context, userID string) ([]model.Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		effectivePermissionsCTE+`
		SELECT p.resource, p.action
		FROM effective e
		JOIN permissions p ON p.id = e.permission_id
		ORDER BY p.resource, p.action`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []model.Permission{}
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return perms, nil
}

// compile-time interface check
var _ GrantRepository = (*PostgresGrantRepo)(nil)
