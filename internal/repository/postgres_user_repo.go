package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/letwinventory/internal/model"
)

// userColumns はusersテーブルからmodel.Userへ読み込むカラム。
// NULL許容カラムは空文字列に正規化する。
const userColumns = `id, COALESCE(username, ''), COALESCE(password_hash, ''), COALESCE(google_id, ''),
	COALESCE(email, ''), display_name, photo_url, active, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, now: time.Now}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", username)
}

// FindByGoogleID はGoogleのsubjectでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return r.findOne(ctx, "google_id", googleID)
}

// findOne はcolumn = valueのユーザーを1件取得する。columnは固定のリテラルのみを渡すこと。
func (r *PostgresUserRepo) findOne(ctx context.Context, column, value string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`,
		value,
	).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.GoogleID,
		&user.Email, &user.DisplayName, &user.PhotoURL, &user.Active,
		&user.CreatedAt, &user.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s: %w", column, err)
	}

	return user, nil
}

// CreateWithDefaultGroup はユーザーを作成し、Defaultグループに所属させる。
func (r *PostgresUserRepo) CreateWithDefaultGroup(ctx context.Context, user *model.User) error {
	now := r.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, google_id, email, display_name, photo_url, active, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		user.ID, user.Username, user.PasswordHash, user.GoogleID, user.Email,
		user.DisplayName, user.PhotoURL, user.Active, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_group_members (user_id, group_id, created_at)
		 SELECT $1, id, $2 FROM user_groups WHERE name = $3 AND active = TRUE
		 ON CONFLICT DO NOTHING`,
		user.ID, now, DefaultGroupName,
	)
	if err != nil {
		return fmt.Errorf("failed to add user to default group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LinkGoogleAccount は既存ユーザーにGoogleアカウントを紐付けて有効化する。
func (r *PostgresUserRepo) LinkGoogleAccount(ctx context.Context, userID, googleID, displayName, photoURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET google_id = $2, display_name = $3, photo_url = $4, active = TRUE, updated_at = $5
		 WHERE id = $1`,
		userID, googleID, displayName, photoURL, r.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to link google account: %w", err)
	}
	return expectOneRow(result, "user", userID)
}

// Activate はユーザーを有効化する。
func (r *PostgresUserRepo) Activate(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = TRUE, updated_at = $2 WHERE id = $1`,
		userID, r.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	return expectOneRow(result, "user", userID)
}

// expectOneRow は更新対象の行が存在したことを確認する。
func expectOneRow(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
