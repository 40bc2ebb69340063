package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/identity/internal/model"
)

const identityColumns = `provider, user_id, remote_id, email, created_at, updated_at`

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByRemoteID はproviderとremote_idでidentityを検索する。
// (provider, remote_id)の一意インデックスを使うため1回の索引参照で済む。
func (r *PostgresIdentityRepo) FindByRemoteID(ctx context.Context, provider, remoteID string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = $1 AND remote_id = $2`,
		provider, remoteID,
	)
	return scanIdentity(row, "find identity by remote id")
}

// FindByUserAndProvider はユーザーがproviderに持つidentityを返す。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByUserAndProvider(ctx context.Context, userID int64, provider string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = $1 AND user_id = $2`,
		provider, userID,
	)
	return scanIdentity(row, "find identity by user")
}

// ListByUserID はユーザーの全identityをprovider順に返す。
func (r *PostgresIdentityRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = $1 ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, storeError("list identities", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity := &model.Identity{}
		if err := rows.Scan(
			&identity.Provider, &identity.UserID, &identity.RemoteID,
			&identity.Email, &identity.CreatedAt, &identity.UpdatedAt,
		); err != nil {
			return nil, storeError("scan identity", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate identities", err)
	}
	return identities, nil
}

// Create はidentityを作成する。
// (provider, user_id)または(provider, remote_id)が重複する場合はmodel.ErrConflictを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO identities (provider, user_id, remote_id, email)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		identity.Provider, identity.UserID, identity.RemoteID, identity.Email,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return storeError("create identity", err)
	}
	return nil
}

// UpdateEmail はidentityに保存されたメールアドレスを更新する。
func (r *PostgresIdentityRepo) UpdateEmail(ctx context.Context, provider, remoteID, email string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET email = $3, updated_at = now()
		 WHERE provider = $1 AND remote_id = $2`,
		provider, remoteID, email,
	)
	if err != nil {
		return storeError("update identity email", err)
	}
	return nil
}

// Delete はユーザーのproviderに対するidentityを削除する。
// ユーザー行をFOR UPDATEでロックし、同一ユーザーへの並行した解除を直列化する。
func (r *PostgresIdentityRepo) Delete(ctx context.Context, userID int64, provider string, keepLast bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	var lockedID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError("lock user", err)
	}

	if keepLast {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM identities WHERE user_id = $1`,
			userID,
		).Scan(&count)
		if err != nil {
			return false, storeError("count identities", err)
		}
		if count <= 1 {
			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM identities WHERE user_id = $1 AND provider = $2)`,
				userID, provider,
			).Scan(&exists)
			if err != nil {
				return false, storeError("check identity", err)
			}
			if exists {
				return false, model.ErrLastIdentity
			}
			return false, nil
		}
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM identities WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
	if err != nil {
		return false, storeError("delete identity", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeError("commit transaction", err)
	}
	return rowsAffected > 0, nil
}

func scanIdentity(row *sql.Row, op string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := row.Scan(
		&identity.Provider, &identity.UserID, &identity.RemoteID,
		&identity.Email, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
