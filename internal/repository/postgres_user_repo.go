package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/identity/internal/model"
)

const userColumns = `id, given_name, family_name, primary_email, is_admin, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row, "find user by ID")
}

// FindByPrimaryEmail はprimary_emailの完全一致でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByPrimaryEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE primary_email = $1`,
		email,
	)
	return scanUser(row, "find user by email")
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
// 途中で失敗した場合はどちらも作成されない。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (given_name, family_name, primary_email, is_admin)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		user.GivenName, user.FamilyName, user.PrimaryEmail, user.IsAdmin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return storeError("insert user", err)
	}

	identity.UserID = user.ID
	err = tx.QueryRowContext(ctx,
		`INSERT INTO identities (provider, user_id, remote_id, email)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		identity.Provider, identity.UserID, identity.RemoteID, identity.Email,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return storeError("insert identity", err)
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit transaction", err)
	}

	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentities、organizers、participantsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, storeError("delete user", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get rows affected", err)
	}
	return rowsAffected > 0, nil
}

func scanUser(row *sql.Row, op string) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.GivenName, &user.FamilyName, &user.PrimaryEmail,
		&user.IsAdmin, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
