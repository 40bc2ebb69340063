package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/identity/internal/model"
)

// upsertOrganizerSQL は(organization_id, user_id)の既存行のroleのみを更新する。
// created_atは初回挿入時の値を保持する。
const upsertOrganizerSQL = `INSERT INTO organizers (organization_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (organization_id, user_id) DO UPDATE SET
    role = excluded.role,
    updated_at = now()
RETURNING organization_id, user_id, role, created_at, updated_at`

// PostgresOrganizerRepo はPostgreSQLを使用した組織運営者リポジトリ。
type PostgresOrganizerRepo struct {
	db *sql.DB
}

// NewPostgresOrganizerRepo はPostgresOrganizerRepoを生成する。
func NewPostgresOrganizerRepo(db *sql.DB) *PostgresOrganizerRepo {
	return &PostgresOrganizerRepo{db: db}
}

// FindRole はユーザーの組織内ロールを返す。運営者でない場合は空文字列を返す。
func (r *PostgresOrganizerRepo) FindRole(ctx context.Context, organizationID, userID int64) (model.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM organizers WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeError("find organizer role", err)
	}
	return model.Role(role), nil
}

// Upsert はロールを挿入または上書きする。
// 組織またはユーザーが存在しない場合はmodel.ErrNotFoundを返す。
func (r *PostgresOrganizerRepo) Upsert(ctx context.Context, organizationID, userID int64, role model.Role) (*model.Organizer, error) {
	o := &model.Organizer{}
	var stored string
	err := r.db.QueryRowContext(ctx, upsertOrganizerSQL, organizationID, userID, string(role)).
		Scan(&o.OrganizationID, &o.UserID, &stored, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, storeError("upsert organizer", err)
	}
	o.Role = model.Role(stored)
	return o, nil
}

// Delete は運営者を組織から外す。
func (r *PostgresOrganizerRepo) Delete(ctx context.Context, organizationID, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM organizers WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	)
	if err != nil {
		return false, storeError("delete organizer", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ OrganizerRepository = (*PostgresOrganizerRepo)(nil)
