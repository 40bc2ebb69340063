package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/identity/internal/model"
)

const providerColumns = `slug, enabled, name, icon, config, created_at, updated_at`

// PostgresProviderRepo はPostgreSQLを使用したプロバイダーリポジトリ。
type PostgresProviderRepo struct {
	db *sql.DB
}

// NewPostgresProviderRepo はPostgresProviderRepoを生成する。
func NewPostgresProviderRepo(db *sql.DB) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: db}
}

// FindBySlug は指定slugのプロバイダーを取得する。無効なプロバイダーも返す。
func (r *PostgresProviderRepo) FindBySlug(ctx context.Context, slug string) (*model.Provider, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE slug = $1`,
		slug,
	)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List は全プロバイダーをslug順に返す。
func (r *PostgresProviderRepo) List(ctx context.Context) ([]*model.Provider, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY slug`,
	)
	if err != nil {
		return nil, storeError("list providers", err)
	}
	defer rows.Close()

	var providers []*model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate providers", err)
	}
	return providers, nil
}

// Upsert はプロバイダーを作成または更新する。
func (r *PostgresProviderRepo) Upsert(ctx context.Context, p *model.Provider) error {
	config, err := p.MarshalConfig()
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO providers (slug, enabled, name, icon, config)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (slug) DO UPDATE SET
		     enabled = excluded.enabled,
		     name = excluded.name,
		     icon = excluded.icon,
		     config = excluded.config,
		     updated_at = now()
		 RETURNING created_at, updated_at`,
		p.Slug, p.Enabled, p.Name, p.Icon, config,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return storeError("upsert provider", err)
	}
	return nil
}

// Delete はプロバイダーを削除する。
func (r *PostgresProviderRepo) Delete(ctx context.Context, slug string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE slug = $1`, slug)
	if err != nil {
		return false, storeError("delete provider", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storeError("get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*model.Provider, error) {
	p := &model.Provider{}
	var config []byte
	err := row.Scan(&p.Slug, &p.Enabled, &p.Name, &p.Icon, &config, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storeError("scan provider", err)
	}
	if err := json.Unmarshal(config, &p.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of provider %q: %w", p.Slug, err)
	}
	return p, nil
}

// compile-time interface check
var _ ProviderRepository = (*PostgresProviderRepo)(nil)
