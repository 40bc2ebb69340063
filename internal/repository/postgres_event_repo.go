package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/identity/internal/model"
)

const eventColumns = `e.slug, e.name, e.organization_id, e.expires_on, e.created_at, e.updated_at`

// PostgresEventRepo はPostgreSQLを使用したイベント・独自ドメインリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// FindBySlug は指定slugのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindBySlug(ctx context.Context, slug string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.slug = $1`,
		slug,
	)
	return scanEvent(row, "find event by slug")
}

// FindByCustomDomain は独自ドメイン名からイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByCustomDomain(ctx context.Context, name string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 JOIN custom_domains cd ON cd.event = e.slug
		 WHERE cd.name = $1`,
		name,
	)
	return scanEvent(row, "find event by custom domain")
}

// SetCustomDomain はイベントの独自ドメインを設定し、置き換えた以前の名前を返す。
// 名前は全イベントで一意であり、他のイベントが使用中の場合はmodel.ErrConflictを返す。
func (r *PostgresEventRepo) SetCustomDomain(ctx context.Context, event, name string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeError("begin transaction", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM custom_domains WHERE event = $1 RETURNING name`,
		event,
	).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", storeError("remove previous custom domain", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO custom_domains (event, name) VALUES ($1, $2)`,
		event, name,
	); err != nil {
		return "", storeError("insert custom domain", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storeError("commit transaction", err)
	}
	return previous, nil
}

// DeleteCustomDomain はイベントの独自ドメインを削除し、削除した名前を返す。
// 設定されていない場合は空文字列を返す。
func (r *PostgresEventRepo) DeleteCustomDomain(ctx context.Context, event string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM custom_domains WHERE event = $1 RETURNING name`,
		event,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeError("delete custom domain", err)
	}
	return name, nil
}

func scanEvent(row *sql.Row, op string) (*model.Event, error) {
	e := &model.Event{}
	err := row.Scan(&e.Slug, &e.Name, &e.OrganizationID, &e.ExpiresOn, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return e, nil
}

// PostgresParticipantRepo はPostgreSQLを使用したイベント参加者リポジトリ。
type PostgresParticipantRepo struct {
	db *sql.DB
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db *sql.DB) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

// IsParticipant はユーザーがイベントの参加者かどうかを返す。
func (r *PostgresParticipantRepo) IsParticipant(ctx context.Context, event string, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE event = $1 AND user_id = $2)`,
		event, userID,
	).Scan(&exists)
	if err != nil {
		return false, storeError("check participant", err)
	}
	return exists, nil
}

// Add は参加者を追加する。既に参加している場合は何もしない。
func (r *PostgresParticipantRepo) Add(ctx context.Context, event string, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (event, user_id) VALUES ($1, $2)
		 ON CONFLICT (event, user_id) DO NOTHING`,
		event, userID,
	)
	if err != nil {
		return storeError("add participant", err)
	}
	return nil
}

// compile-time interface check
var (
	_ EventRepository       = (*PostgresEventRepo)(nil)
	_ ParticipantRepository = (*PostgresParticipantRepo)(nil)
)
