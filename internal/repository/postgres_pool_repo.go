package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/postplan/internal/model"
)

// PostgresPoolRepo はPostgreSQLを使用したハッシュタグ・音源プールリポジトリ。
type PostgresPoolRepo struct {
	db *sql.DB
}

// NewPostgresPoolRepo はPostgresPoolRepoを生成する。
func NewPostgresPoolRepo(db *sql.DB) *PostgresPoolRepo {
	return &PostgresPoolRepo{db: db}
}

// UpsertHashtagPool はハッシュタグプールを作成または置き換える。
func (r *PostgresPoolRepo) UpsertHashtagPool(ctx context.Context, name, tagsCSV string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hashtag_pools (name, tags_csv, active)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET
		     tags_csv = EXCLUDED.tags_csv,
		     active = EXCLUDED.active,
		     version = hashtag_pools.version + 1,
		     updated_at = now()`,
		name, tagsCSV, active,
	)
	if err != nil {
		return fmt.Errorf("ハッシュタグプールの保存に失敗しました: %w", err)
	}
	return nil
}

// ActiveHashtagPools は有効なハッシュタグプールを取得する。
func (r *PostgresPoolRepo) ActiveHashtagPools(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, tags_csv FROM hashtag_pools WHERE active`,
	)
	if err != nil {
		return nil, fmt.Errorf("ハッシュタグプールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	pools := make(map[string]string)
	for rows.Next() {
		var name, csv string
		if err := rows.Scan(&name, &csv); err != nil {
			return nil, fmt.Errorf("ハッシュタグプールの読み取りに失敗しました: %w", err)
		}
		pools[name] = csv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ハッシュタグプールの走査に失敗しました: %w", err)
	}
	return pools, nil
}

// UpsertAudioPool は音源プールを作成または置き換える。itemsJSONはJSON配列。
func (r *PostgresPoolRepo) UpsertAudioPool(ctx context.Context, name, itemsJSON string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audio_pools (name, items, active)
		 VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (name) DO UPDATE SET
		     items = EXCLUDED.items,
		     active = EXCLUDED.active,
		     version = audio_pools.version + 1,
		     updated_at = now()`,
		name, itemsJSON, active,
	)
	if err != nil {
		return fmt.Errorf("音源プールの保存に失敗しました: %w", err)
	}
	return nil
}

// FindAudioPool は指定名の音源プールを取得する。見つからない場合はnilを返す。
func (r *PostgresPoolRepo) FindAudioPool(ctx context.Context, name string) (*model.AudioPool, error) {
	p := &model.AudioPool{}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, items::text, active, version, updated_at FROM audio_pools WHERE name = $1`, name,
	).Scan(&p.Name, &p.ItemsJSON, &p.Active, &p.Version, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("音源プールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ PoolRepository = (*PostgresPoolRepo)(nil)
