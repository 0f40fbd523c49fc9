package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/postplan/internal/model"
)

// PostgresImageSetRepo はPostgreSQLを使用した画像セットリポジトリ。
type PostgresImageSetRepo struct {
	db *sql.DB
}

// NewPostgresImageSetRepo はPostgresImageSetRepoを生成する。
func NewPostgresImageSetRepo(db *sql.DB) *PostgresImageSetRepo {
	return &PostgresImageSetRepo{db: db}
}

// Create は画像セットと画像を同一トランザクションで作成する。
func (r *PostgresImageSetRepo) Create(ctx context.Context, set *model.ImageSet) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO image_sets (caption) VALUES ($1) RETURNING id`, set.Caption,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("画像セットの作成に失敗しました: %w", err)
	}

	for i, ref := range set.ImageRefs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO image_set_items (image_set_id, position, image_ref) VALUES ($1, $2, $3)`,
			id, i, ref,
		); err != nil {
			return 0, fmt.Errorf("画像セットへの画像追加に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	set.ID = id
	return id, nil
}

// FindByID は指定IDの画像セットを取得する。見つからない場合はnilを返す。
func (r *PostgresImageSetRepo) FindByID(ctx context.Context, id int64) (*model.ImageSet, error) {
	set := &model.ImageSet{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, caption, created_at FROM image_sets WHERE id = $1`, id,
	).Scan(&set.ID, &set.Caption, &set.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("画像セットの取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT image_ref FROM image_set_items WHERE image_set_id = $1 ORDER BY position ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("画像セットの画像取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("画像セットの画像読み取りに失敗しました: %w", err)
		}
		set.ImageRefs = append(set.ImageRefs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("画像セットの画像走査に失敗しました: %w", err)
	}
	return set, nil
}

// ListUnscheduled はどの投稿枠にもバインドされていない画像セットを作成順に取得する。
// 画像は含まない。
func (r *PostgresImageSetRepo) ListUnscheduled(ctx context.Context, limit int) ([]*model.ImageSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.caption, s.created_at FROM image_sets s
		 WHERE NOT EXISTS (SELECT 1 FROM slots WHERE image_set_id = s.id)
		 ORDER BY s.created_at ASC, s.id ASC
		 LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("未割り当て画像セットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sets []*model.ImageSet
	for rows.Next() {
		set := &model.ImageSet{}
		if err := rows.Scan(&set.ID, &set.Caption, &set.CreatedAt); err != nil {
			return nil, fmt.Errorf("未割り当て画像セットの読み取りに失敗しました: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未割り当て画像セットの走査に失敗しました: %w", err)
	}
	return sets, nil
}

// compile-time interface check
var _ ImageSetRepository = (*PostgresImageSetRepo)(nil)
