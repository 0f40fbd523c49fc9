package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/postplan/internal/model"
)

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

const contentColumns = `id, origin, origin_id, title, media_type, payload_ref,
        caption, hashtags, status, error, created_at, updated_at`

func scanContent(s rowScanner) (*model.Content, error) {
	c := &model.Content{}
	var caption, hashtags, errText sql.NullString
	if err := s.Scan(
		&c.ID, &c.Origin, &c.OriginID, &c.Title, &c.MediaType, &c.PayloadRef,
		&caption, &hashtags, &c.Status, &errText, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Caption = nullStringValue(caption)
	c.Hashtags = nullStringValue(hashtags)
	c.Error = nullStringValue(errText)
	return c, nil
}

// Create はコンテンツを登録する。
// (origin, origin_id) が既存の場合はINSERTを行わず既存IDを返す。
func (r *PostgresContentRepo) Create(ctx context.Context, content *model.Content) (int64, bool, error) {
	status := content.Status
	if status == "" {
		status = model.ContentStatusNew
	}
	mediaType := content.MediaType
	if mediaType == "" {
		mediaType = model.MediaTypeImage
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO contents (origin, origin_id, title, media_type, payload_ref, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (origin, origin_id) DO NOTHING
		 RETURNING id`,
		content.Origin, content.OriginID, content.Title, mediaType, content.PayloadRef, status,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("コンテンツの登録に失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM contents WHERE origin = $1 AND origin_id = $2`,
		content.Origin, content.OriginID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("既存コンテンツの取得に失敗しました: %w", err)
	}
	return id, false, nil
}

// FindByID は指定IDのコンテンツを取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindByID(ctx context.Context, id int64) (*model.Content, error) {
	c, err := scanContent(r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	return c, nil
}

// UpdateCaption はキャプションを設定し、status を ready にする。
func (r *PostgresContentRepo) UpdateCaption(ctx context.Context, id int64, caption, hashtags string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE contents SET caption = $2, hashtags = $3, status = 'ready', updated_at = now()
		 WHERE id = $1 AND status IN ('new', 'ready')`,
		id, nullString(caption), nullString(hashtags),
	)
	if err != nil {
		return false, fmt.Errorf("キャプションの更新に失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return ok, nil
}

// ListReady は status = 'ready' のコンテンツを作成順に取得する。
// mediaTypeが空の場合は全メディア種別を対象とする。
func (r *PostgresContentRepo) ListReady(ctx context.Context, mediaType string, limit int) ([]*model.Content, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM contents
		 WHERE status = 'ready' AND ($1 = '' OR media_type = $1)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		mediaType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("公開待ちコンテンツの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var contents []*model.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("公開待ちコンテンツの読み取りに失敗しました: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開待ちコンテンツの走査に失敗しました: %w", err)
	}
	return contents, nil
}

// InsertVariants はキャプション候補を追加する。書き込み済みの候補は変更しない。
func (r *PostgresContentRepo) InsertVariants(ctx context.Context, contentID int64, variants []model.CaptionVariant) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, v := range variants {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO caption_variants (content_id, variant_no, caption, hashtags, active)
			 VALUES ($1, $2, $3, $4, TRUE)
			 ON CONFLICT (content_id, variant_no) DO NOTHING`,
			contentID, v.VariantNo, v.Caption, v.Hashtags,
		)
		if err != nil {
			return 0, fmt.Errorf("キャプション候補の追加に失敗しました: %w", err)
		}
		ok, err := affected(result)
		if err != nil {
			return 0, fmt.Errorf("追加結果の取得に失敗しました: %w", err)
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return inserted, nil
}

// SetVariantActive はキャプション候補のactiveフラグを変更する。
func (r *PostgresContentRepo) SetVariantActive(ctx context.Context, contentID int64, variantNo int, active bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE caption_variants SET active = $3 WHERE content_id = $1 AND variant_no = $2`,
		contentID, variantNo, active,
	)
	if err != nil {
		return false, fmt.Errorf("キャプション候補の更新に失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return ok, nil
}

// ListActiveVariants は有効なキャプション候補を variant_no 順に取得する。
func (r *PostgresContentRepo) ListActiveVariants(ctx context.Context, contentID int64) ([]model.CaptionVariant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT content_id, variant_no, caption, hashtags, active
		 FROM caption_variants
		 WHERE content_id = $1 AND active
		 ORDER BY variant_no ASC`,
		contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("キャプション候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var variants []model.CaptionVariant
	for rows.Next() {
		var v model.CaptionVariant
		if err := rows.Scan(&v.ContentID, &v.VariantNo, &v.Caption, &v.Hashtags, &v.Active); err != nil {
			return nil, fmt.Errorf("キャプション候補の読み取りに失敗しました: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キャプション候補の走査に失敗しました: %w", err)
	}
	return variants, nil
}

// FindVariant は指定番号のキャプション候補を取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindVariant(ctx context.Context, contentID int64, variantNo int) (*model.CaptionVariant, error) {
	v := &model.CaptionVariant{}
	err := r.db.QueryRowContext(ctx,
		`SELECT content_id, variant_no, caption, hashtags, active
		 FROM caption_variants WHERE content_id = $1 AND variant_no = $2`,
		contentID, variantNo,
	).Scan(&v.ContentID, &v.VariantNo, &v.Caption, &v.Hashtags, &v.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャプション候補の取得に失敗しました: %w", err)
	}
	return v, nil
}

// compile-time interface check
var _ ContentRepository = (*PostgresContentRepo)(nil)
