package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/postplan/internal/model"
)

// ErrContentNotReady はバインド対象のコンテンツまたはストーリーが ready でない場合に返る。
// 投稿枠側の競合とは区別され、呼び出し元は同じ投稿枠を次のコンテンツに使える。
var ErrContentNotReady = errors.New("バインド対象が公開待ち状態ではありません")

// PostgresSlotRepo はPostgreSQLを使用した投稿枠リポジトリ。
type PostgresSlotRepo struct {
	db *sql.DB
}

// NewPostgresSlotRepo はPostgresSlotRepoを生成する。
func NewPostgresSlotRepo(db *sql.DB) *PostgresSlotRepo {
	return &PostgresSlotRepo{db: db}
}

const slotColumns = `id, kind, content_id, story_id, image_set_id, caption_variant_no,
        planned_time, jitter_sec, scheduled_time, platform, status, priority,
        error, created_at, updated_at`

func scanSlot(s rowScanner) (*model.Slot, error) {
	slot := &model.Slot{}
	var kind string
	var contentID, storyID, imageSetID, variantNo sql.NullInt64
	var errText sql.NullString
	if err := s.Scan(
		&slot.ID, &kind, &contentID, &storyID, &imageSetID, &variantNo,
		&slot.PlannedTime, &slot.JitterSec, &slot.ScheduledTime, &slot.Platform,
		&slot.Status, &slot.Priority, &errText, &slot.CreatedAt, &slot.UpdatedAt,
	); err != nil {
		return nil, err
	}
	slot.Kind = model.Kind(kind)
	slot.ContentID = int64Ptr(contentID)
	slot.StoryID = int64Ptr(storyID)
	slot.ImageSetID = int64Ptr(imageSetID)
	slot.VariantNo = intPtr(variantNo)
	slot.Error = nullStringValue(errText)
	return slot, nil
}

func scanSlots(rows *sql.Rows) ([]*model.Slot, error) {
	var slots []*model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// Create は投稿枠を作成する。
func (r *PostgresSlotRepo) Create(ctx context.Context, slot *model.Slot) (int64, error) {
	platform := slot.Platform
	if platform == "" {
		platform = model.DefaultPlatform
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO slots (kind, content_id, story_id, image_set_id, caption_variant_no,
		                    planned_time, jitter_sec, scheduled_time, platform, status, priority)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'queued', $10)
		 RETURNING id`,
		string(slot.Kind), nullInt64(slot.ContentID), nullInt64(slot.StoryID),
		nullInt64(slot.ImageSetID), nullIntFromPtr(slot.VariantNo),
		slot.PlannedTime.UTC(), slot.JitterSec, slot.ScheduledTime.UTC(),
		platform, slot.Priority,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, model.ErrDuplicateSlot
		}
		return 0, fmt.Errorf("投稿枠の作成に失敗しました: %w", err)
	}
	return id, nil
}

// FindByID は指定IDの投稿枠を取得する。見つからない場合はnilを返す。
func (r *PostgresSlotRepo) FindByID(ctx context.Context, id int64) (*model.Slot, error) {
	slot, err := scanSlot(r.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿枠の取得に失敗しました: %w", err)
	}
	return slot, nil
}

// List は条件に一致する投稿枠を公開時刻順に取得する。
func (r *PostgresSlotRepo) List(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + slotColumns + ` FROM slots`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limitArg(filter.Limit))
	query += fmt.Sprintf(" ORDER BY scheduled_time ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿枠一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, fmt.Errorf("投稿枠一覧の読み取りに失敗しました: %w", err)
	}
	return slots, nil
}

// ListOpen は指定種別の未バインドqueued投稿枠を公開時刻の早い順に取得する。
func (r *PostgresSlotRepo) ListOpen(ctx context.Context, kind model.Kind, limit int) ([]*model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE kind = $1 AND status = 'queued'
		   AND content_id IS NULL AND story_id IS NULL AND image_set_id IS NULL
		 ORDER BY scheduled_time ASC, id ASC
		 LIMIT $2`,
		string(kind), limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("空き投稿枠の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, fmt.Errorf("空き投稿枠の読み取りに失敗しました: %w", err)
	}
	return slots, nil
}

// ListDue は公開期限に達したバインド済みqueued投稿枠を取得する。
func (r *PostgresSlotRepo) ListDue(ctx context.Context, now time.Time, kind model.Kind, limit int) ([]*model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE status = 'queued' AND scheduled_time <= $1
		   AND ($2 = '' OR kind = $2)
		   AND (content_id IS NOT NULL OR story_id IS NOT NULL OR image_set_id IS NOT NULL)
		 ORDER BY scheduled_time ASC, priority DESC, id ASC
		 LIMIT $3`,
		now.UTC(), string(kind), limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("公開対象投稿枠の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, fmt.Errorf("公開対象投稿枠の読み取りに失敗しました: %w", err)
	}
	return slots, nil
}

// Bind は未バインドのqueued投稿枠にコンテンツ参照を書き込む。
// 投稿枠が既にバインド済みまたはqueued以外の場合はfalseを返す。
// 参照先が ready でない場合や画像セットが既に別の投稿枠にバインド済みの場合は
// ErrContentNotReady を返し、投稿枠は変更しない。
func (r *PostgresSlotRepo) Bind(ctx context.Context, slotID int64, binding model.SlotBinding) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if binding.ImageSetID != nil {
		var bound bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM slots WHERE image_set_id = $1)`,
			*binding.ImageSetID,
		).Scan(&bound); err != nil {
			return false, fmt.Errorf("画像セットのバインド状況の確認に失敗しました: %w", err)
		}
		if bound {
			return false, ErrContentNotReady
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE slots SET content_id = $2, story_id = $3, image_set_id = $4,
		                  caption_variant_no = $5, updated_at = now()
		 WHERE id = $1 AND status = 'queued'
		   AND content_id IS NULL AND story_id IS NULL AND image_set_id IS NULL`,
		slotID, nullInt64(binding.ContentID), nullInt64(binding.StoryID),
		nullInt64(binding.ImageSetID), nullIntFromPtr(binding.VariantNo),
	)
	if err != nil {
		if violatesConstraint(err, imageSetUniqueIndex) {
			return false, ErrContentNotReady
		}
		if isUniqueViolation(err) {
			return false, model.ErrDuplicateSlot
		}
		return false, fmt.Errorf("投稿枠のバインドに失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if !ok {
		return false, nil
	}

	if binding.ContentID != nil {
		if err := transitionReady(ctx, tx, "contents", *binding.ContentID); err != nil {
			return false, err
		}
	}
	if binding.StoryID != nil {
		if err := transitionReady(ctx, tx, "stories", *binding.StoryID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// transitionReady は ready の行を queued に遷移する。対象外の場合は ErrContentNotReady を返す。
func transitionReady(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE `+table+` SET status = 'queued' WHERE id = $1 AND status = 'ready'`, id,
	)
	if err != nil {
		return fmt.Errorf("バインド対象の状態更新に失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if !ok {
		return ErrContentNotReady
	}
	return nil
}

// MarkPosted は queued の投稿枠を posted に遷移し、公開記録を追加する。
func (r *PostgresSlotRepo) MarkPosted(ctx context.Context, slotID int64, post *model.Post) (bool, error) {
	return r.settle(ctx, slotID, model.SlotStatusPosted, post)
}

// MarkFailed は queued の投稿枠を failed に遷移し、公開記録を追加する。
func (r *PostgresSlotRepo) MarkFailed(ctx context.Context, slotID int64, post *model.Post) (bool, error) {
	return r.settle(ctx, slotID, model.SlotStatusFailed, post)
}

// settle は投稿枠を終端状態に遷移し、公開記録と参照先の状態を同一トランザクションで更新する。
func (r *PostgresSlotRepo) settle(ctx context.Context, slotID int64, status string, post *model.Post) (bool, error) {
	errText := ""
	if status == model.SlotStatusFailed {
		errText = post.Error
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE slots SET status = $2, error = $3, updated_at = now()
		 WHERE id = $1 AND status = 'queued'`,
		slotID, status, nullString(errText),
	)
	if err != nil {
		return false, fmt.Errorf("投稿枠の状態更新に失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if !ok {
		return false, nil
	}

	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	post.SlotID = slotID
	post.Status = status
	_, err = tx.ExecContext(ctx,
		`INSERT INTO posts (id, slot_id, platform_post_id, posted_at, status, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, slotID, nullString(post.PlatformPostID), post.PostedAt, status, nullString(post.Error),
	)
	if err != nil {
		return false, fmt.Errorf("公開記録の追加に失敗しました: %w", err)
	}

	for _, table := range []string{"contents", "stories"} {
		column := "content_id"
		if table == "stories" {
			column = "story_id"
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET status = $2
			 WHERE id = (SELECT `+column+` FROM slots WHERE id = $1)`,
			slotID, status,
		); err != nil {
			return false, fmt.Errorf("参照先の状態更新に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// SkipStale は公開時刻を過ぎても未バインドのままの投稿枠を skipped にする。
func (r *PostgresSlotRepo) SkipStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE slots SET status = 'skipped', updated_at = now()
		 WHERE status = 'queued' AND scheduled_time <= $1
		   AND content_id IS NULL AND story_id IS NULL AND image_set_id IS NULL`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ投稿枠のスキップに失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Reset は failed の投稿枠を queued に戻す。参照先のコンテンツとストーリーも queued に戻す。
func (r *PostgresSlotRepo) Reset(ctx context.Context, slotID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE slots SET status = 'queued', error = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'failed'`,
		slotID,
	)
	if err != nil {
		return false, fmt.Errorf("投稿枠のリセットに失敗しました: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if !ok {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE contents SET status = 'queued', error = NULL, updated_at = now()
		 WHERE id = (SELECT content_id FROM slots WHERE id = $1) AND status = 'failed'`,
		slotID,
	); err != nil {
		return false, fmt.Errorf("コンテンツの状態更新に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stories SET status = 'queued'
		 WHERE id = (SELECT story_id FROM slots WHERE id = $1) AND status = 'failed'`,
		slotID,
	); err != nil {
		return false, fmt.Errorf("ストーリーの状態更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// ListPosts は投稿枠の公開記録を作成順に取得する。
func (r *PostgresSlotRepo) ListPosts(ctx context.Context, slotID int64) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slot_id, platform_post_id, posted_at, status, error, created_at
		 FROM posts WHERE slot_id = $1 ORDER BY created_at ASC`,
		slotID,
	)
	if err != nil {
		return nil, fmt.Errorf("公開記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p := &model.Post{}
		var platformID, errText sql.NullString
		var postedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.SlotID, &platformID, &postedAt, &p.Status, &errText, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("公開記録の読み取りに失敗しました: %w", err)
		}
		p.PlatformPostID = nullStringValue(platformID)
		p.Error = nullStringValue(errText)
		if postedAt.Valid {
			t := postedAt.Time
			p.PostedAt = &t
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開記録の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// compile-time interface check
var _ SlotRepository = (*PostgresSlotRepo)(nil)
