package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/postplan/internal/model"
)

// PostgresStoryRepo はPostgreSQLを使用したストーリーリポジトリ。
type PostgresStoryRepo struct {
	db *sql.DB
}

// NewPostgresStoryRepo はPostgresStoryRepoを生成する。
func NewPostgresStoryRepo(db *sql.DB) *PostgresStoryRepo {
	return &PostgresStoryRepo{db: db}
}

// Create はストーリーを status = 'ready' で作成する。
func (r *PostgresStoryRepo) Create(ctx context.Context, story *model.Story) (int64, error) {
	payload, err := json.Marshal(story.Payload)
	if err != nil {
		return 0, fmt.Errorf("ストーリーペイロードのエンコードに失敗しました: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx,
		`INSERT INTO stories (story_type, payload, status) VALUES ($1, $2, 'ready') RETURNING id`,
		story.StoryType, string(payload),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("ストーリーの作成に失敗しました: %w", err)
	}
	story.ID = id
	story.Status = model.ContentStatusReady
	return id, nil
}

func scanStory(s rowScanner) (*model.Story, error) {
	story := &model.Story{}
	var payload []byte
	if err := s.Scan(&story.ID, &story.StoryType, &payload, &story.Status, &story.CreatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &story.Payload); err != nil {
			return nil, fmt.Errorf("ストーリーペイロードのデコードに失敗しました: %w", err)
		}
	}
	return story, nil
}

// FindByID は指定IDのストーリーを取得する。見つからない場合はnilを返す。
func (r *PostgresStoryRepo) FindByID(ctx context.Context, id int64) (*model.Story, error) {
	story, err := scanStory(r.db.QueryRowContext(ctx,
		`SELECT id, story_type, payload, status, created_at FROM stories WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ストーリーの取得に失敗しました: %w", err)
	}
	return story, nil
}

// ListReady は status = 'ready' のストーリーを作成順に取得する。
func (r *PostgresStoryRepo) ListReady(ctx context.Context, limit int) ([]*model.Story, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, story_type, payload, status, created_at FROM stories
		 WHERE status = 'ready' ORDER BY created_at ASC, id ASC LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("公開待ちストーリーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stories []*model.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("公開待ちストーリーの読み取りに失敗しました: %w", err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開待ちストーリーの走査に失敗しました: %w", err)
	}
	return stories, nil
}

// compile-time interface check
var _ StoryRepository = (*PostgresStoryRepo)(nil)
