// Package content はコンテンツストアのドメインロジックを提供する。
// 取り込み・キャプション付与・プール集計の各外部処理はこのパッケージを通して書き込む。
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/postplan/internal/hashtag"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/repository"
	"github.com/hitoshi/postplan/internal/security"
)

// Input は取り込み時のコンテンツ情報。
type Input struct {
	Origin     string `json:"origin"`
	OriginID   string `json:"origin_id"`
	Title      string `json:"title"`
	PayloadRef string `json:"payload_ref"`
	MediaType  string `json:"media_type"`
}

// VariantInput はキャプション候補1件。
type VariantInput struct {
	VariantNo int    `json:"variant_no"`
	Caption   string `json:"caption"`
	Hashtags  string `json:"hashtags"`
}

// Store はコンテンツストアのサービス層。
// 入力検証とサニタイズを行ってからリポジトリに書き込む。
type Store struct {
	contents  repository.ContentRepository
	imageSets repository.ImageSetRepository
	stories   repository.StoryRepository
	pools     repository.PoolRepository
	sanitizer security.CaptionSanitizer
	guard     security.MediaGuard
	logger    *slog.Logger
	// probe がtrueの場合、登録時にメディアURLへHEADリクエストを送って取得可能かを確認する。
	probe bool
}

// StoreOption はStoreの任意設定。
type StoreOption func(*Store)

// WithMediaProbe は登録時のメディア疎通確認を有効にする。
func WithMediaProbe() StoreOption {
	return func(s *Store) { s.probe = true }
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(
	contents repository.ContentRepository,
	imageSets repository.ImageSetRepository,
	stories repository.StoryRepository,
	pools repository.PoolRepository,
	sanitizer security.CaptionSanitizer,
	guard security.MediaGuard,
	logger *slog.Logger,
	opts ...StoreOption,
) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		contents:  contents,
		imageSets: imageSets,
		stories:   stories,
		pools:     pools,
		sanitizer: sanitizer,
		guard:     guard,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkRefs はメディアURLを検証し、有効な場合は疎通も確認する。
func (s *Store) checkRefs(ctx context.Context, refs ...string) error {
	if err := security.ValidateRefs(s.guard, refs); err != nil {
		return err
	}
	if !s.probe {
		return nil
	}
	for _, ref := range refs {
		if err := s.guard.Probe(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// CreateContent はコンテンツを登録する。
// (origin, origin_id) が既に存在する場合は2回目の挿入を行わず、既存IDとcreated=falseを返す。
func (s *Store) CreateContent(ctx context.Context, in Input) (int64, bool, error) {
	in.Origin = strings.TrimSpace(in.Origin)
	in.OriginID = strings.TrimSpace(in.OriginID)
	if in.Origin == "" || in.OriginID == "" {
		return 0, false, model.NewValidationError("origin と origin_id は必須です")
	}
	if in.MediaType == "" {
		in.MediaType = model.MediaTypeImage
	}
	if in.MediaType != model.MediaTypeImage && in.MediaType != model.MediaTypeVideo {
		return 0, false, model.NewValidationError(fmt.Sprintf("media_type は image または video を指定してください: %q", in.MediaType))
	}
	if err := s.checkRefs(ctx, in.PayloadRef); err != nil {
		return 0, false, model.NewValidationError(fmt.Sprintf("payload_ref が不正です: %v", err))
	}

	id, created, err := s.contents.Create(ctx, &model.Content{
		Origin:     in.Origin,
		OriginID:   in.OriginID,
		Title:      in.Title,
		MediaType:  in.MediaType,
		PayloadRef: in.PayloadRef,
		Status:     model.ContentStatusNew,
	})
	if err != nil {
		return 0, false, fmt.Errorf("コンテンツの登録に失敗しました: %w", err)
	}

	if created {
		s.logger.Info("コンテンツを登録しました",
			slog.Int64("content_id", id),
			slog.String("origin", in.Origin),
		)
	}
	return id, created, nil
}

// SetCaption はキャプションとハッシュタグを設定し、コンテンツを ready にする。
// キャプションはプレーンテキストにサニタイズし、タグは "#a #b" 形式に正規化する。
func (s *Store) SetCaption(ctx context.Context, id int64, caption, hashtags string) error {
	existing, err := s.contents.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return model.NewNotFoundError("コンテンツ", id)
	}

	ok, err := s.contents.UpdateCaption(ctx, id, s.sanitizer.Sanitize(caption), normalizeTags(hashtags))
	if err != nil {
		return err
	}
	if !ok {
		return model.NewInvalidStateError(fmt.Sprintf("status が %s のコンテンツのキャプションは変更できません", existing.Status))
	}
	return nil
}

// SetCaptionVariants はキャプション候補を追加する。既存の番号は上書きしない。
// 追加した件数を返す。
func (s *Store) SetCaptionVariants(ctx context.Context, id int64, variants []VariantInput) (int, error) {
	if len(variants) == 0 {
		return 0, model.NewValidationError("キャプション候補が空です")
	}

	seen := make(map[int]struct{}, len(variants))
	rows := make([]model.CaptionVariant, 0, len(variants))
	for _, v := range variants {
		if v.VariantNo <= 0 {
			return 0, model.NewValidationError(fmt.Sprintf("variant_no は1以上を指定してください: %d", v.VariantNo))
		}
		if _, dup := seen[v.VariantNo]; dup {
			return 0, model.NewValidationError(fmt.Sprintf("variant_no が重複しています: %d", v.VariantNo))
		}
		seen[v.VariantNo] = struct{}{}
		rows = append(rows, model.CaptionVariant{
			ContentID: id,
			VariantNo: v.VariantNo,
			Caption:   s.sanitizer.Sanitize(v.Caption),
			Hashtags:  normalizeTags(v.Hashtags),
			Active:    true,
		})
	}

	existing, err := s.contents.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return 0, model.NewNotFoundError("コンテンツ", id)
	}

	n, err := s.contents.InsertVariants(ctx, id, rows)
	if err != nil {
		return 0, err
	}
	if n < len(rows) {
		s.logger.Warn("既存のキャプション候補は変更しませんでした",
			slog.Int64("content_id", id),
			slog.Int("skipped", len(rows)-n),
		)
	}
	return n, nil
}

// RetireVariant はキャプション候補を無効にする。以後の割り当てで選ばれなくなる。
func (s *Store) RetireVariant(ctx context.Context, id int64, variantNo int) error {
	ok, err := s.contents.SetVariantActive(ctx, id, variantNo, false)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("キャプション候補(variant_no=%d)", variantNo), id)
	}
	return nil
}

// UpsertPool はハッシュタグプールを作成または置き換える。
// タグは前後の空白と先頭の # を除いたカンマ区切りで保存する。
func (s *Store) UpsertPool(ctx context.Context, name, tagsCSV string, active bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewValidationError("プール名は必須です")
	}
	normalized := strings.Join(hashtag.SplitCSV(tagsCSV), ",")
	if err := s.pools.UpsertHashtagPool(ctx, name, normalized, active); err != nil {
		return err
	}
	s.logger.Info("ハッシュタグプールを更新しました",
		slog.String("pool", name),
		slog.Int("tags", len(hashtag.SplitCSV(normalized))),
		slog.Bool("active", active),
	)
	return nil
}

// UpsertAudioPool は音源プールを作成または置き換える。itemsJSONはJSON配列であること。
func (s *Store) UpsertAudioPool(ctx context.Context, name, itemsJSON string, active bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewValidationError("プール名は必須です")
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return model.NewValidationError(fmt.Sprintf("音源プールはJSON配列で指定してください: %v", err))
	}
	return s.pools.UpsertAudioPool(ctx, name, itemsJSON, active)
}

// SeedPools は既定のハッシュタグプールを登録する。既存のプールは上書きされる。
func (s *Store) SeedPools(ctx context.Context) error {
	for _, p := range DefaultPools() {
		if err := s.UpsertPool(ctx, p.Name, p.TagsCSV, true); err != nil {
			return fmt.Errorf("プール %s の登録に失敗しました: %w", p.Name, err)
		}
	}
	return nil
}

// CreateImageSet は画像セットを作成する。
// 画像が2枚未満の場合は検証エラー、10枚を超える場合は先頭10枚のみを使用する。
func (s *Store) CreateImageSet(ctx context.Context, refs []string, caption string) (*model.ImageSet, error) {
	if len(refs) < model.ImageSetMinImages {
		return nil, model.NewValidationError(fmt.Sprintf("画像セットには%d枚以上の画像が必要です: %d枚", model.ImageSetMinImages, len(refs)))
	}
	if len(refs) > model.ImageSetMaxImages {
		s.logger.Warn("画像セットの上限を超えた画像を切り捨てました",
			slog.Int("given", len(refs)),
			slog.Int("max", model.ImageSetMaxImages),
		)
		refs = refs[:model.ImageSetMaxImages]
	}
	if err := s.checkRefs(ctx, refs...); err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("画像URLが不正です: %v", err))
	}

	set := &model.ImageSet{
		Caption:   s.sanitizer.Sanitize(caption),
		ImageRefs: append([]string(nil), refs...),
	}
	id, err := s.imageSets.Create(ctx, set)
	if err != nil {
		return nil, err
	}
	set.ID = id

	s.logger.Info("画像セットを作成しました",
		slog.Int64("image_set_id", id),
		slog.Int("images", len(set.ImageRefs)),
	)
	return set, nil
}

// CreateImageSetFromContents は既存の画像コンテンツから画像セットを作成する。
// captionが空の場合は先頭コンテンツのキャプションを使用する。
func (s *Store) CreateImageSetFromContents(ctx context.Context, contentIDs []int64, caption string) (*model.ImageSet, error) {
	if len(contentIDs) > model.ImageSetMaxImages {
		contentIDs = contentIDs[:model.ImageSetMaxImages]
	}

	refs := make([]string, 0, len(contentIDs))
	for _, id := range contentIDs {
		c, err := s.contents.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
		}
		if c == nil {
			return nil, model.NewNotFoundError("コンテンツ", id)
		}
		if c.MediaType != model.MediaTypeImage {
			return nil, model.NewValidationError(fmt.Sprintf("画像以外のコンテンツは画像セットに含められません: %d", id))
		}
		if caption == "" {
			caption = c.Caption
		}
		refs = append(refs, c.PayloadRef)
	}
	return s.CreateImageSet(ctx, refs, caption)
}

// CreateStory はストーリーを作成する。
func (s *Store) CreateStory(ctx context.Context, storyType string, payload map[string]any) (int64, error) {
	storyType = strings.TrimSpace(storyType)
	if storyType == "" {
		return 0, model.NewValidationError("story_type は必須です")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return s.stories.Create(ctx, &model.Story{StoryType: storyType, Payload: payload})
}

// normalizeTags は自由形式のタグ文字列を重複を除いた "#a #b" 形式に正規化する。
func normalizeTags(s string) string {
	return hashtag.Render(hashtag.Merge(s, nil))
}
