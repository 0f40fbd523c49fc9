// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/postplan/internal/model"
)

// ContentRepository はコンテンツとキャプション候補の永続化インターフェース。
type ContentRepository interface {
	// Create はコンテンツを登録する。(origin, origin_id) が既に存在する場合は
	// 既存IDとcreated=falseを返す。
	Create(ctx context.Context, content *model.Content) (id int64, created bool, err error)

	// FindByID は指定IDのコンテンツを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Content, error)

	// UpdateCaption はキャプションとハッシュタグを設定し、status を ready にする。
	// status が new または ready 以外の場合は更新せずfalseを返す。
	UpdateCaption(ctx context.Context, id int64, caption, hashtags string) (bool, error)

	// ListReady は status = 'ready' のコンテンツを作成順に取得する。
	ListReady(ctx context.Context, mediaType string, limit int) ([]*model.Content, error)

	// InsertVariants はキャプション候補を追加する。既存の (content_id, variant_no) は変更しない。
	// 追加した件数を返す。
	InsertVariants(ctx context.Context, contentID int64, variants []model.CaptionVariant) (int, error)

	// SetVariantActive はキャプション候補のactiveフラグを変更する。
	SetVariantActive(ctx context.Context, contentID int64, variantNo int, active bool) (bool, error)

	// ListActiveVariants は有効なキャプション候補を variant_no 順に取得する。
	ListActiveVariants(ctx context.Context, contentID int64) ([]model.CaptionVariant, error)

	// FindVariant は指定番号のキャプション候補を取得する。見つからない場合はnilを返す。
	FindVariant(ctx context.Context, contentID int64, variantNo int) (*model.CaptionVariant, error)
}

// ImageSetRepository は画像セットの永続化インターフェース。
type ImageSetRepository interface {
	// Create は画像セットと画像を同一トランザクションで作成する。
	Create(ctx context.Context, set *model.ImageSet) (int64, error)

	// FindByID は指定IDの画像セットを画像順に取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.ImageSet, error)

	// ListUnscheduled はどの投稿枠にもバインドされていない画像セットを作成順に取得する。
	ListUnscheduled(ctx context.Context, limit int) ([]*model.ImageSet, error)
}

// StoryRepository はストーリーの永続化インターフェース。
type StoryRepository interface {
	// Create はストーリーを status = 'ready' で作成する。
	Create(ctx context.Context, story *model.Story) (int64, error)

	// FindByID は指定IDのストーリーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Story, error)

	// ListReady は status = 'ready' のストーリーを作成順に取得する。
	ListReady(ctx context.Context, limit int) ([]*model.Story, error)
}

// SlotRepository は投稿枠と公開記録の永続化インターフェース。
// 状態を変更する操作はすべて1行を対象とした条件付きUPDATEで行い、
// 競合に負けた場合は影響行数0としてfalseを返す。
type SlotRepository interface {
	// Create は投稿枠を作成する。一意制約違反の場合は model.ErrDuplicateSlot を返す。
	Create(ctx context.Context, slot *model.Slot) (int64, error)

	// FindByID は指定IDの投稿枠を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Slot, error)

	// List は条件に一致する投稿枠を公開時刻順に取得する。
	List(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error)

	// ListOpen は指定種別の未バインドかつ queued の投稿枠を公開時刻順に取得する。
	ListOpen(ctx context.Context, kind model.Kind, limit int) ([]*model.Slot, error)

	// ListDue は公開時刻がnow以前のバインド済みqueued投稿枠を公開時刻順に取得する。
	// kindが空の場合は全種別を対象とする。
	ListDue(ctx context.Context, now time.Time, kind model.Kind, limit int) ([]*model.Slot, error)

	// Bind は未バインドのqueued投稿枠にコンテンツ参照を書き込む。
	// 参照先のコンテンツ・ストーリーは同一トランザクションで ready から queued に遷移する。
	Bind(ctx context.Context, slotID int64, binding model.SlotBinding) (bool, error)

	// MarkPosted は queued の投稿枠を posted に遷移し、公開記録を追加する。
	MarkPosted(ctx context.Context, slotID int64, post *model.Post) (bool, error)

	// MarkFailed は queued の投稿枠を failed に遷移し、公開記録を追加する。
	MarkFailed(ctx context.Context, slotID int64, post *model.Post) (bool, error)

	// SkipStale は公開時刻がbefore以前の未バインドqueued投稿枠を skipped にする。
	SkipStale(ctx context.Context, before time.Time) (int64, error)

	// Reset は failed の投稿枠を queued に戻し、エラーをクリアする。
	Reset(ctx context.Context, slotID int64) (bool, error)

	// ListPosts は投稿枠の公開記録を作成順に取得する。
	ListPosts(ctx context.Context, slotID int64) ([]*model.Post, error)
}

// PoolRepository はハッシュタグプールと音源プールの永続化インターフェース。
type PoolRepository interface {
	// UpsertHashtagPool はハッシュタグプールを作成または置き換える。更新時はversionを加算する。
	UpsertHashtagPool(ctx context.Context, name, tagsCSV string, active bool) error

	// ActiveHashtagPools は有効なプールを名前からカンマ区切りタグへのマップで返す。
	ActiveHashtagPools(ctx context.Context) (map[string]string, error)

	// UpsertAudioPool は音源プールを作成または置き換える。
	UpsertAudioPool(ctx context.Context, name, itemsJSON string, active bool) error

	// FindAudioPool は指定名の音源プールを取得する。見つからない場合はnilを返す。
	FindAudioPool(ctx context.Context, name string) (*model.AudioPool, error)
}
