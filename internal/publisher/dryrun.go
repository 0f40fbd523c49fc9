package publisher

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// DryRun は外部APIを呼ばずに公開したものとして扱うPublisher。
// 公開ゲートウェイが未設定の環境で、計画から公開までの流れを確認するために使う。
type DryRun struct {
	logger *slog.Logger
}

// compile-time interface check
var _ Publisher = (*DryRun)(nil)

// NewDryRun はDryRunの新しいインスタンスを生成する。
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger}
}

func (d *DryRun) PublishPhoto(ctx context.Context, imageRef, caption string) (string, error) {
	return d.record("photo", slog.String("image_ref", imageRef))
}

func (d *DryRun) PublishImageSet(ctx context.Context, imageRefs []string, caption string) (string, error) {
	return d.record("image_set", slog.Int("images", len(imageRefs)))
}

func (d *DryRun) PublishVideo(ctx context.Context, videoRef, caption string) (string, error) {
	return d.record("video", slog.String("video_ref", videoRef))
}

func (d *DryRun) PublishStory(ctx context.Context, storyType string, payload map[string]any) (string, error) {
	return d.record("story", slog.String("story_type", storyType))
}

func (d *DryRun) AttachSupplementaryText(ctx context.Context, platformID, text string) error {
	d.logger.Info("dry-run: コメントを付けたものとして扱います", slog.String("platform_id", platformID))
	return nil
}

func (d *DryRun) record(media string, attr slog.Attr) (string, error) {
	id := "dryrun-" + uuid.NewString()
	d.logger.Info("dry-run: 公開したものとして扱います",
		slog.String("media", media),
		slog.String("platform_id", id),
		attr,
	)
	return id, nil
}
