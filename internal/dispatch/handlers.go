package dispatch

import (
	"context"
	"fmt"

	"github.com/hitoshi/postplan/internal/model"
)

// resolvePhoto はmemeの投稿枠を単一画像の公開に解決する。キャプション候補が指定されていれば優先する。
func (d *Dispatcher) resolvePhoto(ctx context.Context, slot *model.Slot) (*publication, error) {
	c, caption, tags, err := d.resolveContent(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &publication{
		caption:  caption,
		tags:     tags,
		withTags: true,
		publish: func(ctx context.Context, caption string) (string, error) {
			return d.publisher.PublishPhoto(ctx, c.PayloadRef, caption)
		},
	}, nil
}

// resolveVideo はreelの投稿枠を動画の公開に解決する。
func (d *Dispatcher) resolveVideo(ctx context.Context, slot *model.Slot) (*publication, error) {
	c, caption, tags, err := d.resolveContent(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &publication{
		caption:  caption,
		tags:     tags,
		withTags: true,
		publish: func(ctx context.Context, caption string) (string, error) {
			return d.publisher.PublishVideo(ctx, c.PayloadRef, caption)
		},
	}, nil
}

func (d *Dispatcher) resolveContent(ctx context.Context, slot *model.Slot) (*model.Content, string, string, error) {
	if slot.ContentID == nil {
		return nil, "", "", fmt.Errorf("%sの投稿枠にコンテンツ参照がありません", slot.Kind)
	}
	c, err := d.contents.FindByID(ctx, *slot.ContentID)
	if err != nil {
		return nil, "", "", fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, "", "", model.NewNotFoundError("コンテンツ", *slot.ContentID)
	}

	caption, tags := c.Caption, c.Hashtags
	if slot.VariantNo != nil {
		v, err := d.contents.FindVariant(ctx, c.ID, *slot.VariantNo)
		if err != nil {
			return nil, "", "", fmt.Errorf("キャプション候補の取得に失敗しました: %w", err)
		}
		// 候補が見つからない場合はコンテンツ本体のキャプションを使う
		if v != nil {
			caption = v.Caption
			if v.Hashtags != "" {
				tags = v.Hashtags
			}
		}
	}
	return c, caption, tags, nil
}

// resolveImageSet はcarouselの投稿枠を画像セットの公開に解決する。
func (d *Dispatcher) resolveImageSet(ctx context.Context, slot *model.Slot) (*publication, error) {
	if slot.ImageSetID == nil {
		return nil, fmt.Errorf("%sの投稿枠に画像セット参照がありません", slot.Kind)
	}
	set, err := d.imageSets.FindByID(ctx, *slot.ImageSetID)
	if err != nil {
		return nil, fmt.Errorf("画像セットの取得に失敗しました: %w", err)
	}
	if set == nil {
		return nil, model.NewNotFoundError("画像セット", *slot.ImageSetID)
	}
	return &publication{
		caption:  set.Caption,
		withTags: true,
		publish: func(ctx context.Context, caption string) (string, error) {
			return d.publisher.PublishImageSet(ctx, set.ImageRefs, caption)
		},
	}, nil
}

// resolveStory はstoryの投稿枠をストーリーの公開に解決する。ストーリーにはタグを付けない。
func (d *Dispatcher) resolveStory(ctx context.Context, slot *model.Slot) (*publication, error) {
	if slot.StoryID == nil {
		return nil, fmt.Errorf("%sの投稿枠にストーリー参照がありません", slot.Kind)
	}
	story, err := d.stories.FindByID(ctx, *slot.StoryID)
	if err != nil {
		return nil, fmt.Errorf("ストーリーの取得に失敗しました: %w", err)
	}
	if story == nil {
		return nil, model.NewNotFoundError("ストーリー", *slot.StoryID)
	}
	return &publication{
		publish: func(ctx context.Context, _ string) (string, error) {
			return d.publisher.PublishStory(ctx, story.StoryType, story.Payload)
		},
	}, nil
}
