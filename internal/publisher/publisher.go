// Package publisher は外部の公開APIを呼び出すPublisherの契約と実装を提供する。
package publisher

import (
	"context"
)

// Publisher は投稿先プラットフォームへの公開を抽象化する。
// 各メソッドは成功時にプラットフォームが採番したIDを返し、
// 成功以外の応答では内容を含むエラーを返す。
type Publisher interface {
	PublishPhoto(ctx context.Context, imageRef, caption string) (string, error)
	PublishImageSet(ctx context.Context, imageRefs []string, caption string) (string, error)
	PublishVideo(ctx context.Context, videoRef, caption string) (string, error)
	PublishStory(ctx context.Context, storyType string, payload map[string]any) (string, error)

	// AttachSupplementaryText は公開済みの投稿にコメントとしてテキストを付ける。
	AttachSupplementaryText(ctx context.Context, platformID, text string) error
}
