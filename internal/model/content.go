package model

import "time"

// コンテンツのライフサイクル状態。
const (
	ContentStatusNew    = "new"
	ContentStatusReady  = "ready"
	ContentStatusQueued = "queued"
	ContentStatusPosted = "posted"
	ContentStatusFailed = "failed"
)

// メディア種別。
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// Content は投稿可能な1件のコンテンツ（画像または動画）を表す。
// (Origin, OriginID) は取り込みの冪等性キー。
type Content struct {
	ID         int64
	Origin     string
	OriginID   string
	Title      string
	MediaType  string
	PayloadRef string
	Caption    string
	Hashtags   string
	Status     string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CaptionVariant はコンテンツに紐づくキャプション候補。
// 書き込み後はActiveフラグ以外変更されない。
type CaptionVariant struct {
	ContentID int64
	VariantNo int
	Caption   string
	Hashtags  string
	Active    bool
}

// ImageSet は順序付きの画像セット（カルーセル）を表す。
type ImageSet struct {
	ID        int64
	Caption   string
	ImageRefs []string
	CreatedAt time.Time
}

// ImageSetの画像枚数の制約。
const (
	ImageSetMinImages = 2
	ImageSetMaxImages = 10
)

// Story はストーリー投稿のペイロードを表す。
type Story struct {
	ID        int64
	StoryType string
	Payload   map[string]any
	Status    string
	CreatedAt time.Time
}
