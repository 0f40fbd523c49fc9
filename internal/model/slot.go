package model

import "time"

// 投稿枠の状態。
const (
	SlotStatusQueued  = "queued"
	SlotStatusPosted  = "posted"
	SlotStatusFailed  = "failed"
	SlotStatusSkipped = "skipped"
)

// DefaultPlatform は投稿先プラットフォーム名。
const DefaultPlatform = "instagram"

// Slot は公開予定時刻を持つ投稿枠を表す。
// コンテンツ参照（ContentID / StoryID / ImageSetID）のいずれかが設定されている場合にバインド済みとなる。
type Slot struct {
	ID            int64
	Kind          Kind
	ContentID     *int64
	StoryID       *int64
	ImageSetID    *int64
	VariantNo     *int
	PlannedTime   time.Time
	JitterSec     int
	ScheduledTime time.Time
	Platform      string
	Status        string
	Priority      int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Bound はコンテンツ参照が設定済みかどうかを返す。
func (s *Slot) Bound() bool {
	return s.ContentID != nil || s.StoryID != nil || s.ImageSetID != nil
}

// Due は指定時刻の時点で公開期限に達しているかを返す。
func (s *Slot) Due(now time.Time) bool {
	return !s.ScheduledTime.After(now)
}

// SlotBinding はAssignmentEngineがSlotに書き込むコンテンツ参照。
// 種別に応じて1つの参照だけを設定する。
type SlotBinding struct {
	ContentID  *int64
	StoryID    *int64
	ImageSetID *int64
	VariantNo  *int
}

// Post は1回の公開試行の監査記録。追記のみで更新しない。
type Post struct {
	ID             string
	SlotID         int64
	PlatformPostID string
	PostedAt       *time.Time
	Status         string
	Error          string
	CreatedAt      time.Time
}

// SlotFilter はSlot一覧取得の絞り込み条件。
type SlotFilter struct {
	Status string
	Kind   Kind
	Limit  int
}
