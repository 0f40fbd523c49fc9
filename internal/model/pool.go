package model

import "time"

// 既定のハッシュタグプール名。
const (
	PoolTrending  = "trending"
	PoolEvergreen = "evergreen"
	PoolNiche     = "niche"
	PoolRegional  = "regional"
)

// HashtagPool はローテーション対象のタグ集合。TagsCSVはカンマ区切り。
type HashtagPool struct {
	Name      string
	TagsCSV   string
	Active    bool
	Version   int
	UpdatedAt time.Time
}

// AudioPool はリール用の音源候補集合。ItemsJSONは音源の配列をJSONで保持する。
type AudioPool struct {
	Name      string
	ItemsJSON string
	Active    bool
	Version   int
	UpdatedAt time.Time
}
