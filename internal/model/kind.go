// Package model はドメインモデルを定義する。
package model

import "fmt"

// Kind は投稿枠（Slot）とコンテンツの種別を表す。
// 種別ごとのディスパッチ処理はdispatchパッケージのハンドラーテーブルで解決する。
type Kind string

const (
	// KindMeme は単一画像の投稿。
	KindMeme Kind = "meme"
	// KindCarousel は2〜10枚の画像セット投稿。
	KindCarousel Kind = "carousel"
	// KindReel は短尺動画の投稿。
	KindReel Kind = "reel"
	// KindStory はインタラクティブなストーリー投稿。
	KindStory Kind = "story"
)

// Kinds は定義済みの全種別を返す。
func Kinds() []Kind {
	return []Kind{KindMeme, KindCarousel, KindReel, KindStory}
}

// Valid は定義済みの種別かどうかを返す。
func (k Kind) Valid() bool {
	switch k {
	case KindMeme, KindCarousel, KindReel, KindStory:
		return true
	}
	return false
}

// UsesContent はContentUnit（contentsテーブル）を参照する種別かどうかを返す。
func (k Kind) UsesContent() bool {
	return k == KindMeme || k == KindReel
}

// ParseKind は文字列から種別を解析する。
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", NewValidationError(fmt.Sprintf("未知の種別です: %q", s))
	}
	return k, nil
}
