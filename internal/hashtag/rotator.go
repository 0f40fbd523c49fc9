// Package hashtag は投稿枠IDをキーにしたハッシュタグのローテーションを提供する。
// 公開時に毎回再計算されるため、同じ入力に対して常に同じ結果を返す。
package hashtag

import (
	"strings"

	"github.com/hitoshi/postplan/internal/model"
)

const (
	// MaxRotatedTags はローテーション結果の最大タグ数。
	MaxRotatedTags = 25
	// MaxMergedTags はコンテンツのタグと合成した後の最大タグ数（プラットフォーム上限）。
	MaxMergedTags = 30

	perPoolTags      = 8
	regionalPoolTags = 5
	poolOffsetStep   = 3
)

// poolOrder はローテーションで参照するプールの順序。
var poolOrder = []string{
	model.PoolTrending,
	model.PoolEvergreen,
	model.PoolNiche,
	model.PoolRegional,
}

// Rotate は投稿枠IDとプール（名前 → カンマ区切りタグ）からタグ一覧を生成する。
// 各プールを (slotID + プール順 * 3) mod 件数 だけ左に回転し、先頭8件（regionalは5件）を採用する。
// 大文字小文字を区別せずに重複を除き、最大25件に切り詰める。
// 存在しない・空のプールは読み飛ばす。返すタグに # は付かない。
func Rotate(slotID int64, pools map[string]string) []string {
	var picks []string
	for i, name := range poolOrder {
		tags := SplitCSV(pools[name])
		if len(tags) == 0 {
			continue
		}

		n := int64(len(tags))
		offset := int(((slotID+int64(i*poolOffsetStep))%n + n) % n)
		rotated := append(append([]string{}, tags[offset:]...), tags[:offset]...)

		keep := perPoolTags
		if name == model.PoolRegional {
			keep = regionalPoolTags
		}
		if keep > len(rotated) {
			keep = len(rotated)
		}
		picks = append(picks, rotated[:keep]...)
	}

	return truncate(dedupe(picks), MaxRotatedTags)
}

// Render はタグを # 付きの空白区切り文字列に整形する。
func Render(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return strings.Join(out, " ")
}

// RotateString はRotateの結果をRenderした文字列を返す。
func RotateString(slotID int64, pools map[string]string) string {
	return Render(Rotate(slotID, pools))
}

// Merge はコンテンツに付与済みのタグ文字列とローテーション結果を合成する。
// コンテンツ側のタグを先に並べ、大文字小文字を区別せずに重複を除く。
func Merge(base string, rotated []string) []string {
	tags := append(ParseTags(base), rotated...)
	return truncate(dedupe(tags), MaxMergedTags)
}

// SplitCSV はカンマ区切りのタグ一覧を分割する。空要素と先頭の # は除去する。
func SplitCSV(csv string) []string {
	var tags []string
	for _, t := range strings.Split(csv, ",") {
		t = strings.TrimLeft(strings.TrimSpace(t), "#")
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ParseTags は "#a #b, c" のような自由形式のタグ文字列を分割する。
func ParseTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	var tags []string
	for _, f := range fields {
		f = strings.TrimLeft(f, "#")
		if f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func truncate(tags []string, max int) []string {
	if len(tags) > max {
		return tags[:max]
	}
	return tags
}
