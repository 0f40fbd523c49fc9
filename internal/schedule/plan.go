package schedule

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hitoshi/postplan/internal/model"
	"gopkg.in/yaml.v3"
)

// PlanEntry は計画ファイルの1レコード。日付と時刻は運用タイムゾーンで解釈する。
type PlanEntry struct {
	Date     string `json:"date" yaml:"date"`
	Time     string `json:"time" yaml:"time"`
	Kind     string `json:"kind" yaml:"kind"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Format   string `json:"format,omitempty" yaml:"format,omitempty"`
}

// PlanDocument は計画ファイル全体。
type PlanDocument struct {
	Plan []PlanEntry `json:"plan" yaml:"plan"`
}

// Format は計画ファイルの形式。
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath は拡張子から形式を判定する。.yaml/.yml 以外はJSONとして扱う。
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

const dateLayout = "2006-01-02"

var planCategories = []string{
	"office/college", "bollywood", "cricket", "relationship", "evergreen desi", "regional", "money",
}

var memeFormats = []string{"static", "static", "carousel", "static", "carousel", "static"}

// GeneratePlan は start から days 日分の計画レコードを生成する。
// ミームはカテゴリと形式を巡回し、carousel 形式のレコードは種別 carousel として出力する。
func GeneratePlan(loc *time.Location, start time.Time, days int) []PlanEntry {
	if loc == nil {
		loc = time.UTC
	}
	s := start.In(loc)
	first := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	var plan []PlanEntry
	for d := 0; d < days; d++ {
		date := first.AddDate(0, 0, d).Format(dateLayout)
		catOffset := d % len(planCategories)

		for i, t := range MemeTimes() {
			format := memeFormats[i%len(memeFormats)]
			kind := model.KindMeme
			if format == "carousel" {
				kind = model.KindCarousel
			}
			plan = append(plan, PlanEntry{
				Date:     date,
				Time:     t.String(),
				Kind:     string(kind),
				Category: planCategories[(catOffset+i)%len(planCategories)],
				Format:   format,
			})
		}
		for _, t := range ReelTimes() {
			plan = append(plan, PlanEntry{
				Date:     date,
				Time:     t.String(),
				Kind:     string(model.KindReel),
				Category: planCategories[(catOffset+1)%len(planCategories)],
				Format:   "reel",
			})
		}
		for _, t := range StoryTimes() {
			plan = append(plan, PlanEntry{
				Date:     date,
				Time:     t.String(),
				Kind:     string(model.KindStory),
				Category: "engagement",
				Format:   "story",
			})
		}
	}
	return plan
}

// EncodePlan は計画を指定形式で書き出す。
func EncodePlan(w io.Writer, entries []PlanEntry, format Format) error {
	doc := PlanDocument{Plan: entries}
	if doc.Plan == nil {
		doc.Plan = []PlanEntry{}
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("計画のYAML出力に失敗しました: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("計画のJSON出力に失敗しました: %w", err)
		}
		return nil
	}
}

// DecodePlan は計画ファイルを読み込み、全レコードを検証する。
// 1件でも不正なレコードがあればエラーを返す。
func DecodePlan(r io.Reader, format Format) ([]PlanEntry, error) {
	var doc PlanDocument
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
			return nil, model.NewValidationError(fmt.Sprintf("計画ファイル(YAML)の解析に失敗しました: %v", err))
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("計画ファイル(JSON)の解析に失敗しました: %v", err))
		}
	}

	if err := ValidatePlan(doc.Plan); err != nil {
		return nil, err
	}
	return doc.Plan, nil
}

// ValidatePlan は全レコードの日付・時刻・種別を検証する。
func ValidatePlan(entries []PlanEntry) error {
	for i, e := range entries {
		if _, err := time.Parse(dateLayout, e.Date); err != nil {
			return model.NewValidationError(fmt.Sprintf("%d件目: 日付が不正です: %q", i+1, e.Date))
		}
		if _, err := ParseLocalTime(e.Time); err != nil {
			return model.NewValidationError(fmt.Sprintf("%d件目: 時刻が不正です: %q", i+1, e.Time))
		}
		if _, err := entryKind(e); err != nil {
			return model.NewValidationError(fmt.Sprintf("%d件目: 種別が不正です: %q", i+1, e.Kind))
		}
	}
	return nil
}

// entryKind はレコードの種別を返す。空の場合はミームとして扱う。
func entryKind(e PlanEntry) (model.Kind, error) {
	if e.Kind == "" {
		return model.KindMeme, nil
	}
	return model.ParseKind(e.Kind)
}

// PlanFromEntries は検証済みレコードから投稿枠を計画する。
// 時刻は取り込み時点で新たにジッターを引き直す。
func (p *Planner) PlanFromEntries(entries []PlanEntry, jitters Jitters) ([]PlannedSlot, error) {
	if err := ValidatePlan(entries); err != nil {
		return nil, err
	}

	slots := make([]PlannedSlot, 0, len(entries))
	for _, e := range entries {
		date, _ := time.ParseInLocation(dateLayout, e.Date, p.loc)
		at, _ := ParseLocalTime(e.Time)
		kind, _ := entryKind(e)
		slots = append(slots, p.Place(kind, date, at, jitters.For(kind)))
	}
	return slots, nil
}
