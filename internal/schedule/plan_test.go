package schedule

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/postplan/internal/model"
)

func TestGeneratePlan_OneDay(t *testing.T) {
	entries := GeneratePlan(ist, testDay(), 1)

	if len(entries) != 12+3+24 {
		t.Fatalf("len = %d, want 39", len(entries))
	}

	counts := map[string]int{}
	for _, e := range entries {
		if e.Date != "2026-10-18" {
			t.Errorf("date = %q, want 2026-10-18", e.Date)
		}
		counts[e.Kind]++
		if e.Kind == "carousel" && e.Format != "carousel" {
			t.Errorf("carousel entry has format %q", e.Format)
		}
	}
	// 12件のミームのうち形式が carousel になるのは 2,4,8,10 番目
	if counts["carousel"] != 4 || counts["meme"] != 8 {
		t.Errorf("meme/carousel counts = %d/%d, want 8/4", counts["meme"], counts["carousel"])
	}
	if counts["reel"] != 3 || counts["story"] != 24 {
		t.Errorf("reel/story counts = %d/%d, want 3/24", counts["reel"], counts["story"])
	}
	if entries[0].Time != "07:20" || entries[0].Category != "office/college" {
		t.Errorf("first entry = %+v", entries[0])
	}
}

func TestGeneratePlan_CategoryRotatesPerDay(t *testing.T) {
	entries := GeneratePlan(ist, testDay(), 2)
	perDay := len(entries) / 2

	if entries[0].Category == entries[perDay].Category {
		t.Errorf("category should rotate per day, both %q", entries[0].Category)
	}
	if entries[perDay].Date != "2026-10-19" {
		t.Errorf("second day date = %q", entries[perDay].Date)
	}
}

func TestEncodeDecodePlan_JSON(t *testing.T) {
	entries := GeneratePlan(ist, testDay(), 1)

	var buf bytes.Buffer
	if err := EncodePlan(&buf, entries, FormatJSON); err != nil {
		t.Fatalf("EncodePlan: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "{\n  \"plan\": [") {
		t.Errorf("unexpected JSON layout: %.40q", buf.String())
	}

	got, err := DecodePlan(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	if len(got) != len(entries) || got[5] != entries[5] {
		t.Errorf("decoded plan differs from encoded plan")
	}
}

func TestDecodePlan_YAML(t *testing.T) {
	src := `plan:
  - date: "2026-10-18"
    time: "07:20"
    kind: meme
    category: cricket
    format: static
  - date: "2026-10-18"
    time: "21:15"
    kind: reel
`
	got, err := DecodePlan(strings.NewReader(src), FormatYAML)
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Category != "cricket" || got[1].Kind != "reel" || got[1].Time != "21:15" {
		t.Errorf("unexpected entries: %+v", got)
	}
}

func TestDecodePlan_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"不正な時刻", `{"plan":[{"date":"2026-10-18","time":"7:20"},{"date":"2026-10-18","time":"25:00"}]}`},
		{"不正な日付", `{"plan":[{"date":"18/10/2026","time":"07:20"}]}`},
		{"不正な種別", `{"plan":[{"date":"2026-10-18","time":"07:20","kind":"tweet"}]}`},
		{"JSONとして不正", `{"plan":[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePlan(strings.NewReader(tt.src), FormatJSON)
			if !model.HasCode(err, model.ErrCodeValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"plan.yaml":   FormatYAML,
		"plan.YML":    FormatYAML,
		"plan.json":   FormatJSON,
		"plan":        FormatJSON,
		"dir.yaml/pj": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

// TestPlanFromEntries_ZeroJitter はジッター0で記述どおりの時刻が再計算されることを検証する。
func TestPlanFromEntries_ZeroJitter(t *testing.T) {
	p := newTestPlanner(1)
	entries := []PlanEntry{
		{Date: "2026-10-18", Time: "23:45"},
		{Date: "2026-10-19", Time: "12:30", Kind: "reel"},
	}

	slots, err := p.PlanFromEntries(entries, Jitters{})
	if err != nil {
		t.Fatalf("PlanFromEntries: %v", err)
	}
	if slots[0].Kind != model.KindMeme {
		t.Errorf("empty kind should default to meme, got %q", slots[0].Kind)
	}
	want := time.Date(2026, 10, 18, 18, 15, 0, 0, time.UTC)
	if !slots[0].ScheduledTime.Equal(want) {
		t.Errorf("scheduled = %v, want %v", slots[0].ScheduledTime, want)
	}
	want = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	if slots[1].Kind != model.KindReel || !slots[1].PlannedTime.Equal(want) {
		t.Errorf("slot 1 = %+v, want reel at %v", slots[1], want)
	}
}

func TestPlanFromEntries_FreshJitter(t *testing.T) {
	p := newTestPlanner(9)
	entries := make([]PlanEntry, 50)
	for i := range entries {
		entries[i] = PlanEntry{Date: "2026-10-18", Time: "12:00", Kind: "story"}
	}

	slots, err := p.PlanFromEntries(entries, DefaultJitters)
	if err != nil {
		t.Fatalf("PlanFromEntries: %v", err)
	}
	distinct := map[int]bool{}
	for _, s := range slots {
		if j := s.JitterSec(); j < -7*60 || j > 7*60 {
			t.Errorf("jitter = %ds, want within ±420s", j)
		}
		distinct[s.JitterSec()] = true
	}
	if len(distinct) < 2 {
		t.Error("each entry should draw its own jitter")
	}
}
