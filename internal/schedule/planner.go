// Package schedule は投稿枠の計画（重み付きランダム・固定時刻・週次）と
// 計画ファイルの入出力を提供する。
package schedule

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/postplan/internal/model"
)

const (
	// DefaultTimezone は運用タイムゾーン。
	DefaultTimezone = "Asia/Kolkata"
	// DefaultReferenceWeight は採択確率の正規化に使う基準重み。
	DefaultReferenceWeight = 2.5

	minutesPerDay   = 24 * 60
	minBaseInterval = 5
	oversampleRatio = 3
)

// Daypart は時間帯ごとの採択重み。StartHour <= hour < EndHour に適用する。
type Daypart struct {
	StartHour int
	EndHour   int
	Weight    float64
}

// DefaultDayparts は昼・夜・深夜のエンゲージメント重み。
var DefaultDayparts = []Daypart{
	{StartHour: 11, EndHour: 13, Weight: 2.0},
	{StartHour: 18, EndHour: 22, Weight: 2.5},
	{StartHour: 0, EndHour: 5, Weight: 1.2},
}

// LocalTime は運用タイムゾーンでの時:分を表す。
type LocalTime struct {
	Hour   int
	Minute int
}

// At は時:分からLocalTimeを生成する。
func At(hour, minute int) LocalTime {
	return LocalTime{Hour: hour, Minute: minute}
}

// ParseLocalTime は "HH:MM" 形式の時刻を解析する。
func ParseLocalTime(s string) (LocalTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return LocalTime{}, model.NewValidationError(fmt.Sprintf("時刻は HH:MM 形式で指定してください: %q", s))
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return LocalTime{}, model.NewValidationError(fmt.Sprintf("時刻が不正です: %q", s))
	}
	return LocalTime{Hour: h, Minute: m}, nil
}

// String は "HH:MM" 形式の文字列を返す。
func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// PlannedSlot は永続化前の投稿枠。時刻はいずれもUTC。
type PlannedSlot struct {
	Kind          model.Kind
	PlannedTime   time.Time
	ScheduledTime time.Time
}

// JitterSec は予定時刻からのずれを秒で返す。
func (p PlannedSlot) JitterSec() int {
	return int(p.ScheduledTime.Sub(p.PlannedTime) / time.Second)
}

// Slot はmodel.Slotに変換する。コンテンツは未バインド。
func (p PlannedSlot) Slot() *model.Slot {
	return &model.Slot{
		Kind:          p.Kind,
		PlannedTime:   p.PlannedTime,
		JitterSec:     p.JitterSec(),
		ScheduledTime: p.ScheduledTime,
		Platform:      model.DefaultPlatform,
		Status:        model.SlotStatusQueued,
	}
}

// Planner は投稿枠の公開時刻を計画する。
// 乱数源は外部から注入し、テストでは固定シードで結果を再現できる。
type Planner struct {
	loc       *time.Location
	dayparts  []Daypart
	refWeight float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Option はPlannerの設定を変更する。
type Option func(*Planner)

// WithDayparts は時間帯の重みを差し替える。
func WithDayparts(dayparts []Daypart) Option {
	return func(p *Planner) { p.dayparts = dayparts }
}

// WithReferenceWeight は採択確率の基準重みを差し替える。0以下は無視する。
func WithReferenceWeight(w float64) Option {
	return func(p *Planner) {
		if w > 0 {
			p.refWeight = w
		}
	}
}

// NewPlanner はPlannerを生成する。locがnilの場合はUTCを使用する。
func NewPlanner(loc *time.Location, rng *rand.Rand, opts ...Option) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	p := &Planner{
		loc:       loc,
		dayparts:  DefaultDayparts,
		refWeight: DefaultReferenceWeight,
		rng:       rng,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Location は運用タイムゾーンを返す。
func (p *Planner) Location() *time.Location {
	return p.loc
}

// ReferenceWeight は基準重みを返す。
func (p *Planner) ReferenceWeight() float64 {
	return p.refWeight
}

// ExceedsReference は基準重みを超える時間帯重みが設定されているかを返す。
// 超えた分の採択確率は1に丸められる。
func (p *Planner) ExceedsReference() bool {
	for _, d := range p.dayparts {
		if d.Weight > p.refWeight {
			return true
		}
	}
	return false
}

// Weight は指定時の時間帯重みを返す。どの時間帯にも該当しない場合は1.0。
func (p *Planner) Weight(hour int) float64 {
	for _, d := range p.dayparts {
		if hour >= d.StartHour && hour < d.EndHour {
			return d.Weight
		}
	}
	return 1.0
}

// DayStart は指定日時が属する運用タイムゾーンでの日の開始時刻を返す。
func (p *Planner) DayStart(day time.Time) time.Time {
	d := day.In(p.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, p.loc)
}

// WeightedRandom は重み付きランダム方式で1日分の投稿枠を計画する。
// baseEveryMin 間隔の候補を count の3倍まで走査し、時間帯重みに応じて採択する。
// 採択した候補には [-jitterMin, +jitterMin] 分のジッターを加え、当日内に収める。
// 重複を除いて昇順に並べ、count件に切り詰める。候補が足りない場合は見つかった分だけ返す。
func (p *Planner) WeightedRandom(kind model.Kind, day time.Time, count, baseEveryMin, jitterMin int) []PlannedSlot {
	if count <= 0 {
		return nil
	}

	interval := baseEveryMin
	if interval < minBaseInterval {
		interval = minBaseInterval
	}
	dayStart := p.DayStart(day)
	dayEnd := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day()+1, 0, 0, 0, 0, p.loc)
	lastMinute := dayEnd.Add(-time.Minute)

	p.mu.Lock()
	defer p.mu.Unlock()

	var accepted []PlannedSlot
	for i := 0; i < count*oversampleRatio; i++ {
		minute := (i * interval) % minutesPerDay
		if p.rng.Float64() > min(1.0, p.Weight(minute/60)/p.refWeight) {
			continue
		}

		base := dayStart.Add(time.Duration(minute) * time.Minute)
		scheduled := base.Add(time.Duration(p.jitterLocked(jitterMin)) * time.Minute).Truncate(time.Minute)
		if scheduled.Before(dayStart) {
			scheduled = dayStart
		}
		if scheduled.After(lastMinute) {
			scheduled = lastMinute
		}

		accepted = append(accepted, PlannedSlot{
			Kind:          kind,
			PlannedTime:   base.UTC(),
			ScheduledTime: scheduled.UTC(),
		})
		if len(accepted) >= count {
			break
		}
	}

	slots := dedupeByScheduled(accepted)
	if len(slots) > count {
		slots = slots[:count]
	}
	return slots
}

// FixedWindow は固定時刻方式で1日分の投稿枠を計画する。
// 各時刻に独立したジッターを加える。日付をまたぐジッターもそのまま許容する。
func (p *Planner) FixedWindow(kind model.Kind, day time.Time, times []LocalTime, jitterMin int) []PlannedSlot {
	dayStart := p.DayStart(day)

	p.mu.Lock()
	defer p.mu.Unlock()

	slots := make([]PlannedSlot, 0, len(times))
	for _, t := range times {
		slots = append(slots, p.placeLocked(kind, dayStart, t, jitterMin))
	}
	return slots
}

// Week は固定時刻方式を start から days 日分繰り返す。ジッターは枠ごとに独立に引く。
func (p *Planner) Week(start time.Time, days int, rhythm []RhythmEntry) []PlannedSlot {
	dayStart := p.DayStart(start)

	var slots []PlannedSlot
	for d := 0; d < days; d++ {
		day := dayStart.AddDate(0, 0, d)
		for _, r := range rhythm {
			slots = append(slots, p.FixedWindow(r.Kind, day, r.Times, r.JitterMin)...)
		}
	}
	return slots
}

// Place は指定日・時刻の投稿枠を1件計画する。計画ファイルの取り込みでも同じ処理を使う。
func (p *Planner) Place(kind model.Kind, day time.Time, at LocalTime, jitterMin int) PlannedSlot {
	dayStart := p.DayStart(day)

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placeLocked(kind, dayStart, at, jitterMin)
}

func (p *Planner) placeLocked(kind model.Kind, dayStart time.Time, at LocalTime, jitterMin int) PlannedSlot {
	base := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), at.Hour, at.Minute, 0, 0, p.loc)
	scheduled := base.Add(time.Duration(p.jitterLocked(jitterMin)) * time.Minute)
	return PlannedSlot{
		Kind:          kind,
		PlannedTime:   base.UTC(),
		ScheduledTime: scheduled.UTC(),
	}
}

// jitterLocked は [-jitterMin, +jitterMin] の一様乱数を返す。呼び出し側でmuを保持すること。
func (p *Planner) jitterLocked(jitterMin int) int {
	if jitterMin <= 0 {
		return 0
	}
	return p.rng.IntN(2*jitterMin+1) - jitterMin
}

// dedupeByScheduled は公開時刻が同じ枠を除き、公開時刻の昇順に並べる。
func dedupeByScheduled(slots []PlannedSlot) []PlannedSlot {
	seen := make(map[int64]struct{}, len(slots))
	out := make([]PlannedSlot, 0, len(slots))
	for _, s := range slots {
		key := s.ScheduledTime.Unix()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}
