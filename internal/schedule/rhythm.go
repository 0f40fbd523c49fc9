package schedule

import "github.com/hitoshi/postplan/internal/model"

// RhythmEntry は1種別分の固定時刻とジッター幅。
type RhythmEntry struct {
	Kind      model.Kind
	Times     []LocalTime
	JitterMin int
}

// Jitters は種別ごとのジッター幅（分）。
type Jitters struct {
	Meme  int
	Reel  int
	Story int
}

// DefaultJitters は既定のジッター幅。
var DefaultJitters = Jitters{Meme: 15, Reel: 12, Story: 7}

// For は種別に対応するジッター幅を返す。カルーセルはミームと同じ幅を使う。
func (j Jitters) For(kind model.Kind) int {
	switch kind {
	case model.KindReel:
		return j.Reel
	case model.KindStory:
		return j.Story
	default:
		return j.Meme
	}
}

// MemeTimes は1日のミーム投稿時刻。
func MemeTimes() []LocalTime {
	return []LocalTime{
		At(7, 20), At(8, 10), At(8, 55),
		At(12, 10), At(12, 55), At(13, 40),
		At(19, 10), At(20, 0), At(20, 50), At(21, 40), At(22, 20),
		At(23, 45),
	}
}

// ReelTimes は1日のリール投稿時刻。
func ReelTimes() []LocalTime {
	return []LocalTime{At(12, 30), At(19, 45), At(21, 15)}
}

// StoryTimes は10:00から21:30まで30分おきのストーリー投稿時刻。
func StoryTimes() []LocalTime {
	var times []LocalTime
	for h := 10; h < 22; h++ {
		times = append(times, At(h, 0), At(h, 30))
	}
	return times
}

// DailyRhythm は既定の1日の投稿リズムを返す。
func DailyRhythm(j Jitters) []RhythmEntry {
	return []RhythmEntry{
		{Kind: model.KindMeme, Times: MemeTimes(), JitterMin: j.Meme},
		{Kind: model.KindReel, Times: ReelTimes(), JitterMin: j.Reel},
		{Kind: model.KindStory, Times: StoryTimes(), JitterMin: j.Story},
	}
}
