package assign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/postplan/internal/model"
)

// StoryPayload は生成したストーリー1件分。
type StoryPayload struct {
	Type    string
	Payload map[string]any
}

// storyTemplates はストーリー種別の巡回順とペイロードの雛形。
var storyTemplates = []StoryPayload{
	{Type: "poll", Payload: map[string]any{"question": "Sex on 1st date?", "options": []string{"Yes", "No"}, "bias": "spicy"}},
	{Type: "meme_war", Payload: map[string]any{"image_a_url": "", "image_b_url": "", "question": "Which more savage?"}},
	{Type: "confession", Payload: map[string]any{"prompt": "Your worst date story?", "share_anonymously": true}},
	{Type: "quiz", Payload: map[string]any{"question": "Delhi traffic is:", "options": []string{"cardio", "purgatory", "karma"}, "answer": nil}},
	{Type: "sticker_spam", Payload: map[string]any{"stickers": []string{"😂", "🔥", "❤️"}}},
	{Type: "screenshot_tweet", Payload: map[string]any{"tweet_image_url": "", "caption_overlay": "Dekh lo bhai... desi reality"}},
}

// GenerateStoryPayloads は count 件のストーリーを種別を巡回しながら生成する。
// i 件目は now から i/2 時間後を想定し、深夜帯(23時〜4時)の poll は質問を差し替える。
func GenerateStoryPayloads(now time.Time, count int) []StoryPayload {
	out := make([]StoryPayload, 0, max(count, 0))
	for i := 0; i < count; i++ {
		tmpl := storyTemplates[i%len(storyTemplates)]
		payload := make(map[string]any, len(tmpl.Payload))
		for k, v := range tmpl.Payload {
			payload[k] = v
		}

		hour := (now.Hour() + i/2) % 24
		if tmpl.Type == "poll" && (hour >= 23 || hour <= 4) {
			payload["question"] = "Late night plans? 😏"
			payload["options"] = []string{"Sleep", "DMs open"}
		}
		out = append(out, StoryPayload{Type: tmpl.Type, Payload: payload})
	}
	return out
}

// GenerateAndAssignStories はストーリーを生成して空きストーリー枠に割り当てる。
// 生成数は空き枠数と maxCreate の小さい方にする。now は運用タイムゾーンで渡すこと。
func (e *Engine) GenerateAndAssignStories(ctx context.Context, now time.Time, maxCreate int) (*Result, error) {
	open, err := e.slots.ListOpen(ctx, model.KindStory, maxCreate)
	if err != nil {
		return nil, fmt.Errorf("空きストーリー枠の取得に失敗しました: %w", err)
	}
	if len(open) == 0 {
		e.logger.Info("空きストーリー枠がないため生成しませんでした")
		return &Result{Kind: model.KindStory, Pairs: []Pair{}, Unassigned: []int64{}}, nil
	}

	payloads := GenerateStoryPayloads(now, len(open))
	ids := make([]int64, 0, len(payloads))
	for _, p := range payloads {
		id, err := e.stories.Create(ctx, &model.Story{StoryType: p.Type, Payload: p.Payload})
		if err != nil {
			return nil, fmt.Errorf("ストーリーの作成に失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	e.logger.Info("ストーリーを生成しました", slog.Int("count", len(ids)))

	return e.Assign(ctx, model.KindStory, ids, false)
}
