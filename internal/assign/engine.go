// Package assign は計画済みの空き投稿枠にコンテンツを割り当てる。
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/repository"
)

// SlotBinder は空き投稿枠の取得とバインドを抽象化する。
type SlotBinder interface {
	ListOpen(ctx context.Context, kind model.Kind, limit int) ([]*model.Slot, error)
	Bind(ctx context.Context, slotID int64, binding model.SlotBinding) (bool, error)
}

// ContentSource は割り当て対象コンテンツとキャプション候補の取得を抽象化する。
type ContentSource interface {
	ListReady(ctx context.Context, mediaType string, limit int) ([]*model.Content, error)
	ListActiveVariants(ctx context.Context, contentID int64) ([]model.CaptionVariant, error)
}

// ImageSetSource は未割り当て画像セットの取得を抽象化する。
type ImageSetSource interface {
	ListUnscheduled(ctx context.Context, limit int) ([]*model.ImageSet, error)
}

// StorySource はストーリーの作成と取得を抽象化する。
type StorySource interface {
	Create(ctx context.Context, story *model.Story) (int64, error)
	ListReady(ctx context.Context, limit int) ([]*model.Story, error)
}

// Pair は1件のバインド結果。
type Pair struct {
	SlotID    int64 `json:"slot_id"`
	RefID     int64 `json:"ref_id"`
	VariantNo *int  `json:"variant_no,omitempty"`
}

// Result は割り当て1回分の結果。
type Result struct {
	Kind model.Kind `json:"kind"`
	// Pairs は公開時刻順にバインドされた組。
	Pairs []Pair `json:"pairs"`
	// Unassigned は投稿枠が足りない、または ready でなかったため割り当てられなかったID。
	Unassigned []int64 `json:"unassigned"`
	// Contended は他の実行者に先にバインドされていた投稿枠の数。
	Contended int `json:"contended"`
}

// Bound はバインドできた件数を返す。
func (r *Result) Bound() int {
	return len(r.Pairs)
}

// Engine はコンテンツを空き投稿枠に先頭から順に割り当てる。
// 投稿枠ごとのバインドは条件付きUPDATEで行い、並行実行された割り当てとは
// 二重バインドではなく影響行数0として競合する。
type Engine struct {
	slots     SlotBinder
	contents  ContentSource
	imageSets ImageSetSource
	stories   StorySource
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine はEngineを生成する。rngはキャプション候補の抽選に使用する。
func NewEngine(
	slots SlotBinder,
	contents ContentSource,
	imageSets ImageSetSource,
	stories StorySource,
	rng *rand.Rand,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		slots:     slots,
		contents:  contents,
		imageSets: imageSets,
		stories:   stories,
		logger:    logger,
		metrics:   metrics.OrNoop(mc),
		rng:       rng,
	}
}

// Assign は ids を渡された順に、指定種別の空き投稿枠へ公開時刻の早い順に割り当てる。
// 割り当ては min(len(ids), 空き投稿枠数) 件で止まり、残りは Unassigned に入る。
// withVariants が true の場合、ミームには有効なキャプション候補から1件を無作為に選ぶ。
func (e *Engine) Assign(ctx context.Context, kind model.Kind, ids []int64, withVariants bool) (*Result, error) {
	if !kind.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明な種別です: %q", kind))
	}
	result := &Result{Kind: kind, Pairs: []Pair{}, Unassigned: []int64{}}
	if len(ids) == 0 {
		return result, nil
	}

	open, err := e.slots.ListOpen(ctx, kind, 0)
	if err != nil {
		return nil, fmt.Errorf("空き投稿枠の取得に失敗しました: %w", err)
	}

	defer func() {
		if n := result.Bound(); n > 0 {
			e.metrics.RecordSlotsAssigned(string(kind), n)
		}
	}()

	next := 0
	for _, id := range ids {
		if next >= len(open) {
			result.Unassigned = append(result.Unassigned, id)
			continue
		}

		binding, err := e.bindingFor(ctx, kind, id, withVariants)
		if err != nil {
			return result, err
		}
		bound, err := e.bindFirstOpen(ctx, open, &next, id, binding, result)
		if err != nil {
			return result, err
		}
		if !bound {
			result.Unassigned = append(result.Unassigned, id)
		}
	}

	e.logger.Info("投稿枠への割り当てが完了しました",
		slog.String("kind", string(kind)),
		slog.Int("bound", result.Bound()),
		slog.Int("unassigned", len(result.Unassigned)),
		slog.Int("contended", result.Contended),
	)
	return result, nil
}

// AssignReady は割り当て可能なコンテンツを作成順に取得し、指定種別の空き投稿枠に割り当てる。
// ミームは画像、リールは動画、カルーセルは未割り当ての画像セット、ストーリーは ready のストーリーを使う。
func (e *Engine) AssignReady(ctx context.Context, kind model.Kind, limit int, withVariants bool) (*Result, error) {
	var ids []int64
	switch kind {
	case model.KindMeme, model.KindReel:
		mediaType := model.MediaTypeImage
		if kind == model.KindReel {
			mediaType = model.MediaTypeVideo
		}
		contents, err := e.contents.ListReady(ctx, mediaType, limit)
		if err != nil {
			return nil, fmt.Errorf("割り当て対象コンテンツの取得に失敗しました: %w", err)
		}
		for _, c := range contents {
			ids = append(ids, c.ID)
		}
	case model.KindCarousel:
		sets, err := e.imageSets.ListUnscheduled(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("割り当て対象画像セットの取得に失敗しました: %w", err)
		}
		for _, s := range sets {
			ids = append(ids, s.ID)
		}
	case model.KindStory:
		stories, err := e.stories.ListReady(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("割り当て対象ストーリーの取得に失敗しました: %w", err)
		}
		for _, s := range stories {
			ids = append(ids, s.ID)
		}
	default:
		return nil, model.NewValidationError(fmt.Sprintf("不明な種別です: %q", kind))
	}
	return e.Assign(ctx, kind, ids, withVariants)
}

// bindingFor は種別に応じたコンテンツ参照を組み立てる。
func (e *Engine) bindingFor(ctx context.Context, kind model.Kind, id int64, withVariants bool) (model.SlotBinding, error) {
	ref := id
	switch kind {
	case model.KindCarousel:
		return model.SlotBinding{ImageSetID: &ref}, nil
	case model.KindStory:
		return model.SlotBinding{StoryID: &ref}, nil
	}

	binding := model.SlotBinding{ContentID: &ref}
	if withVariants && kind == model.KindMeme {
		no, err := e.pickVariant(ctx, id)
		if err != nil {
			return binding, err
		}
		binding.VariantNo = no
	}
	return binding, nil
}

// pickVariant は有効なキャプション候補から一様に1件選ぶ。候補がない場合はnilを返す。
func (e *Engine) pickVariant(ctx context.Context, contentID int64) (*int, error) {
	variants, err := e.contents.ListActiveVariants(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("キャプション候補の取得に失敗しました: %w", err)
	}
	if len(variants) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	idx := e.rng.IntN(len(variants))
	e.mu.Unlock()

	no := variants[idx].VariantNo
	return &no, nil
}

// bindFirstOpen は open[*next] 以降の投稿枠に順にバインドを試みる。
// 競合に負けた投稿枠と重複になる投稿枠は読み飛ばす。
// 参照先が ready でない場合は投稿枠を消費せずにfalseを返す。
func (e *Engine) bindFirstOpen(ctx context.Context, open []*model.Slot, next *int, id int64, binding model.SlotBinding, result *Result) (bool, error) {
	for *next < len(open) {
		slot := open[*next]
		ok, err := e.slots.Bind(ctx, slot.ID, binding)
		switch {
		case errors.Is(err, repository.ErrContentNotReady):
			e.logger.Warn("ready でないコンテンツをスキップしました",
				slog.String("kind", string(result.Kind)),
				slog.Int64("ref_id", id),
			)
			return false, nil
		case errors.Is(err, model.ErrDuplicateSlot):
			e.logger.Warn("同じ公開時刻に同じコンテンツが既にあるため次の投稿枠を使います",
				slog.Int64("slot_id", slot.ID),
				slog.Int64("ref_id", id),
			)
			*next++
		case err != nil:
			return false, fmt.Errorf("投稿枠 %d のバインドに失敗しました: %w", slot.ID, err)
		case !ok:
			result.Contended++
			*next++
		default:
			result.Pairs = append(result.Pairs, Pair{SlotID: slot.ID, RefID: id, VariantNo: binding.VariantNo})
			*next++
			return true, nil
		}
	}
	return false, nil
}
