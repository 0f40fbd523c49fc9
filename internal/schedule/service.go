package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/model"
)

// SlotCreator は投稿枠の作成を抽象化する。
// repository.SlotRepository が満たす。
type SlotCreator interface {
	Create(ctx context.Context, slot *model.Slot) (int64, error)
}

// DayRequest は1日分の重み付きランダム計画の条件。
type DayRequest struct {
	Day            time.Time
	Memes          int
	MemeEveryMin   int
	MemeJitterMin  int
	Stories        int
	StoryEveryMin  int
	StoryJitterMin int
}

// DefaultDayRequest は既定の1日分の計画条件を返す。
// ミーム24件（60分間隔）、ストーリー48件（30分間隔）。
func DefaultDayRequest(day time.Time, j Jitters) DayRequest {
	return DayRequest{
		Day:            day,
		Memes:          24,
		MemeEveryMin:   60,
		MemeJitterMin:  j.Meme,
		Stories:        48,
		StoryEveryMin:  30,
		StoryJitterMin: j.Story,
	}
}

// CreateResult は投稿枠作成の結果。
type CreateResult struct {
	Created    int     `json:"created"`
	Duplicates int     `json:"duplicates"`
	SlotIDs    []int64 `json:"slot_ids"`
}

// Service は計画と投稿枠の永続化を統括する。
// 直接計画・週次計画・計画ファイル取り込みはすべて CreateSlots を通る。
type Service struct {
	slots   SlotCreator
	planner *Planner
	jitters Jitters
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewService(slots SlotCreator, planner *Planner, jitters Jitters, logger *slog.Logger, mc metrics.MetricsCollector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if planner.ExceedsReference() {
		logger.Warn("時間帯重みが基準重みを超えています。超過分の採択確率は1に丸められます",
			slog.Float64("reference_weight", planner.ReferenceWeight()),
		)
	}
	return &Service{
		slots:   slots,
		planner: planner,
		jitters: jitters,
		logger:  logger,
		metrics: metrics.OrNoop(mc),
	}
}

// Planner は内部のPlannerを返す。
func (s *Service) Planner() *Planner {
	return s.planner
}

// CreateSlots は計画済みの投稿枠を順に永続化する。
// 重複は件数として数えて続行し、それ以外のエラーはそこまでの結果とともに返す。
func (s *Service) CreateSlots(ctx context.Context, planned []PlannedSlot) (*CreateResult, error) {
	result := &CreateResult{SlotIDs: make([]int64, 0, len(planned))}
	perKind := make(map[model.Kind]int)

	defer func() {
		for kind, n := range perKind {
			s.metrics.RecordSlotsPlanned(string(kind), n)
		}
	}()

	for _, p := range planned {
		id, err := s.slots.Create(ctx, p.Slot())
		if err != nil {
			if errors.Is(err, model.ErrDuplicateSlot) {
				result.Duplicates++
				s.logger.Warn("重複する投稿枠をスキップしました",
					slog.String("kind", string(p.Kind)),
					slog.Time("scheduled_time", p.ScheduledTime),
				)
				continue
			}
			return result, fmt.Errorf("投稿枠の作成に失敗しました: %w", err)
		}
		result.Created++
		result.SlotIDs = append(result.SlotIDs, id)
		perKind[p.Kind]++
	}
	return result, nil
}

// PlanDay は重み付きランダム方式でミームとストーリーの1日分の投稿枠を作成する。
func (s *Service) PlanDay(ctx context.Context, req DayRequest) (*CreateResult, error) {
	planned := s.planner.WeightedRandom(model.KindMeme, req.Day, req.Memes, req.MemeEveryMin, req.MemeJitterMin)
	planned = append(planned, s.planner.WeightedRandom(model.KindStory, req.Day, req.Stories, req.StoryEveryMin, req.StoryJitterMin)...)

	result, err := s.CreateSlots(ctx, planned)
	if err != nil {
		return result, err
	}
	s.logger.Info("1日分の投稿枠を作成しました",
		slog.String("day", s.planner.DayStart(req.Day).Format(dateLayout)),
		slog.Int("created", result.Created),
		slog.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// PlanWeek は既定の投稿リズムで start から days 日分の投稿枠を作成する。
func (s *Service) PlanWeek(ctx context.Context, start time.Time, days int) (*CreateResult, error) {
	if days <= 0 {
		return &CreateResult{SlotIDs: []int64{}}, nil
	}
	planned := s.planner.Week(start, days, DailyRhythm(s.jitters))

	result, err := s.CreateSlots(ctx, planned)
	if err != nil {
		return result, err
	}
	s.logger.Info("週次の投稿枠を作成しました",
		slog.String("start", s.planner.DayStart(start).Format(dateLayout)),
		slog.Int("days", days),
		slog.Int("created", result.Created),
	)
	return result, nil
}

// ExportPlan は start から days 日分の計画ファイルを書き出す。投稿枠は作成しない。
func (s *Service) ExportPlan(w io.Writer, start time.Time, days int, format Format) (int, error) {
	entries := GeneratePlan(s.planner.Location(), start, days)
	if err := EncodePlan(w, entries, format); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ImportPlan は計画ファイルを検証してから投稿枠を作成する。
// 検証エラーの場合は1件も作成しない。
func (s *Service) ImportPlan(ctx context.Context, r io.Reader, format Format) (*CreateResult, error) {
	entries, err := DecodePlan(r, format)
	if err != nil {
		return nil, err
	}
	planned, err := s.planner.PlanFromEntries(entries, s.jitters)
	if err != nil {
		return nil, err
	}

	result, err := s.CreateSlots(ctx, planned)
	if err != nil {
		return result, err
	}
	s.logger.Info("計画ファイルを取り込みました",
		slog.Int("entries", len(entries)),
		slog.Int("created", result.Created),
	)
	return result, nil
}
