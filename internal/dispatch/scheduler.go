package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/model"
)

// DueProcessor は公開期限に達した投稿枠の処理。
type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time, kind model.Kind, limit int) (*PassResult, error)
}

// Assigner は ready なコンテンツの自動割り当て。
type Assigner interface {
	AssignReady(ctx context.Context, kind model.Kind, limit int, withVariants bool) (*assign.Result, error)
}

// autoAssignKinds は自動割り当ての対象種別。ストーリーは生成を伴うため明示操作でのみ割り当てる。
var autoAssignKinds = []model.Kind{model.KindMeme, model.KindReel, model.KindCarousel}

// Scheduler は一定間隔で自動割り当てとディスパッチを実行するワーカーループ。
type Scheduler struct {
	dispatcher  DueProcessor
	assigner    Assigner
	logger      *slog.Logger
	limit       int
	assignLimit int
	now         func() time.Time
}

// NewScheduler はSchedulerを生成する。assignerがnilの場合は自動割り当てを行わない。
func NewScheduler(dispatcher DueProcessor, assigner Assigner, logger *slog.Logger, limit, assignLimit int) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatcher:  dispatcher,
		assigner:    assigner,
		logger:      logger,
		limit:       limit,
		assignLimit: assignLimit,
		now:         time.Now,
	}
}

// Start は interval ごとにRunOnceを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ディスパッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("limit", s.limit),
		slog.Bool("auto_assign", s.assigner != nil),
	)

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ディスパッチスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("ディスパッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は自動割り当て（有効な場合）とディスパッチを1回実行する。
// 割り当ての失敗はログに残し、ディスパッチは続行する。
func (s *Scheduler) RunOnce(ctx context.Context) (*PassResult, error) {
	start := time.Now()

	if s.assigner != nil {
		for _, kind := range autoAssignKinds {
			res, err := s.assigner.AssignReady(ctx, kind, s.assignLimit, true)
			if err != nil {
				s.logger.Warn("自動割り当てに失敗しました",
					slog.String("kind", string(kind)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if res.Bound() > 0 {
				s.logger.Info("コンテンツを自動割り当てしました",
					slog.String("kind", string(kind)),
					slog.Int("bound", res.Bound()),
				)
			}
		}
	}

	result, err := s.dispatcher.ProcessDue(ctx, s.now(), "", s.limit)
	if err != nil {
		return result, err
	}

	s.logger.Info("ディスパッチサイクルが完了しました",
		slog.Int("selected", result.Selected),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}
