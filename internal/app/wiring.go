package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/config"
	"github.com/hitoshi/postplan/internal/content"
	"github.com/hitoshi/postplan/internal/database"
	"github.com/hitoshi/postplan/internal/dispatch"
	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/publisher"
	"github.com/hitoshi/postplan/internal/repository"
	"github.com/hitoshi/postplan/internal/schedule"
	"github.com/hitoshi/postplan/internal/security"
)

const (
	leaseKeyPrefix    = "postplan"
	mediaProbeTimeout = 10 * time.Second
)

// services はDBに依存するコマンドが共有する依存関係一式。
type services struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	registry *prometheus.Registry

	slots      *repository.PostgresSlotRepo
	contents   *content.Store
	plans      *schedule.Service
	assigner   *assign.Engine
	dispatcher *dispatch.Dispatcher

	closers []func() error
}

// jittersFrom は設定から種別ごとのジッター幅を組み立てる。
func jittersFrom(cfg *config.Config) schedule.Jitters {
	return schedule.Jitters{Meme: cfg.MemeJitter, Reel: cfg.ReelJitter, Story: cfg.StoryJitter}
}

// newRand はRNG_SEEDから乱数生成器を作る。0の場合は起動時刻をシードにする。
// stream を変えることで同じシードから独立した系列を得る。
func newRand(seed uint64, stream uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, stream))
}

// newPlanner は設定に従ってPlannerを生成する。
func newPlanner(cfg *config.Config) *schedule.Planner {
	return schedule.NewPlanner(cfg.Location, newRand(cfg.RNGSeed, 1),
		schedule.WithReferenceWeight(cfg.DaypartReferenceWeight))
}

// newPublisher は公開ゲートウェイが設定されていればHTTPクライアントを、なければドライランを返す。
func newPublisher(cfg *config.Config, guard security.MediaGuard, logger *slog.Logger) publisher.Publisher {
	if cfg.PublisherEndpoint == "" {
		logger.Warn("PUBLISHER_ENDPOINT が未設定のためドライランで公開します")
		return publisher.NewDryRun(logger)
	}
	return publisher.NewHTTPClient(&http.Client{}, cfg.PublisherEndpoint, cfg.PublisherToken, guard, logger)
}

// buildServices はDB接続を開き、リポジトリからドメインサービスまでをワイヤリングする。
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	s := &services{cfg: cfg, logger: logger, db: db}
	if err := s.wire(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *services) wire(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger

	// 1. メトリクス
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(s.registry)

	// 2. リポジトリ
	contentRepo := repository.NewPostgresContentRepo(s.db)
	imageSetRepo := repository.NewPostgresImageSetRepo(s.db)
	storyRepo := repository.NewPostgresStoryRepo(s.db)
	poolRepo := repository.NewPostgresPoolRepo(s.db)
	s.slots = repository.NewPostgresSlotRepo(s.db)

	// 3. コンテンツストア
	guard := security.NewMediaGuard(mediaProbeTimeout)
	var storeOpts []content.StoreOption
	if cfg.MediaProbe {
		storeOpts = append(storeOpts, content.WithMediaProbe())
	}
	s.contents = content.NewStore(contentRepo, imageSetRepo, storyRepo, poolRepo,
		security.NewCaptionSanitizer(), guard, logger, storeOpts...)

	// 4. 計画と割り当て
	s.plans = schedule.NewService(s.slots, newPlanner(cfg), jittersFrom(cfg), logger, mc)
	s.assigner = assign.NewEngine(s.slots, contentRepo, imageSetRepo, storyRepo,
		newRand(cfg.RNGSeed, 2), logger, mc)

	// 5. ディスパッチ
	placement, err := dispatch.ParseTagsPlacement(cfg.TagsPlacement)
	if err != nil {
		return err
	}
	opts := []dispatch.Option{dispatch.WithMetrics(mc)}

	if cfg.RedisURL != "" {
		client, err := dispatch.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redisへの接続に失敗しました: %w", err)
		}
		opts = append(opts, dispatch.WithLease(dispatch.NewRedisLease(client, leaseKeyPrefix, logger)))
	} else {
		logger.Info("REDIS_URL が未設定のためプロセス内リースを使用します")
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := dispatch.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		s.closers = append(s.closers, sink.Close)
		opts = append(opts, dispatch.WithOutcomeSink(sink))
	}

	s.dispatcher = dispatch.NewDispatcher(
		s.slots, contentRepo, imageSetRepo, storyRepo, poolRepo,
		newPublisher(cfg, guard, logger),
		dispatch.Config{
			PublishTimeout: cfg.PublishTimeout,
			SkipGrace:      cfg.SkipGrace,
			TagsPlacement:  placement,
		},
		logger, opts...,
	)
	return nil
}

// autoAssigner は自動割り当てが有効な場合のみAssignerを返す。
// nilポインタをインターフェースに入れないよう明示的にnilを返す。
func (s *services) autoAssigner() dispatch.Assigner {
	if !s.cfg.AutoAssign {
		return nil
	}
	return s.assigner
}

// Close は外部接続を生成と逆順に閉じる。
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("接続のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
}
