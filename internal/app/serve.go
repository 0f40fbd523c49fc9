package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/postplan/internal/config"
	"github.com/hitoshi/postplan/internal/database"
	"github.com/hitoshi/postplan/internal/dispatch"
	"github.com/hitoshi/postplan/internal/handler"
	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// newHTTPServer は共通のタイムアウト設定でhttp.Serverを生成する。
func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveUntilDone はctxがキャンセルされるまでサーバーを動かし、グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down " + name + "...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", name, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info(name + " stopped gracefully")
	return nil
}

// runServe は管理APIサーバーを起動する。
// SIGINTまたはSIGTERMでctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, _ *cli.Command, s *services, _ io.Writer) error {
	limiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(s.cfg.RateLimitPerMinute), s.logger)
	defer limiter.Stop()

	if s.cfg.APIToken == "" {
		s.logger.Warn("API_TOKEN が未設定のため管理APIは認証なしで公開されます")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      s.logger,
		APIToken:    s.cfg.APIToken,
		RateLimiter: limiter,
		Health:      s.db,
		Gatherer:    s.registry,
		Contents:    s.contents,
		Plans:       handler.NewPlanHandler(s.plans, s.cfg.Location, jittersFrom(s.cfg), s.logger),
		Assigner:    s.assigner,
		Dispatcher:  s.dispatcher,
		Slots:       s.slots,
	})

	return serveUntilDone(ctx, newHTTPServer(s.cfg.ServerPort, router), "API server")
}

// runWorker はディスパッチスケジューラとメトリクスエンドポイントを起動する。
// --once の場合は1サイクルだけ実行して結果を出力する。
func runWorker(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	scheduler := dispatch.NewScheduler(s.dispatcher, s.autoAssigner(), s.logger,
		s.cfg.DispatchLimit, s.cfg.AssignLimit)

	if c.Bool("once") {
		res, err := scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		return writeResult(out, res)
	}

	slog.Info("worker starting",
		slog.Duration("dispatch_interval", s.cfg.DispatchInterval),
		slog.Int("dispatch_limit", s.cfg.DispatchLimit),
		slog.String("tags_placement", s.cfg.TagsPlacement),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Start(gctx, s.cfg.DispatchInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, newHTTPServer(s.cfg.MetricsPort, metrics.SetupMetricsRoute(s.registry)), "metrics server")
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。--down 指定時は指定件数だけ戻す。
func runMigrate(_ context.Context, c *cli.Command, cfg *config.Config, _ io.Writer) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		version uint
		err     error
	)
	if steps := c.Int("down"); steps > 0 {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck は /health にHTTPリクエストを送り、200以外をエラーとする。
func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
