package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hitoshi/postplan/internal/config"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/schedule"
)

func runPlanDay(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	day, err := parseDay(c.String("date"), s.cfg.Location, time.Now())
	if err != nil {
		return err
	}
	req := schedule.DefaultDayRequest(day, jittersFrom(s.cfg))
	req.Memes = c.Int("memes")
	req.Stories = c.Int("stories")

	res, err := s.plans.PlanDay(ctx, req)
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func runPlanWeek(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	start, err := parseDay(c.String("start"), s.cfg.Location, time.Now())
	if err != nil {
		return err
	}
	res, err := s.plans.PlanWeek(ctx, start, c.Int("days"))
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

// runExportPlan は計画を生成してファイルまたは標準出力に書き出す。投稿枠は作成しない。
func runExportPlan(_ context.Context, c *cli.Command, cfg *config.Config, out io.Writer) error {
	start, err := parseDay(c.String("start"), cfg.Location, time.Now())
	if err != nil {
		return err
	}
	path := c.String("out")
	format, err := parseFormat(c.String("format"), path)
	if err != nil {
		return err
	}

	w := out
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("出力ファイルの作成に失敗しました: %w", err)
		}
		defer f.Close()
		w = f
	}

	plans := schedule.NewService(nil, newPlanner(cfg), jittersFrom(cfg), slog.Default(), nil)
	n, err := plans.ExportPlan(w, start, c.Int("days"), format)
	if err != nil {
		return err
	}
	slog.Info("計画を書き出しました",
		slog.Int("entries", n),
		slog.String("format", string(format)),
		slog.String("out", path),
	)
	return nil
}

func runImportPlan(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	path := c.String("file")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("計画ファイルのオープンに失敗しました: %w", err)
	}
	defer f.Close()

	res, err := s.plans.ImportPlan(ctx, f, schedule.FormatFromPath(path))
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func runAssign(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	kind, err := model.ParseKind(c.String("kind"))
	if err != nil {
		return err
	}
	withVariants := c.Bool("variants")

	if raw := c.String("ids"); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			return err
		}
		res, err := s.assigner.Assign(ctx, kind, ids, withVariants)
		if err != nil {
			return err
		}
		return writeResult(out, res)
	}

	res, err := s.assigner.AssignReady(ctx, kind, c.Int("limit"), withVariants)
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func runAssignStories(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	res, err := s.assigner.GenerateAndAssignStories(ctx, time.Now(), c.Int("max"))
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func runDispatch(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	var kind model.Kind
	if raw := c.String("kind"); raw != "" {
		k, err := model.ParseKind(raw)
		if err != nil {
			return err
		}
		kind = k
	}
	limit := c.Int("limit")
	if limit <= 0 {
		limit = s.cfg.DispatchLimit
	}

	res, err := s.dispatcher.ProcessDue(ctx, time.Now(), kind, limit)
	if err != nil {
		return err
	}
	return writeResult(out, res)
}

func runResetSlot(ctx context.Context, c *cli.Command, s *services, out io.Writer) error {
	id := int64(c.Int("id"))
	if err := s.dispatcher.ResetSlot(ctx, id); err != nil {
		return err
	}
	return writeResult(out, map[string]any{"slot_id": id, "status": model.SlotStatusQueued})
}

func runSeedPools(ctx context.Context, _ *cli.Command, s *services, out io.Writer) error {
	if err := s.contents.SeedPools(ctx); err != nil {
		return err
	}
	return writeResult(out, map[string]string{"status": "ok"})
}
