package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hitoshi/postplan/internal/config"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/schedule"
)

// Command はアプリケーションのサブコマンド名を表す。
type Command string

const (
	// CommandServe は管理APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はディスパッチワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"

	CommandPlanDay       Command = "plan-day"
	CommandPlanWeek      Command = "plan-week"
	CommandExportPlan    Command = "export-plan"
	CommandImportPlan    Command = "import-plan"
	CommandAssign        Command = "assign"
	CommandAssignStories Command = "assign-stories"
	CommandDispatch      Command = "dispatch"
	CommandResetSlot     Command = "reset-slot"
	CommandSeedPools     Command = "seed-pools"
)

const dateLayout = "2006-01-02"

// NewCommand はpostplanのコマンドツリーを構築する。
// logOutにはJSONログを、outにはコマンドの結果を出力する。
func NewCommand(logOut, out io.Writer) *cli.Command {
	r := &runner{logOut: logOut, out: out}

	return &cli.Command{
		Name:      "postplan",
		Usage:     "SNS投稿の計画・割り当て・公開を行う",
		Writer:    out,
		ErrWriter: logOut,
		Commands: []*cli.Command{
			{
				Name:   string(CommandServe),
				Usage:  "管理APIサーバーを起動する",
				Action: r.withServices(runServe),
			},
			{
				Name:  string(CommandWorker),
				Usage: "ディスパッチワーカーを起動する",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "once", Usage: "1サイクルだけ実行して終了する"},
				},
				Action: r.withServices(runWorker),
			},
			{
				Name:  string(CommandMigrate),
				Usage: "データベースマイグレーションを実行する",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "down", Usage: "指定した件数だけマイグレーションを戻す"},
				},
				Action: r.withConfig(runMigrate),
			},
			{
				Name:  string(CommandHealthcheck),
				Usage: "APIサーバーの /health を確認する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "APIサーバーのポート（既定: SERVER_PORT または 8080）"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					port := c.String("port")
					if port == "" {
						port = os.Getenv("SERVER_PORT")
					}
					if port == "" {
						port = "8080"
					}
					return runHealthcheck(ctx, fmt.Sprintf("http://localhost:%s/health", port))
				},
			},
			{
				Name:  string(CommandPlanDay),
				Usage: "1日分の投稿枠を重み付きランダムで作成する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "date", Usage: "対象日 YYYY-MM-DD（既定: 今日）"},
					&cli.IntFlag{Name: "memes", Value: 24, Usage: "ミーム枠の件数"},
					&cli.IntFlag{Name: "stories", Value: 48, Usage: "ストーリー枠の件数"},
				},
				Action: r.withServices(runPlanDay),
			},
			{
				Name:  string(CommandPlanWeek),
				Usage: "固定リズムで複数日分の投稿枠を作成する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "開始日 YYYY-MM-DD（既定: 今日）"},
					&cli.IntFlag{Name: "days", Value: 7, Usage: "日数"},
				},
				Action: r.withServices(runPlanWeek),
			},
			{
				Name:  string(CommandExportPlan),
				Usage: "計画ファイルを書き出す（DB不要）",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "開始日 YYYY-MM-DD（既定: 今日）"},
					&cli.IntFlag{Name: "days", Value: 7, Usage: "日数"},
					&cli.StringFlag{Name: "out", Usage: "出力先ファイル（既定: 標準出力）"},
					&cli.StringFlag{Name: "format", Usage: "json または yaml（既定: 出力先の拡張子から判定）"},
				},
				Action: r.withConfig(runExportPlan),
			},
			{
				Name:  string(CommandImportPlan),
				Usage: "計画ファイルから投稿枠を作成する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Required: true, Usage: "計画ファイル（.json / .yaml）"},
				},
				Action: r.withServices(runImportPlan),
			},
			{
				Name:  string(CommandAssign),
				Usage: "コンテンツを空き投稿枠に割り当てる",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true, Usage: "meme / reel / carousel / story"},
					&cli.StringFlag{Name: "ids", Usage: "割り当てるIDのカンマ区切り（省略時は ready なものを古い順に）"},
					&cli.IntFlag{Name: "limit", Value: 60, Usage: "--ids 省略時の最大件数"},
					&cli.BoolFlag{Name: "variants", Usage: "ミームのキャプション候補から1件を選ぶ"},
				},
				Action: r.withServices(runAssign),
			},
			{
				Name:  string(CommandAssignStories),
				Usage: "ストーリーを生成して空き枠に割り当てる",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Value: 48, Usage: "生成する最大件数"},
				},
				Action: r.withServices(runAssignStories),
			},
			{
				Name:  string(CommandDispatch),
				Usage: "公開期限に達した投稿枠を1回だけ公開する",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "対象種別（既定: すべて）"},
					&cli.IntFlag{Name: "limit", Usage: "最大件数（既定: DISPATCH_LIMIT）"},
				},
				Action: r.withServices(runDispatch),
			},
			{
				Name:  string(CommandResetSlot),
				Usage: "failed の投稿枠を queued に戻す",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "id", Required: true, Usage: "投稿枠ID"},
				},
				Action: r.withServices(runResetSlot),
			},
			{
				Name:   string(CommandSeedPools),
				Usage:  "既定のハッシュタグプールを登録する",
				Action: r.withServices(runSeedPools),
			},
		},
	}
}

// runner はサブコマンドに初期化済みの依存関係を渡す。
type runner struct {
	logOut io.Writer
	out    io.Writer
}

type configAction func(ctx context.Context, c *cli.Command, cfg *config.Config, out io.Writer) error
type servicesAction func(ctx context.Context, c *cli.Command, s *services, out io.Writer) error

func (r *runner) withConfig(fn configAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, err := Init(r.logOut)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		slog.Info("starting command", slog.String("command", c.Name))
		return fn(ctx, c, cfg, r.out)
	}
}

func (r *runner) withServices(fn servicesAction) cli.ActionFunc {
	return r.withConfig(func(ctx context.Context, c *cli.Command, cfg *config.Config, out io.Writer) error {
		s, err := buildServices(ctx, cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, c, s, out)
	})
}

// writeResult はコマンドの結果をインデント付きJSONで出力する。
func writeResult(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDay は YYYY-MM-DD を loc の日付として解析する。空文字は now の日付。
func parseDay(s string, loc *time.Location, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	day, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, model.NewValidationError(fmt.Sprintf("日付は YYYY-MM-DD 形式で指定してください: %q", s))
	}
	return day, nil
}

// parseIDs はカンマ区切りのIDを解析する。順序は保つ。
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("IDが不正です: %q", part))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseFormat は --format の値を解析する。空文字の場合はパスの拡張子から判定する。
func parseFormat(format, path string) (schedule.Format, error) {
	switch strings.ToLower(format) {
	case "":
		return schedule.FormatFromPath(path), nil
	case "json":
		return schedule.FormatJSON, nil
	case "yaml", "yml":
		return schedule.FormatYAML, nil
	}
	return "", model.NewValidationError(fmt.Sprintf("未知の計画ファイル形式です: %q", format))
}
