package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/postplan/internal/middleware"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/schedule"
)

// PlanService は計画系ハンドラーが必要とするサービス。schedule.Service が満たす。
type PlanService interface {
	PlanDay(ctx context.Context, req schedule.DayRequest) (*schedule.CreateResult, error)
	PlanWeek(ctx context.Context, start time.Time, days int) (*schedule.CreateResult, error)
	ExportPlan(w io.Writer, start time.Time, days int, format schedule.Format) (int, error)
	ImportPlan(ctx context.Context, r io.Reader, format schedule.Format) (*schedule.CreateResult, error)
}

const (
	dateLayout      = "2006-01-02"
	defaultPlanDays = 7
	maxPlanDays     = 62
)

// PlanHandler は投稿枠計画のHTTPハンドラー。日付は運用タイムゾーンで解釈する。
type PlanHandler struct {
	service PlanService
	loc     *time.Location
	jitters schedule.Jitters
	logger  *slog.Logger
	now     func() time.Time
}

// NewPlanHandler はPlanHandlerを生成する。
func NewPlanHandler(service PlanService, loc *time.Location, jitters schedule.Jitters, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{service: service, loc: loc, jitters: jitters, logger: logger, now: time.Now}
}

// parseDay は YYYY-MM-DD を運用タイムゾーンの日付として解釈する。空なら今日。
func (h *PlanHandler) parseDay(s string) (time.Time, error) {
	if s == "" {
		now := h.now().In(h.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc), nil
	}
	day, err := time.ParseInLocation(dateLayout, s, h.loc)
	if err != nil {
		return time.Time{}, model.NewValidationError(fmt.Sprintf("日付はYYYY-MM-DD形式で指定してください: %q", s))
	}
	return day, nil
}

func validateDays(days int) error {
	if days < 1 || days > maxPlanDays {
		return model.NewValidationError(fmt.Sprintf("daysは1〜%dで指定してください", maxPlanDays))
	}
	return nil
}

type planDayRequest struct {
	Date    string `json:"date"`
	Memes   *int   `json:"memes"`
	Stories *int   `json:"stories"`
}

// PlanDay は重み付きランダム方式で1日分の投稿枠を作成する。
// POST /api/plans/day
func (h *PlanHandler) PlanDay(w http.ResponseWriter, r *http.Request) {
	var req planDayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	day, err := h.parseDay(req.Date)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	dayReq := schedule.DefaultDayRequest(day, h.jitters)
	if req.Memes != nil {
		dayReq.Memes = *req.Memes
	}
	if req.Stories != nil {
		dayReq.Stories = *req.Stories
	}
	if dayReq.Memes < 0 || dayReq.Stories < 0 {
		handleServiceError(w, r, h.logger, model.NewValidationError("件数は0以上で指定してください"))
		return
	}

	result, err := h.service.PlanDay(r.Context(), dayReq)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type planWeekRequest struct {
	Start string `json:"start"`
	Days  int    `json:"days"`
}

// PlanWeek は既定の投稿リズムで複数日分の投稿枠を作成する。
// POST /api/plans/week
func (h *PlanHandler) PlanWeek(w http.ResponseWriter, r *http.Request) {
	var req planWeekRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Days == 0 {
		req.Days = defaultPlanDays
	}
	start, err := h.parseDay(req.Start)
	if err == nil {
		err = validateDays(req.Days)
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.service.PlanWeek(r.Context(), start, req.Days)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// formatFromRequest はクエリのformat、なければContent-Typeから計画ファイルの形式を決める。
func formatFromRequest(r *http.Request) schedule.Format {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "yaml", "yml":
		return schedule.FormatYAML
	case "json":
		return schedule.FormatJSON
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return schedule.FormatYAML
	}
	return schedule.FormatJSON
}

// ExportPlan は計画ファイルを返す。投稿枠は作成しない。
// GET /api/plans/export?start=YYYY-MM-DD&days=7&format=json|yaml
func (h *PlanHandler) ExportPlan(w http.ResponseWriter, r *http.Request) {
	start, err := h.parseDay(r.URL.Query().Get("start"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	days, err := queryInt(r, "days", defaultPlanDays)
	if err == nil {
		err = validateDays(days)
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	format := formatFromRequest(r)
	var buf bytes.Buffer
	if _, err := h.service.ExportPlan(&buf, start, days, format); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	contentType := "application/json"
	if format == schedule.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportPlan はボディの計画ファイルを取り込む。検証エラーの場合は1件も作成しない。
// POST /api/plans/import?format=json|yaml
func (h *PlanHandler) ImportPlan(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	result, err := h.service.ImportPlan(r.Context(), body, formatFromRequest(r))
	if err != nil {
		if result != nil {
			// 途中まで作成済みの場合は件数を残す
			h.logger.Warn("計画ファイルの取り込みが途中で失敗しました",
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.Int("created", result.Created),
			)
		}
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
