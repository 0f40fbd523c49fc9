package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/dispatch"
	"github.com/hitoshi/postplan/internal/model"
)

// AssignService は割り当てハンドラーが必要とするサービス。assign.Engine が満たす。
type AssignService interface {
	Assign(ctx context.Context, kind model.Kind, ids []int64, withVariants bool) (*assign.Result, error)
	AssignReady(ctx context.Context, kind model.Kind, limit int, withVariants bool) (*assign.Result, error)
	GenerateAndAssignStories(ctx context.Context, now time.Time, maxCreate int) (*assign.Result, error)
}

// DispatchService はディスパッチハンドラーが必要とするサービス。dispatch.Dispatcher が満たす。
type DispatchService interface {
	ProcessDue(ctx context.Context, now time.Time, kind model.Kind, limit int) (*dispatch.PassResult, error)
	ResetSlot(ctx context.Context, slotID int64) error
}

// SlotReader は投稿枠と公開記録の参照。repository.SlotRepository が満たす。
type SlotReader interface {
	List(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error)
	ListPosts(ctx context.Context, slotID int64) ([]*model.Post, error)
}

// SlotHandler は割り当て・ディスパッチ・投稿枠参照のHTTPハンドラー。
type SlotHandler struct {
	assigner   AssignService
	dispatcher DispatchService
	slots      SlotReader
	logger     *slog.Logger
	now        func() time.Time
}

// NewSlotHandler はSlotHandlerを生成する。
func NewSlotHandler(assigner AssignService, dispatcher DispatchService, slots SlotReader, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{assigner: assigner, dispatcher: dispatcher, slots: slots, logger: logger, now: time.Now}
}

type assignRequest struct {
	Kind       string  `json:"kind"`
	ContentIDs []int64 `json:"content_ids"`
	Variants   bool    `json:"variants"`
	// Ready がtrueの場合は content_ids の代わりに ready なものから limit 件を割り当てる
	Ready bool `json:"ready"`
	Limit int  `json:"limit"`
}

// Assign はコンテンツを空き投稿枠に割り当てる。
// POST /api/assignments
func (h *SlotHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	var result *assign.Result
	if req.Ready {
		result, err = h.assigner.AssignReady(r.Context(), kind, req.Limit, req.Variants)
	} else {
		result, err = h.assigner.Assign(r.Context(), kind, req.ContentIDs, req.Variants)
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type assignStoriesRequest struct {
	Max int `json:"max"`
}

// AssignStories はストーリーを生成して空きストーリー枠に割り当てる。
// POST /api/assignments/stories
func (h *SlotHandler) AssignStories(w http.ResponseWriter, r *http.Request) {
	var req assignStoriesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Max < 0 {
		handleServiceError(w, r, h.logger, model.NewValidationError("maxは0以上で指定してください"))
		return
	}

	result, err := h.assigner.GenerateAndAssignStories(r.Context(), h.now(), req.Max)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type dispatchRequest struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

// Dispatch は公開期限に達した投稿枠を1回分処理する。
// POST /api/dispatch
func (h *SlotHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	result, err := h.dispatcher.ProcessDue(r.Context(), h.now(), model.Kind(req.Kind), req.Limit)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type slotResponse struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	ContentID     *int64    `json:"content_id,omitempty"`
	StoryID       *int64    `json:"story_id,omitempty"`
	ImageSetID    *int64    `json:"image_set_id,omitempty"`
	VariantNo     *int      `json:"variant_no,omitempty"`
	PlannedTime   time.Time `json:"planned_time"`
	JitterSec     int       `json:"jitter_sec"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Platform      string    `json:"platform"`
	Priority      int       `json:"priority"`
	Error         string    `json:"error,omitempty"`
}

func toSlotResponse(s *model.Slot) slotResponse {
	return slotResponse{
		ID:            s.ID,
		Kind:          string(s.Kind),
		Status:        s.Status,
		ContentID:     s.ContentID,
		StoryID:       s.StoryID,
		ImageSetID:    s.ImageSetID,
		VariantNo:     s.VariantNo,
		PlannedTime:   s.PlannedTime.UTC(),
		JitterSec:     s.JitterSec,
		ScheduledTime: s.ScheduledTime.UTC(),
		Platform:      s.Platform,
		Priority:      s.Priority,
		Error:         s.Error,
	}
}

var slotStatuses = map[string]bool{
	model.SlotStatusQueued:  true,
	model.SlotStatusPosted:  true,
	model.SlotStatusFailed:  true,
	model.SlotStatusSkipped: true,
}

// ListSlots は投稿枠を公開時刻順に返す。
// GET /api/slots?status=&kind=&limit=
func (h *SlotHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SlotFilter{Status: q.Get("status")}
	if filter.Status != "" && !slotStatuses[filter.Status] {
		handleServiceError(w, r, h.logger, model.NewValidationError("未知の状態です: "+filter.Status))
		return
	}
	if k := q.Get("kind"); k != "" {
		kind, err := model.ParseKind(k)
		if err != nil {
			handleServiceError(w, r, h.logger, err)
			return
		}
		filter.Kind = kind
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	filter.Limit = limit

	slots, err := h.slots.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	resp := make([]slotResponse, len(slots))
	for i, s := range slots {
		resp[i] = toSlotResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetSlot は failed の投稿枠を queued に戻す。
// POST /api/slots/{id}/reset
func (h *SlotHandler) ResetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	if err := h.dispatcher.ResetSlot(r.Context(), id); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postResponse struct {
	ID             string     `json:"id"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ListPosts は投稿枠の公開記録を返す。
// GET /api/slots/{id}/posts
func (h *SlotHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	posts, err := h.slots.ListPosts(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	resp := make([]postResponse, len(posts))
	for i, p := range posts {
		resp[i] = postResponse{
			ID:             p.ID,
			PlatformPostID: p.PlatformPostID,
			PostedAt:       p.PostedAt,
			Status:         p.Status,
			Error:          p.Error,
			CreatedAt:      p.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
