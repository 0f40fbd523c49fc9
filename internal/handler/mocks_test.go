package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/content"
	"github.com/hitoshi/postplan/internal/dispatch"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/hitoshi/postplan/internal/schedule"
)

// --- モック定義 ---

type mockContentService struct {
	createContentFn     func(ctx context.Context, in content.Input) (int64, bool, error)
	setCaptionFn        func(ctx context.Context, id int64, caption, hashtags string) error
	setVariantsFn       func(ctx context.Context, id int64, variants []content.VariantInput) (int, error)
	retireVariantFn     func(ctx context.Context, id int64, no int) error
	createImageSetFn    func(ctx context.Context, refs []string, caption string) (*model.ImageSet, error)
	createFromContentFn func(ctx context.Context, ids []int64, caption string) (*model.ImageSet, error)
	createStoryFn       func(ctx context.Context, storyType string, payload map[string]any) (int64, error)
	upsertPoolFn        func(ctx context.Context, name, csv string, active bool) error
	upsertAudioPoolFn   func(ctx context.Context, name, items string, active bool) error
}

func (m *mockContentService) CreateContent(ctx context.Context, in content.Input) (int64, bool, error) {
	if m.createContentFn != nil {
		return m.createContentFn(ctx, in)
	}
	return 1, true, nil
}

func (m *mockContentService) SetCaption(ctx context.Context, id int64, caption, hashtags string) error {
	if m.setCaptionFn != nil {
		return m.setCaptionFn(ctx, id, caption, hashtags)
	}
	return nil
}

func (m *mockContentService) SetCaptionVariants(ctx context.Context, id int64, variants []content.VariantInput) (int, error) {
	if m.setVariantsFn != nil {
		return m.setVariantsFn(ctx, id, variants)
	}
	return len(variants), nil
}

func (m *mockContentService) RetireVariant(ctx context.Context, id int64, no int) error {
	if m.retireVariantFn != nil {
		return m.retireVariantFn(ctx, id, no)
	}
	return nil
}

func (m *mockContentService) CreateImageSet(ctx context.Context, refs []string, caption string) (*model.ImageSet, error) {
	if m.createImageSetFn != nil {
		return m.createImageSetFn(ctx, refs, caption)
	}
	return &model.ImageSet{ID: 1, ImageRefs: refs, Caption: caption}, nil
}

func (m *mockContentService) CreateImageSetFromContents(ctx context.Context, ids []int64, caption string) (*model.ImageSet, error) {
	if m.createFromContentFn != nil {
		return m.createFromContentFn(ctx, ids, caption)
	}
	return &model.ImageSet{ID: 2, ImageRefs: make([]string, len(ids)), Caption: caption}, nil
}

func (m *mockContentService) CreateStory(ctx context.Context, storyType string, payload map[string]any) (int64, error) {
	if m.createStoryFn != nil {
		return m.createStoryFn(ctx, storyType, payload)
	}
	return 1, nil
}

func (m *mockContentService) UpsertPool(ctx context.Context, name, csv string, active bool) error {
	if m.upsertPoolFn != nil {
		return m.upsertPoolFn(ctx, name, csv, active)
	}
	return nil
}

func (m *mockContentService) UpsertAudioPool(ctx context.Context, name, items string, active bool) error {
	if m.upsertAudioPoolFn != nil {
		return m.upsertAudioPoolFn(ctx, name, items, active)
	}
	return nil
}

type mockPlanService struct {
	planDayFn  func(ctx context.Context, req schedule.DayRequest) (*schedule.CreateResult, error)
	planWeekFn func(ctx context.Context, start time.Time, days int) (*schedule.CreateResult, error)
	exportFn   func(w io.Writer, start time.Time, days int, format schedule.Format) (int, error)
	importFn   func(ctx context.Context, r io.Reader, format schedule.Format) (*schedule.CreateResult, error)
}

func (m *mockPlanService) PlanDay(ctx context.Context, req schedule.DayRequest) (*schedule.CreateResult, error) {
	if m.planDayFn != nil {
		return m.planDayFn(ctx, req)
	}
	return &schedule.CreateResult{}, nil
}

func (m *mockPlanService) PlanWeek(ctx context.Context, start time.Time, days int) (*schedule.CreateResult, error) {
	if m.planWeekFn != nil {
		return m.planWeekFn(ctx, start, days)
	}
	return &schedule.CreateResult{}, nil
}

func (m *mockPlanService) ExportPlan(w io.Writer, start time.Time, days int, format schedule.Format) (int, error) {
	if m.exportFn != nil {
		return m.exportFn(w, start, days, format)
	}
	return 0, nil
}

func (m *mockPlanService) ImportPlan(ctx context.Context, r io.Reader, format schedule.Format) (*schedule.CreateResult, error) {
	if m.importFn != nil {
		return m.importFn(ctx, r, format)
	}
	return &schedule.CreateResult{}, nil
}

type mockAssignService struct {
	assignFn        func(ctx context.Context, kind model.Kind, ids []int64, variants bool) (*assign.Result, error)
	assignReadyFn   func(ctx context.Context, kind model.Kind, limit int, variants bool) (*assign.Result, error)
	assignStoriesFn func(ctx context.Context, now time.Time, maxCreate int) (*assign.Result, error)
}

func (m *mockAssignService) Assign(ctx context.Context, kind model.Kind, ids []int64, variants bool) (*assign.Result, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, kind, ids, variants)
	}
	return &assign.Result{Kind: kind}, nil
}

func (m *mockAssignService) AssignReady(ctx context.Context, kind model.Kind, limit int, variants bool) (*assign.Result, error) {
	if m.assignReadyFn != nil {
		return m.assignReadyFn(ctx, kind, limit, variants)
	}
	return &assign.Result{Kind: kind}, nil
}

func (m *mockAssignService) GenerateAndAssignStories(ctx context.Context, now time.Time, maxCreate int) (*assign.Result, error) {
	if m.assignStoriesFn != nil {
		return m.assignStoriesFn(ctx, now, maxCreate)
	}
	return &assign.Result{Kind: model.KindStory}, nil
}

type mockDispatchService struct {
	processDueFn func(ctx context.Context, now time.Time, kind model.Kind, limit int) (*dispatch.PassResult, error)
	resetFn      func(ctx context.Context, id int64) error
}

func (m *mockDispatchService) ProcessDue(ctx context.Context, now time.Time, kind model.Kind, limit int) (*dispatch.PassResult, error) {
	if m.processDueFn != nil {
		return m.processDueFn(ctx, now, kind, limit)
	}
	return &dispatch.PassResult{}, nil
}

func (m *mockDispatchService) ResetSlot(ctx context.Context, id int64) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, id)
	}
	return nil
}

type mockSlotReader struct {
	listFn      func(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error)
	listPostsFn func(ctx context.Context, id int64) ([]*model.Post, error)
}

func (m *mockSlotReader) List(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockSlotReader) ListPosts(ctx context.Context, id int64) ([]*model.Post, error) {
	if m.listPostsFn != nil {
		return m.listPostsFn(ctx, id)
	}
	return nil, nil
}

type mockHealth struct {
	err error
}

func (m *mockHealth) PingContext(ctx context.Context) error { return m.err }

// --- テストヘルパー ---

var ist = time.FixedZone("IST", 5*3600+30*60)

type testDeps struct {
	contents   *mockContentService
	plans      *mockPlanService
	assigner   *mockAssignService
	dispatcher *mockDispatchService
	slots      *mockSlotReader
	health     *mockHealth
	token      string
	logs       *bytes.Buffer
}

func newTestDeps() *testDeps {
	return &testDeps{
		contents:   &mockContentService{},
		plans:      &mockPlanService{},
		assigner:   &mockAssignService{},
		dispatcher: &mockDispatchService{},
		slots:      &mockSlotReader{},
		health:     &mockHealth{},
		logs:       &bytes.Buffer{},
	}
}

func (d *testDeps) router() http.Handler {
	logger := slog.New(slog.NewJSONHandler(d.logs, nil))
	plans := NewPlanHandler(d.plans, ist, schedule.Jitters{Meme: 15, Reel: 12, Story: 7}, logger)
	plans.now = func() time.Time { return time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC) }
	return NewRouter(&RouterDeps{
		Logger:     logger,
		APIToken:   d.token,
		Health:     d.health,
		Contents:   d.contents,
		Plans:      plans,
		Assigner:   d.assigner,
		Dispatcher: d.dispatcher,
		Slots:      d.slots,
	})
}

func (d *testDeps) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	w := httptest.NewRecorder()
	d.router().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, w)["code"]
}
