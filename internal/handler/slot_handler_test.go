package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/dispatch"
	"github.com/hitoshi/postplan/internal/model"
)

func TestAssign_ByIDs(t *testing.T) {
	d := newTestDeps()
	var gotKind model.Kind
	var gotIDs []int64
	var gotVariants bool
	d.assigner.assignFn = func(ctx context.Context, kind model.Kind, ids []int64, variants bool) (*assign.Result, error) {
		gotKind, gotIDs, gotVariants = kind, ids, variants
		return &assign.Result{Kind: kind, Pairs: []assign.Pair{{SlotID: 10, RefID: 1}}, Unassigned: []int64{2}}, nil
	}

	w := d.do(t, http.MethodPost, "/api/assignments", `{"kind":"meme","content_ids":[1,2],"variants":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", w.Code, w.Body.String())
	}
	if gotKind != model.KindMeme || len(gotIDs) != 2 || !gotVariants {
		t.Errorf("kind=%q ids=%v variants=%v", gotKind, gotIDs, gotVariants)
	}
	resp := decodeBody[assign.Result](t, w)
	if len(resp.Pairs) != 1 || resp.Pairs[0].SlotID != 10 || len(resp.Unassigned) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAssign_Ready(t *testing.T) {
	d := newTestDeps()
	var gotLimit int
	d.assigner.assignReadyFn = func(ctx context.Context, kind model.Kind, limit int, variants bool) (*assign.Result, error) {
		gotLimit = limit
		return &assign.Result{Kind: kind}, nil
	}
	d.assigner.assignFn = func(ctx context.Context, kind model.Kind, ids []int64, variants bool) (*assign.Result, error) {
		t.Fatal("Assign should not be called")
		return nil, nil
	}

	w := d.do(t, http.MethodPost, "/api/assignments", `{"kind":"reel","ready":true,"limit":5}`)
	if w.Code != http.StatusOK || gotLimit != 5 {
		t.Errorf("status = %d, limit = %d", w.Code, gotLimit)
	}
}

func TestAssign_InvalidKind(t *testing.T) {
	d := newTestDeps()
	w := d.do(t, http.MethodPost, "/api/assignments", `{"kind":"podcast","content_ids":[1]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAssignStories(t *testing.T) {
	d := newTestDeps()
	var gotMax int
	d.assigner.assignStoriesFn = func(ctx context.Context, now time.Time, maxCreate int) (*assign.Result, error) {
		gotMax = maxCreate
		return &assign.Result{Kind: model.KindStory}, nil
	}
	w := d.do(t, http.MethodPost, "/api/assignments/stories", `{"max":12}`)
	if w.Code != http.StatusOK || gotMax != 12 {
		t.Errorf("status = %d, max = %d", w.Code, gotMax)
	}
}

func TestDispatch(t *testing.T) {
	d := newTestDeps()
	var gotKind model.Kind
	var gotLimit int
	d.dispatcher.processDueFn = func(ctx context.Context, now time.Time, kind model.Kind, limit int) (*dispatch.PassResult, error) {
		gotKind, gotLimit = kind, limit
		return &dispatch.PassResult{Selected: 3, Posted: 2, Failed: 1}, nil
	}

	w := d.do(t, http.MethodPost, "/api/dispatch", `{"kind":"story","limit":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotKind != model.KindStory || gotLimit != 10 {
		t.Errorf("kind=%q limit=%d", gotKind, gotLimit)
	}
	if resp := decodeBody[dispatch.PassResult](t, w); resp.Posted != 2 || resp.Failed != 1 {
		t.Errorf("resp = %+v", resp)
	}

	// ボディなしは全種別
	w = d.do(t, http.MethodPost, "/api/dispatch", "")
	if w.Code != http.StatusOK || gotKind != "" || gotLimit != 0 {
		t.Errorf("ボディなし: status=%d kind=%q limit=%d", w.Code, gotKind, gotLimit)
	}
}

func TestListSlots(t *testing.T) {
	d := newTestDeps()
	var got model.SlotFilter
	contentID := int64(4)
	at := time.Date(2026, 10, 18, 1, 50, 0, 0, time.UTC)
	d.slots.listFn = func(ctx context.Context, filter model.SlotFilter) ([]*model.Slot, error) {
		got = filter
		return []*model.Slot{{ID: 1, Kind: model.KindMeme, Status: model.SlotStatusFailed, ContentID: &contentID, ScheduledTime: at, Error: "gateway 500"}}, nil
	}

	w := d.do(t, http.MethodGet, "/api/slots?status=failed&kind=meme&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Status != "failed" || got.Kind != model.KindMeme || got.Limit != 5 {
		t.Errorf("filter = %+v", got)
	}
	resp := decodeBody[[]slotResponse](t, w)
	if len(resp) != 1 || resp[0].Error != "gateway 500" || *resp[0].ContentID != 4 || !resp[0].ScheduledTime.Equal(at) {
		t.Errorf("resp = %+v", resp)
	}

	if w := d.do(t, http.MethodGet, "/api/slots?status=done", ""); w.Code != http.StatusBadRequest {
		t.Errorf("未知の状態: status = %d", w.Code)
	}
}

func TestResetSlot(t *testing.T) {
	d := newTestDeps()
	d.dispatcher.resetFn = func(ctx context.Context, id int64) error {
		switch id {
		case 1:
			return nil
		case 2:
			return model.NewInvalidStateError("failed 以外の投稿枠はリセットできません")
		}
		return model.NewNotFoundError("投稿枠", id)
	}

	if w := d.do(t, http.MethodPost, "/api/slots/1/reset", ""); w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w := d.do(t, http.MethodPost, "/api/slots/2/reset", ""); w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if w := d.do(t, http.MethodPost, "/api/slots/3/reset", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListPosts(t *testing.T) {
	d := newTestDeps()
	d.slots.listPostsFn = func(ctx context.Context, id int64) ([]*model.Post, error) {
		if id != 8 {
			return nil, errors.New("unexpected id")
		}
		return []*model.Post{
			{ID: "p1", SlotID: 8, Status: model.SlotStatusFailed, Error: "timeout"},
			{ID: "p2", SlotID: 8, Status: model.SlotStatusPosted, PlatformPostID: "ig-8"},
		}, nil
	}

	w := d.do(t, http.MethodGet, "/api/slots/8/posts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody[[]postResponse](t, w)
	if len(resp) != 2 || resp[1].PlatformPostID != "ig-8" || resp[0].Error != "timeout" {
		t.Errorf("resp = %+v", resp)
	}
}
