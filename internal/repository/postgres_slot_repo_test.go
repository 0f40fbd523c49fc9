package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/postplan/internal/model"
	"github.com/lib/pq"
)

var slotCols = []string{"id", "kind", "content_id", "story_id", "image_set_id", "caption_variant_no",
	"planned_time", "jitter_sec", "scheduled_time", "platform", "status", "priority",
	"error", "created_at", "updated_at"}

func newSlotMock(t *testing.T) (*PostgresSlotRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmockの生成に失敗: %v", err)
	}
	return NewPostgresSlotRepo(db), mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("未実行の期待値があります: %v", err)
		}
		db.Close()
	}
}

func TestPostgresSlotRepo_Create(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	planned := time.Date(2026, 3, 1, 6, 40, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO slots").
		WithArgs("meme", nil, nil, nil, nil, planned, 300, planned.Add(5*time.Minute), "instagram", 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Create(context.Background(), &model.Slot{
		Kind:          model.KindMeme,
		PlannedTime:   planned,
		JitterSec:     300,
		ScheduledTime: planned.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
}

func TestPostgresSlotRepo_Create_DuplicateRejected(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO slots").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	cid := int64(7)
	_, err := repo.Create(context.Background(), &model.Slot{
		Kind:          model.KindMeme,
		ContentID:     &cid,
		PlannedTime:   time.Now(),
		ScheduledTime: time.Now(),
	})
	if !errors.Is(err, model.ErrDuplicateSlot) {
		t.Fatalf("error = %v, want ErrDuplicateSlot", err)
	}
}

func TestPostgresSlotRepo_Bind_Success(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	cid := int64(9)
	variant := 2
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET content_id").
		WithArgs(int64(1), cid, nil, nil, int64(variant)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contents SET status").
		WithArgs(cid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Bind(context.Background(), 1, model.SlotBinding{ContentID: &cid, VariantNo: &variant})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if !ok {
		t.Error("Bind() = false, want true")
	}
}

func TestPostgresSlotRepo_Bind_AlreadyBoundIsNoOp(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	cid := int64(9)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET content_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Bind(context.Background(), 1, model.SlotBinding{ContentID: &cid})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if ok {
		t.Error("バインド済みの投稿枠でtrueが返された")
	}
}

func TestPostgresSlotRepo_Bind_ContentNotReady(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	sid := int64(4)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET content_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE stories SET status").
		WithArgs(sid).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Bind(context.Background(), 1, model.SlotBinding{StoryID: &sid})
	if !errors.Is(err, ErrContentNotReady) {
		t.Fatalf("error = %v, want ErrContentNotReady", err)
	}
	if ok {
		t.Error("ready でないストーリーでtrueが返された")
	}
}

func TestPostgresSlotRepo_Bind_ImageSet(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	setID := int64(5)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(setID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE slots SET content_id").
		WithArgs(int64(10), nil, nil, setID, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Bind(context.Background(), 10, model.SlotBinding{ImageSetID: &setID})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if !ok {
		t.Error("Bind() = false, want true")
	}
}

func TestPostgresSlotRepo_Bind_ImageSetAlreadyBound(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	// 同じ画像セットを2つ目の投稿枠にバインドしようとしても投稿枠は変更されない
	setID := int64(5)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(setID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	ok, err := repo.Bind(context.Background(), 11, model.SlotBinding{ImageSetID: &setID})
	if !errors.Is(err, ErrContentNotReady) {
		t.Fatalf("error = %v, want ErrContentNotReady", err)
	}
	if ok {
		t.Error("バインド済みの画像セットでtrueが返された")
	}
}

func TestPostgresSlotRepo_Bind_ImageSetUniqueViolation(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	// 事前確認の後に別のトランザクションが同じ画像セットをバインドした場合
	setID := int64(5)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(setID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE slots SET content_id").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_slots_image_set"})
	mock.ExpectRollback()

	ok, err := repo.Bind(context.Background(), 11, model.SlotBinding{ImageSetID: &setID})
	if !errors.Is(err, ErrContentNotReady) {
		t.Fatalf("error = %v, want ErrContentNotReady", err)
	}
	if errors.Is(err, model.ErrDuplicateSlot) {
		t.Error("画像セットの二重バインドが投稿枠の重複として扱われた")
	}
	if ok {
		t.Error("一意制約違反でtrueが返された")
	}
}

func TestPostgresSlotRepo_MarkPosted(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	postedAt := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET status").
		WithArgs(int64(3), "posted", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO posts").
		WithArgs(sqlmock.AnyArg(), int64(3), "ig_123", postedAt, "posted", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contents SET status").
		WithArgs(int64(3), "posted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE stories SET status").
		WithArgs(int64(3), "posted").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	post := &model.Post{PlatformPostID: "ig_123", PostedAt: &postedAt}
	ok, err := repo.MarkPosted(context.Background(), 3, post)
	if err != nil {
		t.Fatalf("MarkPosted() error = %v", err)
	}
	if !ok {
		t.Fatal("MarkPosted() = false, want true")
	}
	if post.ID == "" {
		t.Error("公開記録のIDが採番されていない")
	}
	if post.Status != model.SlotStatusPosted {
		t.Errorf("post.Status = %q, want %q", post.Status, model.SlotStatusPosted)
	}
}

func TestPostgresSlotRepo_MarkFailed_AlreadySettled(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET status").
		WithArgs(int64(3), "failed", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.MarkFailed(context.Background(), 3, &model.Post{Error: "timeout"})
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if ok {
		t.Error("終端状態の投稿枠でtrueが返された")
	}
}

func TestPostgresSlotRepo_ListDue(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM slots").
		WithArgs(now, "", 30).
		WillReturnRows(sqlmock.NewRows(slotCols).
			AddRow(int64(1), "meme", int64(5), nil, nil, int64(2), now, 0, now, "instagram", "queued", 0, nil, now, now).
			AddRow(int64(2), "story", nil, int64(8), nil, nil, now, 60, now, "instagram", "queued", 0, nil, now, now))

	slots, err := repo.ListDue(context.Background(), now, "", 30)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("len = %d, want 2", len(slots))
	}
	if slots[0].ContentID == nil || *slots[0].ContentID != 5 {
		t.Errorf("slots[0].ContentID = %v, want 5", slots[0].ContentID)
	}
	if slots[0].VariantNo == nil || *slots[0].VariantNo != 2 {
		t.Errorf("slots[0].VariantNo = %v, want 2", slots[0].VariantNo)
	}
	if slots[1].Kind != model.KindStory || slots[1].StoryID == nil {
		t.Errorf("slots[1] = %+v, want story slot", slots[1])
	}
}

func TestPostgresSlotRepo_SkipStale(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	before := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE slots SET status = 'skipped'").
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.SkipStale(context.Background(), before)
	if err != nil {
		t.Fatalf("SkipStale() error = %v", err)
	}
	if n != 4 {
		t.Errorf("skipped = %d, want 4", n)
	}
}

func TestPostgresSlotRepo_Reset_OnlyFailed(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET status").
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Reset(context.Background(), 6)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if ok {
		t.Error("failed 以外の投稿枠がリセットされた")
	}
}

func TestPostgresSlotRepo_Reset_RequeuesContentAndStory(t *testing.T) {
	repo, mock, done := newSlotMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots SET status").
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contents SET status").
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE stories SET status").
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Reset(context.Background(), 6)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !ok {
		t.Error("Reset() = false, want true")
	}
}
