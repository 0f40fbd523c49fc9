package model

import (
	"fmt"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil {
			t.Fatalf("ParseKind(%q) error = %v", k, err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %q", k, got)
		}
	}

	_, err := ParseKind("podcast")
	if err == nil {
		t.Fatal("未知の種別でエラーが返されなかった")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("error code = %v, want %s", err, ErrCodeValidation)
	}
}

func TestKind_UsesContent(t *testing.T) {
	tests := map[Kind]bool{
		KindMeme:     true,
		KindReel:     true,
		KindCarousel: false,
		KindStory:    false,
	}
	for k, want := range tests {
		if got := k.UsesContent(); got != want {
			t.Errorf("%s.UsesContent() = %v, want %v", k, got, want)
		}
	}
}

func TestSlot_BoundAndDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := &Slot{ScheduledTime: now}

	if s.Bound() {
		t.Error("参照なしのSlotがバインド済みと判定された")
	}
	id := int64(3)
	s.StoryID = &id
	if !s.Bound() {
		t.Error("StoryID設定済みのSlotが未バインドと判定された")
	}

	if !s.Due(now) {
		t.Error("公開時刻ちょうどでDueにならなかった")
	}
	if s.Due(now.Add(-time.Second)) {
		t.Error("公開時刻前にDueになった")
	}
}

func TestHasCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("作成に失敗しました: %w", ErrDuplicateSlot)
	if !HasCode(err, ErrCodeDuplicateSlot) {
		t.Error("ラップされたAPIErrorのコードを検出できなかった")
	}
	if HasCode(fmt.Errorf("plain"), ErrCodeDuplicateSlot) {
		t.Error("APIError以外でtrueが返された")
	}
}
