package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/postplan/internal/assign"
	"github.com/hitoshi/postplan/internal/model"
)

type mockProcessor struct {
	mu        sync.Mutex
	calls     int
	lastLimit int
	lastKind  model.Kind
	err       error
	called    chan struct{}
}

func (m *mockProcessor) ProcessDue(ctx context.Context, now time.Time, kind model.Kind, limit int) (*PassResult, error) {
	m.mu.Lock()
	m.calls++
	m.lastLimit = limit
	m.lastKind = kind
	m.mu.Unlock()
	if m.called != nil {
		select {
		case m.called <- struct{}{}:
		default:
		}
	}
	return &PassResult{Selected: 2, Posted: 2}, m.err
}

type mockAssigner struct {
	kinds []model.Kind
	errOn model.Kind
}

func (m *mockAssigner) AssignReady(ctx context.Context, kind model.Kind, limit int, withVariants bool) (*assign.Result, error) {
	m.kinds = append(m.kinds, kind)
	if kind == m.errOn {
		return nil, errors.New("assign failed")
	}
	return &assign.Result{Kind: kind, Pairs: []assign.Pair{{SlotID: 1, RefID: 1}}}, nil
}

func TestScheduler_RunOnceAssignsThenDispatches(t *testing.T) {
	proc := &mockProcessor{}
	assigner := &mockAssigner{errOn: model.KindReel}
	var buf bytes.Buffer
	s := NewScheduler(proc, assigner, slog.New(slog.NewJSONHandler(&buf, nil)), 30, 60)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Posted != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(assigner.kinds) != 3 {
		t.Errorf("assigned kinds = %v, 割り当て失敗後も続行すること", assigner.kinds)
	}
	if proc.calls != 1 || proc.lastLimit != 30 || proc.lastKind != "" {
		t.Errorf("ProcessDue calls=%d limit=%d kind=%q", proc.calls, proc.lastLimit, proc.lastKind)
	}
	if !bytes.Contains(buf.Bytes(), []byte("自動割り当てに失敗しました")) {
		t.Error("割り当て失敗がログに出力されていない")
	}
}

func TestScheduler_RunOnceWithoutAssigner(t *testing.T) {
	proc := &mockProcessor{err: errors.New("db down")}
	s := NewScheduler(proc, nil, nil, 10, 0)

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Error("ディスパッチのエラーが返されなかった")
	}
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	proc := &mockProcessor{called: make(chan struct{}, 1)}
	s := NewScheduler(proc, nil, nil, 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-proc.called:
	case <-time.After(2 * time.Second):
		t.Fatal("起動直後にディスパッチが実行されなかった")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にスケジューラが停止しなかった")
	}
}
