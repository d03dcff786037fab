package store

import (
	"testing"
	"time"

	"github.com/dukerupert/weekplate/internal/model"
)

func TestGenerationLogLifecycle(t *testing.T) {
	ms, ls, uid := setupMealPlanTestDB(t)
	p, _ := ms.Create(uid, monday)
	start := time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)

	l, err := ls.Start(p.ID, start)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if l.Status != model.StatusProcessing {
		t.Errorf("status = %q, want processing", l.Status)
	}
	if l.FinishedAt != nil {
		t.Error("new log should not be finished")
	}

	end := start.Add(2 * time.Second)
	ok, err := ls.Finish(l.ID, model.StatusDone, end)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !ok {
		t.Fatal("expected finish to apply")
	}

	// A finished row is never touched again.
	ok, err = ls.Finish(l.ID, model.StatusError, end.Add(time.Minute))
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if ok {
		t.Error("expected second finish to be ignored")
	}

	got, _ := ls.GetByID(l.ID)
	if got.Status != model.StatusDone {
		t.Errorf("status = %q, want done", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(end) {
		t.Errorf("finished_at = %v, want %v", got.FinishedAt, end)
	}
}

func TestGenerationLogListNewestFirst(t *testing.T) {
	ms, ls, uid := setupMealPlanTestDB(t)
	p, _ := ms.Create(uid, monday)

	first, _ := ls.Start(p.ID, time.Now())
	second, _ := ls.Start(p.ID, time.Now())

	logs, err := ls.ListByMealPlan(p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].ID != second.ID || logs[1].ID != first.ID {
		t.Errorf("order = [%d %d], want [%d %d]", logs[0].ID, logs[1].ID, second.ID, first.ID)
	}

	n, err := ls.CountByMealPlan(p.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}
