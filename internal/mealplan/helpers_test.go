package mealplan

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/database"
	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/ratelimit"
	"github.com/dukerupert/weekplate/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGenerator struct {
	calls int
	err   error
	panic bool
}

func (g *fakeGenerator) Generate(_ context.Context, plan *model.MealPlan) ([]byte, error) {
	g.calls++
	if g.panic {
		panic("layout engine crashed")
	}
	if g.err != nil {
		return nil, g.err
	}
	return []byte("%PDF-1.3 plan " + plan.StartDate.String()), nil
}

func (g *fakeGenerator) Version() string { return "test-1" }

type enqueued struct {
	kind    string
	key     string
	payload GeneratePayload
}

type fakeQueue struct {
	jobs []enqueued
	live map[string]bool
	err  error
}

func (q *fakeQueue) EnqueueUnique(_ context.Context, kind, key string, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, enqueued{kind: kind, key: key, payload: payload.(GeneratePayload)})
	return "job", nil
}

func (q *fakeQueue) Live(_ context.Context, key string) (bool, error) {
	return q.live[key], nil
}

type recordingNotifier struct {
	statuses []model.MealPlanStatus
}

func (n *recordingNotifier) PlanStatusChanged(_ context.Context, plan *model.MealPlan) {
	n.statuses = append(n.statuses, plan.Status)
}

type testEnv struct {
	db        *sql.DB
	plans     *store.MealPlanStore
	logs      *store.GenerationLogStore
	users     *store.UserStore
	limiter   *ratelimit.Memory
	clock     *testClock
	artifacts *artifact.FileStore
	generator *fakeGenerator
	queue     *fakeQueue
	notifier  *recordingNotifier
	admission *Admission
	task      *Task
	service   *Service
	userID    int64
}

var errRender = errors.New("renderer unavailable")

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	files, err := artifact.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{t: time.Date(2030, 3, 1, 10, 0, 0, 0, time.UTC)}

	env := &testEnv{
		db:        db,
		plans:     store.NewMealPlanStore(db),
		logs:      store.NewGenerationLogStore(db),
		users:     store.NewUserStore(db),
		limiter:   ratelimit.NewMemoryWithClock(clock.Now),
		clock:     clock,
		artifacts: files,
		generator: &fakeGenerator{},
		queue:     &fakeQueue{live: map[string]bool{}},
		notifier:  &recordingNotifier{},
	}
	env.admission = NewAdmission(env.plans, env.limiter, clock, time.UTC)
	env.task = NewTask(env.plans, env.logs, files, env.generator, clock, logger, env.notifier)
	env.service = NewService(env.plans, env.logs, env.admission, env.queue, files, logger)

	u, err := env.users.Create("alice@example.com", "Alice", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.userID = u.ID
	return env
}

func (e *testEnv) otherUser(t *testing.T) int64 {
	t.Helper()
	u, err := e.users.Create("bob@example.com", "Bob", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func wantField(t *testing.T, err error, field string) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError on %s", err, field)
	}
	if ve.Field != field {
		t.Fatalf("field = %q, want %q (message %q)", ve.Field, field, ve.Message)
	}
	return ve
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
