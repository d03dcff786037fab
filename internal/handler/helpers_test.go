package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/auth"
	"github.com/dukerupert/weekplate/internal/database"
	"github.com/dukerupert/weekplate/internal/mealplan"
	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/queue"
	"github.com/dukerupert/weekplate/internal/ratelimit"
	"github.com/dukerupert/weekplate/internal/render"
	"github.com/dukerupert/weekplate/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testEnv struct {
	db      *sql.DB
	mux     *http.ServeMux
	plans   *store.MealPlanStore
	jobs    *store.JobStore
	limiter *ratelimit.Memory
	task    *mealplan.Task
	users   *store.UserStore
	userID  int64
	otherID int64
}

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
	clock := fixedClock{t: time.Date(2030, 3, 1, 10, 0, 0, 0, time.UTC)}

	env := &testEnv{
		db:      db,
		plans:   store.NewMealPlanStore(db),
		jobs:    store.NewJobStore(db),
		limiter: ratelimit.NewMemoryWithClock(clock.Now),
		users:   store.NewUserStore(db),
	}
	logs := store.NewGenerationLogStore(db)
	admission := mealplan.NewAdmission(env.plans, env.limiter, clock, time.UTC)
	svc := mealplan.NewService(env.plans, logs, admission, queue.New(env.jobs, 3), files, logger)
	env.task = mealplan.NewTask(env.plans, logs, files, render.NewPDFRenderer(nil), clock, logger)

	h := NewMealPlanHandler(svc, logger)
	env.mux = http.NewServeMux()
	env.mux.HandleFunc("GET /api/meal-plans", h.List)
	env.mux.HandleFunc("POST /api/meal-plans", h.Create)
	env.mux.HandleFunc("GET /api/meal-plans/{id}", h.Get)
	env.mux.HandleFunc("PUT /api/meal-plans/{id}", h.Regenerate)
	env.mux.HandleFunc("DELETE /api/meal-plans/{id}", h.Delete)
	env.mux.HandleFunc("GET /api/meal-plans/{id}/logs", h.Logs)
	env.mux.HandleFunc("GET /api/meal-plans/{id}/pdf", h.Download)

	alice, err := env.users.Create("alice@example.com", "Alice", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := env.users.Create("bob@example.com", "Bob", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.userID, env.otherID = alice.ID, bob.ID
	return env
}

// do sends a JSON request as userID straight to the handler mux.
func (e *testEnv) do(t *testing.T, userID int64, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// createPlan posts a plan for start and returns its id.
func (e *testEnv) createPlan(t *testing.T, start string) int64 {
	t.Helper()
	rec := e.do(t, e.userID, "POST", "/api/meal-plans", `{"start_date":"`+start+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data planJSON `json:"data"`
	}
	decode(t, rec, &resp)
	return resp.Data.ID
}

// runTask runs the plan's generation in-line and marks its queued job done,
// as the worker would.
func (e *testEnv) runTask(t *testing.T, id int64) {
	t.Helper()
	if err := e.task.Run(context.Background(), id, false); err != nil {
		t.Fatalf("run task: %v", err)
	}
	if _, err := e.db.Exec(`UPDATE jobs SET status = ? WHERE unique_key = ?`, string(model.JobDone), mealplan.JobKey(id)); err != nil {
		t.Fatalf("complete job: %v", err)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// planJSON mirrors the plan payload; generation_meta is an interface on the model.
type planJSON struct {
	ID             int64                `json:"id"`
	Status         model.MealPlanStatus `json:"status"`
	StartDate      string               `json:"start_date"`
	EndDate        string               `json:"end_date"`
	GenerationMeta map[string]any       `json:"generation_meta"`
	LogsCount      int                  `json:"logs_count"`
}

type pageJSON struct {
	Plans   []planJSON `json:"data"`
	Total   int        `json:"total"`
	Page    int        `json:"current_page"`
	PerPage int        `json:"per_page"`
}

type errorBody struct {
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

func wantFieldError(t *testing.T, rec *httptest.ResponseRecorder, field string) errorBody {
	t.Helper()
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
	var body errorBody
	decode(t, rec, &body)
	if len(body.Errors[field]) == 0 {
		t.Fatalf("errors = %v, want an entry for %s", body.Errors, field)
	}
	return body
}

func path(id int64, suffix string) string {
	return "/api/meal-plans/" + itoa(id) + suffix
}
