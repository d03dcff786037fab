package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/auth"
	"github.com/dukerupert/weekplate/internal/database"
	"github.com/dukerupert/weekplate/internal/mealplan"
	"github.com/dukerupert/weekplate/internal/middleware"
	"github.com/dukerupert/weekplate/internal/push"
	"github.com/dukerupert/weekplate/internal/queue"
	"github.com/dukerupert/weekplate/internal/ratelimit"
	"github.com/dukerupert/weekplate/internal/render"
	"github.com/dukerupert/weekplate/internal/store"
	ws "github.com/dukerupert/weekplate/internal/websocket"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testServer struct {
	handler http.Handler
	worker  *queue.Worker
	limiter *ratelimit.Memory
	userID  int64
}

func newTestServer(t *testing.T) *testServer {
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

	plans := store.NewMealPlanStore(db)
	logs := store.NewGenerationLogStore(db)
	jobs := store.NewJobStore(db)
	limiter := ratelimit.NewMemoryWithClock(clock.Now)
	hub := ws.NewHub(logger)

	admission := mealplan.NewAdmission(plans, limiter, clock, time.UTC)
	svc := mealplan.NewService(plans, logs, admission, queue.New(jobs, 3), files, logger)
	task := mealplan.NewTask(plans, logs, files, render.NewPDFRenderer(nil), clock, logger, hub)

	worker := queue.NewWorker(jobs, queue.Config{Concurrency: 1}, logger)
	worker.Register(mealplan.JobKindGenerate, mealplan.NewGenerateHandler(task))

	srv := New(Deps{
		DB:        db,
		MealPlans: svc,
		Hub:       hub,
		Push:      push.NewService(push.Config{}),
		Logger:    logger,
	})

	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u, err := store.NewUserStore(db).Create("alice@example.com", "Alice", hash)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	return &testServer{handler: srv.Router(), worker: worker, limiter: limiter, userID: u.ID}
}

func (s *testServer) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.request(t, "POST", "/login", "", `{"email":"alice@example.com","password":"hunter2hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Value
		}
	}
	t.Fatal("login did not set a session cookie")
	return ""
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	health := func() map[string]int {
		t.Helper()
		rec := s.request(t, "GET", "/health", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Status string         `json:"status"`
			Queue  map[string]int `json:"queue"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "ok" {
			t.Errorf("status = %q, want ok", body.Status)
		}
		return body.Queue
	}

	if q := health(); q["queued"] != 0 || q["dead"] != 0 {
		t.Errorf("queue = %v, want empty", q)
	}

	token := s.login(t)
	rec := s.request(t, "POST", "/api/meal-plans", token, `{"start_date":"2030-03-08"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	if q := health(); q["queued"] != 1 {
		t.Errorf("queued = %d, want 1", q["queued"])
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	for _, p := range []string{"/api/meal-plans", "/api/meal-plans/1", "/api/meal-plans/1/pdf", "/api/user"} {
		if rec := s.request(t, "GET", p, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", p, rec.Code)
		}
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, "POST", "/login", "", `{"email":"alice@example.com","password":"wrong-password"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad password status = %d, want 422", rec.Code)
	}

	token := s.login(t)
	rec = s.request(t, "GET", "/api/user", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alice@example.com") {
		t.Errorf("me body = %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash must not be serialized")
	}

	rec = s.request(t, "POST", "/logout", token, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", rec.Code)
	}
	if rec := s.request(t, "GET", "/api/user", token, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", rec.Code)
	}
}

func TestLoginThrottledByIP(t *testing.T) {
	s := newTestServer(t)
	body := `{"email":"alice@example.com","password":"nope-nope"}`
	for i := 0; i < loginLimit; i++ {
		s.request(t, "POST", "/login", "", body)
	}
	if rec := s.request(t, "POST", "/login", "", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestPushRoutesDisabledWithoutKeys(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	if rec := s.request(t, "GET", "/api/push/vapid-key", token, ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when push is not configured", rec.Code)
	}
}

// Create for a week ahead, run it through the worker, download the document,
// then force a regeneration past the rate limit.
func TestMealPlanLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	ctx := context.Background()

	rec := s.request(t, "POST", "/api/meal-plans", token, `{"start_date":"2030-03-08"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Data.Status != "pending" {
		t.Fatalf("status = %q, want pending", created.Data.Status)
	}
	planPath := "/api/meal-plans/" + itoa(created.Data.ID)

	ran, err := s.worker.RunOnce(ctx)
	if err != nil || !ran {
		t.Fatalf("RunOnce = %v, %v; want a job to run", ran, err)
	}

	rec = s.request(t, "GET", planPath, token, "")
	var got struct {
		Data struct {
			Status string            `json:"status"`
			Logs   []json.RawMessage `json:"logs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data.Status != "done" || len(got.Data.Logs) != 1 {
		t.Fatalf("plan = %+v, want done with 1 log", got.Data)
	}

	rec = s.request(t, "GET", planPath+"/pdf", token, "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("download status = %d", rec.Code)
	}

	key := ratelimit.Key(mealplan.ActionRegenerate, s.userID)
	for i := 0; i < mealplan.MaxAttempts; i++ {
		s.limiter.Hit(ctx, key, mealplan.AttemptWindow)
	}
	rec = s.request(t, "PUT", planPath, token, `{"regenerate":true}`)
	if rec.Code != http.StatusUnprocessableEntity || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("throttled regenerate status = %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	rec = s.request(t, "PUT", planPath, token, `{"regenerate":true,"force":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("forced regenerate status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Errorf("body = %s, want pending plan", rec.Body.String())
	}

	if ran, _ := s.worker.RunOnce(ctx); !ran {
		t.Fatal("expected the regeneration job to run")
	}
	rec = s.request(t, "GET", planPath+"/logs", token, "")
	var logs struct {
		Data []json.RawMessage `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &logs)
	if len(logs.Data) != 2 {
		t.Errorf("logs = %d, want 2 after regeneration", len(logs.Data))
	}

	rec = s.request(t, "DELETE", planPath, token, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
