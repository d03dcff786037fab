package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/weekplate/internal/handler"
	"github.com/dukerupert/weekplate/internal/mealplan"
	"github.com/dukerupert/weekplate/internal/middleware"
	"github.com/dukerupert/weekplate/internal/push"
	"github.com/dukerupert/weekplate/internal/ratelimit"
	"github.com/dukerupert/weekplate/internal/store"
	ws "github.com/dukerupert/weekplate/internal/websocket"
)

// Login throttling per client IP.
const (
	loginLimit  = 10
	loginWindow = time.Minute
)

// Deps are the long-lived services the HTTP layer needs.
type Deps struct {
	DB             *sql.DB
	MealPlans      *mealplan.Service
	Hub            *ws.Hub
	Push           *push.Service
	SecureCookies  bool
	OriginPatterns []string
	Logger         *slog.Logger
}

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	mealPlanH      *handler.MealPlanHandler
	authH          *handler.AuthHandler
	pushH          *handler.PushHandler
	sessionStore   *store.SessionStore
	rateLimiter    *ratelimit.Memory
	originPatterns []string
	logger         *slog.Logger
}

func New(d Deps) *Server {
	userStore := store.NewUserStore(d.DB)
	sessionStore := store.NewSessionStore(d.DB)

	var pushH *handler.PushHandler
	if d.Push != nil && d.Push.Enabled() {
		pushH = handler.NewPushHandler(store.NewPushStore(d.DB), d.Push, d.Logger.With("component", "push_handler"))
	}

	return &Server{
		db:             d.DB,
		hub:            d.Hub,
		mealPlanH:      handler.NewMealPlanHandler(d.MealPlans, d.Logger.With("component", "meal_plan")),
		authH:          handler.NewAuthHandler(userStore, sessionStore, d.SecureCookies, d.Logger.With("component", "auth")),
		pushH:          pushH,
		sessionStore:   sessionStore,
		rateLimiter:    ratelimit.NewMemory(),
		originPatterns: d.OriginPatterns,
		logger:         d.Logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the login rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *ratelimit.Memory {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /logout", s.authH.Logout)
	outerMux.HandleFunc("GET /health", handler.Health(s.db, store.NewJobStore(s.db)))

	// Protected routes, wrapped with RequireAuth
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return "login:" + middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, loginLimit, loginWindow)(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/user", s.authH.Me)

	// Meal plan API routes
	mux.HandleFunc("GET /api/meal-plans", s.mealPlanH.List)
	mux.HandleFunc("POST /api/meal-plans", s.mealPlanH.Create)
	mux.HandleFunc("GET /api/meal-plans/{id}", s.mealPlanH.Get)
	mux.HandleFunc("PUT /api/meal-plans/{id}", s.mealPlanH.Regenerate)
	mux.HandleFunc("DELETE /api/meal-plans/{id}", s.mealPlanH.Delete)
	mux.HandleFunc("GET /api/meal-plans/{id}/logs", s.mealPlanH.Logs)
	mux.HandleFunc("GET /api/meal-plans/{id}/pdf", s.mealPlanH.Download)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// WebSocket
	if s.hub != nil {
		mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.originPatterns))
	}
}
