// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/config"
	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/http/handlers"
	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
	"github.com/tbourn/homework-tutor-backend/internal/services"
)

// sessionRepoShim adapts the repository free functions to the
// services.SessionRepo interface expected by the SessionService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type sessionRepoShim struct{}

func (sessionRepoShim) CreateSession(ctx context.Context, db *gorm.DB, userID, title string, subject *string) (*domain.ChatSession, error) {
	return repo.CreateSession(ctx, db, userID, title, subject)
}

func (sessionRepoShim) GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ChatSession, error) {
	return repo.GetSession(ctx, db, id, userID)
}

func (sessionRepoShim) CountSessions(ctx context.Context, db *gorm.DB, userID string, f repo.SessionFilter, search string) (int64, error) {
	return repo.CountSessions(ctx, db, userID, f, search)
}

func (sessionRepoShim) ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, f repo.SessionFilter, p repo.Page) ([]domain.ChatSession, error) {
	return repo.ListSessionsPage(ctx, db, userID, f, p)
}

func (sessionRepoShim) UpdateSessionTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateSessionTitle(ctx, db, id, userID, title)
}

func (sessionRepoShim) UpdateSessionStatus(ctx context.Context, db *gorm.DB, id, userID string, next domain.SessionStatus, from ...domain.SessionStatus) error {
	return repo.UpdateSessionStatus(ctx, db, id, userID, next, from...)
}

func (sessionRepoShim) ListSessionQuestions(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.Question, error) {
	return repo.ListSessionQuestions(ctx, db, sessionID, limit)
}

func (sessionRepoShim) ArchiveIdleSessions(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	return repo.ArchiveIdleSessions(ctx, db, before)
}

// NewSessionService returns a SessionService backed by the repo package.
func NewSessionService(db *gorm.DB) *services.SessionService {
	return services.NewSessionService(db, sessionRepoShim{})
}

// idempotencyStore persists Idempotency-Key outcomes in the database.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) Lookup(ctx context.Context, userID, scope, key string) (string, bool) {
	id, found, _ := s.find(ctx, userID, scope, key, time.Now().UTC())
	return id, found
}

// find is the middleware.IdempotencyLookup over the same table.
func (s idempotencyStore) find(ctx context.Context, userID, scope, key string, now time.Time) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

func (s idempotencyStore) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("idempotency record not stored")
	}
}

// App is everything RegisterRoutes mounts. Nil services leave their routes
// answering 503.
type App struct {
	DB     *gorm.DB
	API    handlers.Deps
	Tokens middleware.TokenParser
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (uploads get the image cap)
//  6. Metrics
//  7. Gzip (never on the event stream or the WebSocket)
//  8. CORS and Security headers
//
// and on the API group:
//  1. Authenticate: resolves the user (bearer token or dev header)
//  2. Idempotency validator (before rate limiter to allow bypass on replay)
//  3. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, app App, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	if apiBase == "/" {
		apiBase = ""
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-User-ID"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limits: 1 MiB for JSON, the image cap plus multipart
	// framing for uploads.
	maxImage := cfg.Storage.MaxImageBytes
	if maxImage <= 0 {
		maxImage = 10 << 20
	}
	r.Use(limitBody(1<<20, map[string]int64{
		apiBase + "/uploads/images": maxImage + 64<<10,
	}))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		apiBase + "/questions/stream",
		apiBase + "/ws/",
		"/metrics",
	})))

	// 8) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey}
	exposed := []string{"X-Request-ID", "Content-Length", "ETag", "Location", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		Revalidate:   []string{apiBase + "/sessions", apiBase + "/mistakes"},
		DocsPrefix:   "/swagger/",
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(app.DB))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: defaults backed by the database
	deps := app.API
	if app.DB != nil {
		db := app.DB
		if deps.Sessions == nil {
			deps.Sessions = NewSessionService(db)
		}
		if deps.Feedback == nil {
			deps.Feedback = &services.FeedbackService{DB: db}
		}
		if deps.Idem == nil {
			ttl := cfg.IdempotencyTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			deps.Idem = idempotencyStore{db: db, ttl: ttl}
		}
		if deps.SessionsETag == nil {
			deps.SessionsETag = func(ctx context.Context, uid string) (int64, *time.Time, error) {
				return repo.SessionsStats(ctx, db, uid)
			}
		}
		if deps.MistakesETag == nil {
			deps.MistakesETag = func(ctx context.Context, uid string) (int64, *time.Time, error) {
				return repo.MistakesStats(ctx, db, uid)
			}
		}
	}
	if deps.MaxImageBytes <= 0 {
		deps.MaxImageBytes = maxImage
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = cfg.CORS.AllowedOrigins
	}
	h := handlers.New(deps)

	// Model-backed routes draw more tokens than reads.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).WithCosts(map[string]int{
		apiBase + "/questions":                3,
		apiBase + "/questions/stream":         3,
		apiBase + "/ws/questions":             3,
		apiBase + "/homework/:id/submissions": 5,
		apiBase + "/uploads/images":           2,
	})

	// Public API
	api := groupWithPrefix(r, apiBase)

	// Sign-up and sign-in (rate limited per IP)
	public := api.Group("/auth", rl.Handler())
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
	}

	var lookup middleware.IdempotencyLookup
	if app.DB != nil {
		lookup = idempotencyStore{db: app.DB}.find
	}
	authed := api.Group("",
		middleware.Authenticate(middleware.AuthOptions{Tokens: app.Tokens, Dev: cfg.DevMode()}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup),
		rl.Handler(),
	)
	{
		// Questions
		authed.POST("/questions", h.AskQuestion)
		authed.POST("/questions/stream", h.AskQuestionStream)
		authed.GET("/ws/questions", h.AskQuestionWS)

		// Sessions
		authed.POST("/sessions", h.CreateSession)
		authed.GET("/sessions", h.ListSessions)
		authed.GET("/sessions/:id", h.GetSession)
		authed.PUT("/sessions/:id/title", h.UpdateSessionTitle)
		authed.PATCH("/sessions/:id/status", h.UpdateSessionStatus)

		// Feedback
		authed.POST("/answers/:id/feedback", h.LeaveFeedback)

		// Homework
		authed.POST("/homework/:id/submissions", h.SubmitHomework)
		authed.GET("/submissions/:id", h.GetSubmission)

		// Mistake book
		authed.GET("/mistakes", h.ListMistakes)
		authed.GET("/mistakes/due", h.DueMistakes)
		authed.GET("/mistakes/:id", h.GetMistake)
		authed.POST("/mistakes", h.CreateMistake)
		authed.POST("/mistakes/:id/reviews", h.ReviewMistake)

		// Learning context
		authed.GET("/learning/context", h.GetLearningContext)

		// Uploads
		authed.POST("/uploads/images", h.UploadImage)
	}
}

// readiness reports whether the database answers a ping.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "disabled"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx, db); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader, or to the per-route cap in overrides
// (keyed by route pattern). Requests exceeding the cap will cause downstream
// body reads to error.
func limitBody(maxBytes int64, overrides map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if n, ok := overrides[c.FullPath()]; ok {
			limit = n
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
