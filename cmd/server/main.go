// Command server runs the homework tutor HTTP API.
//
//	@title						Homework Tutor API
//	@version					1.0
//	@description				Question answering, homework correction and a spaced-repetition mistake book for K-12 students.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/docs"
	"github.com/tbourn/homework-tutor-backend/internal/auth"
	"github.com/tbourn/homework-tutor-backend/internal/cache"
	"github.com/tbourn/homework-tutor-backend/internal/config"
	"github.com/tbourn/homework-tutor-backend/internal/correction"
	httpapi "github.com/tbourn/homework-tutor-backend/internal/http"
	"github.com/tbourn/homework-tutor-backend/internal/http/handlers"
	"github.com/tbourn/homework-tutor-backend/internal/learning"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
	"github.com/tbourn/homework-tutor-backend/internal/llm"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/ocr"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
	"github.com/tbourn/homework-tutor-backend/internal/search"
	"github.com/tbourn/homework-tutor-backend/internal/services"
	"github.com/tbourn/homework-tutor-backend/internal/storage"
	"github.com/tbourn/homework-tutor-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, sqlDB.Close)
	}

	lex := lexicon.Default()
	if p := os.Getenv("LEXICON_PATH"); p != "" {
		if l, err := lexicon.Load(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("lexicon override ignored")
		} else {
			lex = l
		}
	}

	var ctxCache cache.Cache = cache.Nop{}
	if cfg.Cache.URL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.URL, "hwtutor:")
		if err != nil {
			log.Warn().Err(err).Msg("cache unavailable, continuing without it")
		} else {
			ctxCache = rc
			closers = append(closers, rc.Close)
		}
	}
	builder := learning.NewBuilder(db, lex, ctxCache, learning.Options{
		CacheTTL:       cfg.Cache.ContextTTL,
		SnapshotMaxAge: cfg.SnapshotMaxAge,
	})

	store, closeStore := openStore(ctx, cfg)
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	reader, closeOCR := openOCR(ctx, cfg)
	if closeOCR != nil {
		closers = append(closers, closeOCR)
	}

	mistakes := services.NewMistakeService(db, builder)

	authSvc := services.NewAuthService(db, auth.NewHasher(cfg.Auth.PBKDF2Iterations), nil)
	authSvc.RehashOnLogin = cfg.Auth.RehashOnLogin
	var tokens *auth.Tokens
	if !cfg.DevMode() {
		tokens = auth.NewTokens(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
		authSvc.Tokens = tokens
	} else {
		log.Warn().Msg("SECRET_KEY not set: development mode, X-User-ID is trusted")
	}

	deps := handlers.Deps{
		Mistakes: mistakes,
		Auth:     authSvc,
		Learning: builder,
		Store:    store,
	}

	var homework *services.HomeworkService
	if gw, err := openGateway(cfg); err != nil {
		log.Warn().Err(err).Msg("LLM not configured: questions and homework answer 503")
	} else {
		llmCfg := llm.Config{Model: cfg.LLM.Model, Temperature: &cfg.LLM.Temperature, MaxTokens: cfg.LLM.MaxTokens}

		qa := services.NewQAService(db, gw, llmCfg, builder)
		qa.Lexicon = lex
		qa.Index = loadIndex(cfg.DataPath)
		qa.Threshold = cfg.Threshold
		qa.Keepalive = cfg.Stream.Keepalive
		qa.IdleTimeout = cfg.Stream.IdleTimeout
		qa.TotalBudget = cfg.Stream.TotalBudget
		qa.MaxContentRunes = cfg.MaxContentRunes
		qa.MaxImages = cfg.MaxImages
		deps.QA = qa

		homework = services.NewHomeworkService(db, correction.NewEngine(gw, llmCfg), reader, cfg.HomeworkWorkers)
		homework.Context = builder
		homework.MaxImages = cfg.MaxImages
		homework.Start(ctx)
		if n, err := homework.Resume(ctx); err != nil {
			log.Error().Err(err).Msg("resume pending submissions")
		} else if n > 0 {
			log.Info().Int("count", n).Msg("resumed pending submissions")
		}
		deps.Homework = homework
	}

	app := httpapi.App{DB: db, API: deps}
	if tokens != nil {
		app.Tokens = tokens
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, app, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go archiveIdleSessions(ctx, httpapi.NewSessionService(db), cfg.SessionArchiveAfter)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if homework != nil {
		if err := homework.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("homework jobs still running at exit")
		}
	}
	if shutdownOTel != nil {
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DBURL)
	if err != nil {
		return nil, err
	}
	if err := repo.EnableTracing(db); err != nil {
		log.Warn().Err(err).Msg("gorm tracing disabled")
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func openGateway(cfg config.Config) (llm.Gateway, error) {
	gw, err := llm.NewOpenAIGateway(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	rc := llm.DefaultRetryConfig()
	rc.AttemptTimeout = cfg.LLM.Timeout
	return llm.WithRetry(gw, rc), nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, func() error) {
	if cfg.Storage.Bucket == "" {
		base := cfg.Storage.PublicBaseURL
		if base == "" {
			base = "http://localhost:" + cfg.Port + "/static"
		}
		log.Info().Msg("STORAGE_BUCKET not set: uploads kept in memory")
		return storage.NewMemory(base), nil
	}
	g, err := storage.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, cfg.Storage.CredentialsFile)
	if err != nil {
		log.Error().Err(err).Msg("object storage unavailable: uploads answer 503")
		return nil, nil
	}
	return g, g.Close
}

func openOCR(ctx context.Context, cfg config.Config) (services.PageReader, func() error) {
	if !cfg.OCR.Enabled {
		return nil, nil
	}
	v, err := ocr.NewVisionEngine(ctx, cfg.OCR.CredentialsFile)
	if err != nil {
		log.Error().Err(err).Msg("OCR disabled")
		return nil, nil
	}
	return ocr.NewRecognizer(v, ocr.Options{
		BlurThreshold:  cfg.OCR.BlurThreshold,
		AttemptTimeout: cfg.OCR.Timeout,
		MaxBytes:       cfg.Storage.MaxImageBytes,
	}), v.Close
}

func loadIndex(path string) search.Index {
	if path == "" {
		return search.Empty()
	}
	idx, err := search.NewIndexFromMarkdown(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("reference material not loaded")
		return search.Empty()
	}
	return idx
}

// archiveIdleSessions periodically archives sessions untouched for idle.
func archiveIdleSessions(ctx context.Context, s *services.SessionService, idle time.Duration) {
	if idle <= 0 {
		return
	}
	every := idle / 4
	if every < time.Minute {
		every = time.Minute
	}
	if every > time.Hour {
		every = time.Hour
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.ArchiveIdle(ctx, idle)
			if err != nil {
				log.Error().Err(err).Msg("archive idle sessions")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("archived idle sessions")
			}
		}
	}
}
