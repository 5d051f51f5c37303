// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database location, the LLM and OCR
// providers, streaming deadlines, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/homework-tutor-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "homework-tutor-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // DEPLOYMENT_ENV, reported as deployment.environment
}

// LLMConfig configures the OpenAI-compatible chat provider.
type LLMConfig struct {
	APIKey      string        // LLM_API_KEY
	BaseURL     string        // LLM_BASE_URL (empty = provider default)
	Model       string        // LLM_MODEL
	Temperature float64       // LLM_TEMPERATURE
	MaxTokens   int           // LLM_MAX_TOKENS
	Timeout     time.Duration // LLM_TIMEOUT, per unary attempt
}

// StreamConfig holds the contractual streaming deadlines.
type StreamConfig struct {
	Keepalive   time.Duration // STREAM_KEEPALIVE
	IdleTimeout time.Duration // STREAM_IDLE_TIMEOUT, max gap between chunks
	TotalBudget time.Duration // STREAM_TOTAL_TIMEOUT, whole turn
}

// OCRConfig configures the Cloud Vision OCR adapter.
type OCRConfig struct {
	Enabled         bool          // OCR_ENABLED
	CredentialsFile string        // OCR_CREDENTIALS_FILE or GOOGLE_APPLICATION_CREDENTIALS
	Timeout         time.Duration // OCR_TIMEOUT, per attempt
	BlurThreshold   float64       // OCR_BLUR_THRESHOLD, Laplacian variance floor
}

// CacheConfig configures the optional Redis cache.
type CacheConfig struct {
	URL        string        // CACHE_URL (empty = no cache)
	ContextTTL time.Duration // CONTEXT_CACHE_TTL
}

// StorageConfig configures the image object store.
type StorageConfig struct {
	Bucket          string // STORAGE_BUCKET (empty = uploads disabled)
	PublicBaseURL   string // STORAGE_PUBLIC_BASE_URL
	CredentialsFile string // STORAGE_CREDENTIALS_FILE
	MaxImageBytes   int64  // MAX_IMAGE_BYTES
}

// AuthConfig configures token issuance and password policy.
type AuthConfig struct {
	SecretKey        string        // SECRET_KEY (empty = development mode, X-User-ID trusted)
	TokenTTL         time.Duration // TOKEN_TTL
	RehashOnLogin    bool          // PASSWORD_REHASH_ON_LOGIN
	PBKDF2Iterations int           // PASSWORD_PBKDF2_ITERATIONS
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 150s; must outlive a streaming turn
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBURL     string  // postgres:// URL or SQLite path
	DataPath  string  // curriculum reference Markdown (optional file)
	Threshold float64 // reference grounding threshold [0,1]

	// Tutoring pipeline
	LLM                 LLMConfig
	Stream              StreamConfig
	OCR                 OCRConfig
	Cache               CacheConfig
	Storage             StorageConfig
	Auth                AuthConfig
	SnapshotMaxAge      time.Duration // SNAPSHOT_MAX_AGE
	HomeworkWorkers     int           // HOMEWORK_WORKERS
	SessionArchiveAfter time.Duration // SESSION_ARCHIVE_AFTER (0 = never)
	MaxContentRunes     int           // MAX_QUESTION_CHARS
	MaxImages           int           // MAX_IMAGES_PER_REQUEST

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// DevMode reports whether requests are trusted to carry their own user id.
func (c Config) DevMode() bool { return strings.TrimSpace(c.Auth.SecretKey) == "" }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 150*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBURL:     firstEnv("app.db", "DB_URL", "DATABASE_URL", "DB_PATH"),
		DataPath:  getenv("DATA_PATH", "data/curriculum.md"),
		Threshold: getfloat("THRESHOLD", 0.32),

		LLM: LLMConfig{
			APIKey:      firstEnv("", "LLM_API_KEY", "OPENAI_API_KEY"),
			BaseURL:     getenv("LLM_BASE_URL", ""),
			Model:       getenv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getfloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getint("LLM_MAX_TOKENS", 2000),
			Timeout:     getdur("LLM_TIMEOUT", 30*time.Second),
		},
		Stream: StreamConfig{
			Keepalive:   getdur("STREAM_KEEPALIVE", 5*time.Second),
			IdleTimeout: getdur("STREAM_IDLE_TIMEOUT", 90*time.Second),
			TotalBudget: getdur("STREAM_TOTAL_TIMEOUT", 120*time.Second),
		},
		OCR: OCRConfig{
			Enabled:         getbool("OCR_ENABLED", false),
			CredentialsFile: firstEnv("", "OCR_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"),
			Timeout:         getdur("OCR_TIMEOUT", 30*time.Second),
			BlurThreshold:   getfloat("OCR_BLUR_THRESHOLD", 100),
		},
		Cache: CacheConfig{
			URL:        getenv("CACHE_URL", ""),
			ContextTTL: getdur("CONTEXT_CACHE_TTL", 5*time.Minute),
		},
		Storage: StorageConfig{
			Bucket:          getenv("STORAGE_BUCKET", ""),
			PublicBaseURL:   strings.TrimRight(getenv("STORAGE_PUBLIC_BASE_URL", ""), "/"),
			CredentialsFile: firstEnv("", "STORAGE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"),
			MaxImageBytes:   int64(getint("MAX_IMAGE_BYTES", 10<<20)),
		},
		Auth: AuthConfig{
			SecretKey:        getenv("SECRET_KEY", ""),
			TokenTTL:         getdur("TOKEN_TTL", 7*24*time.Hour),
			RehashOnLogin:    getbool("PASSWORD_REHASH_ON_LOGIN", false),
			PBKDF2Iterations: getint("PASSWORD_PBKDF2_ITERATIONS", 100000),
		},
		SnapshotMaxAge:      getdur("SNAPSHOT_MAX_AGE", 7*24*time.Hour),
		HomeworkWorkers:     getint("HOMEWORK_WORKERS", 4),
		SessionArchiveAfter: getdur("SESSION_ARCHIVE_AFTER", 30*24*time.Hour),
		MaxContentRunes:     getint("MAX_QUESTION_CHARS", 4000),
		MaxImages:           getint("MAX_IMAGES_PER_REQUEST", 9),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "homework-tutor-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: firstEnv("development", "DEPLOYMENT_ENV", "APP_ENV"),
		},
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.Storage.Bucket != "" && c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = "https://storage.googleapis.com/" + c.Storage.Bucket
	}
}

var logLevels = []string{"debug", "info", "warn", "error", "fatal", "panic"}

// validate reports every violated rule at once so a misconfigured deploy
// can be fixed in one pass.
func (c Config) validate() error {
	rules := []struct {
		bad bool
		msg string
	}{
		{!slices.Contains(logLevels, c.LogLevel), "LOG_LEVEL must be one of: " + strings.Join(logLevels, ", ")},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{c.Threshold < 0 || c.Threshold > 1, "THRESHOLD must be between 0 and 1"},

		{c.LLM.Temperature < 0 || c.LLM.Temperature > 2, "LLM_TEMPERATURE must be in [0,2]"},
		{c.LLM.MaxTokens <= 0 || c.LLM.Timeout <= 0, "LLM_MAX_TOKENS and LLM_TIMEOUT must be > 0"},
		{c.Stream.Keepalive <= 0 || c.Stream.IdleTimeout <= 0 || c.Stream.TotalBudget <= 0, "stream timeouts must be positive durations"},
		{c.Stream.Keepalive >= c.Stream.IdleTimeout, "STREAM_KEEPALIVE must be shorter than STREAM_IDLE_TIMEOUT"},
		{c.OCR.Timeout <= 0 || c.OCR.BlurThreshold < 0, "OCR_TIMEOUT must be > 0 and OCR_BLUR_THRESHOLD >= 0"},
		{c.Cache.ContextTTL < 0, "CONTEXT_CACHE_TTL must be >= 0"},
		{c.Storage.MaxImageBytes <= 0, "MAX_IMAGE_BYTES must be > 0"},
		{c.Auth.TokenTTL <= 0 || c.Auth.PBKDF2Iterations < 1000, "TOKEN_TTL must be > 0 and PASSWORD_PBKDF2_ITERATIONS >= 1000"},

		{c.SnapshotMaxAge <= 0, "SNAPSHOT_MAX_AGE must be > 0"},
		{c.HomeworkWorkers < 1, "HOMEWORK_WORKERS must be >= 1"},
		{c.SessionArchiveAfter < 0, "SESSION_ARCHIVE_AFTER must be >= 0"},
		{c.MaxContentRunes < 1 || c.MaxImages < 1, "MAX_QUESTION_CHARS and MAX_IMAGES_PER_REQUEST must be >= 1"},

		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	var errs []error
	for _, r := range rules {
		if r.bad {
			errs = append(errs, errors.New(r.msg))
		}
	}
	return errors.Join(errs...)
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
	}
	return def
}

// getdur accepts Go durations plus a whole-day suffix ("7d").
func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := sysutil.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// firstEnv returns the first set variable among keys, or def.
func firstEnv(def string, keys ...string) string {
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = os.Getenv(k)
	}
	if v := sysutil.FirstNonEmpty(vals...); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
