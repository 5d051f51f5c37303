package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_URL", "postgres://tutor@db/tutor")
	t.Setenv("DATA_PATH", "curriculum.md")
	t.Setenv("THRESHOLD", "0.5")

	// Tutoring pipeline
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_BASE_URL", "https://llm.internal/v1")
	t.Setenv("LLM_MODEL", "qwen-plus")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_TOKENS", "512")
	t.Setenv("STREAM_KEEPALIVE", "2s")
	t.Setenv("STREAM_IDLE_TIMEOUT", "30s")
	t.Setenv("STREAM_TOTAL_TIMEOUT", "1m")
	t.Setenv("OCR_ENABLED", "true")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp.json")
	t.Setenv("OCR_BLUR_THRESHOLD", "55")
	t.Setenv("CACHE_URL", "redis://cache:6379/0")
	t.Setenv("CONTEXT_CACHE_TTL", "10m")
	t.Setenv("STORAGE_BUCKET", "tutor-images")
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("TOKEN_TTL", "12h")
	t.Setenv("PASSWORD_REHASH_ON_LOGIN", "1")
	t.Setenv("SNAPSHOT_MAX_AGE", "3d")
	t.Setenv("HOMEWORK_WORKERS", "2")
	t.Setenv("SESSION_ARCHIVE_AFTER", "0s")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")
	t.Setenv("APP_ENV", "staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// App
	if cfg.DBURL != "postgres://tutor@db/tutor" || cfg.DataPath != "curriculum.md" || cfg.Threshold != 0.5 {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	// Tutoring pipeline
	if cfg.LLM.APIKey != "sk-test" || cfg.LLM.BaseURL != "https://llm.internal/v1" || cfg.LLM.Model != "qwen-plus" ||
		cfg.LLM.Temperature != 0.2 || cfg.LLM.MaxTokens != 512 || cfg.LLM.Timeout != 30*time.Second {
		t.Fatalf("llm unexpected: %+v", cfg.LLM)
	}
	if cfg.Stream.Keepalive != 2*time.Second || cfg.Stream.IdleTimeout != 30*time.Second || cfg.Stream.TotalBudget != time.Minute {
		t.Fatalf("stream unexpected: %+v", cfg.Stream)
	}
	if !cfg.OCR.Enabled || cfg.OCR.CredentialsFile != "/etc/gcp.json" || cfg.OCR.BlurThreshold != 55 {
		t.Fatalf("ocr unexpected: %+v", cfg.OCR)
	}
	if cfg.Cache.URL != "redis://cache:6379/0" || cfg.Cache.ContextTTL != 10*time.Minute {
		t.Fatalf("cache unexpected: %+v", cfg.Cache)
	}
	if cfg.Storage.PublicBaseURL != "https://storage.googleapis.com/tutor-images" || cfg.Storage.MaxImageBytes != 10<<20 {
		t.Fatalf("storage unexpected: %+v", cfg.Storage)
	}
	if cfg.DevMode() || cfg.Auth.TokenTTL != 12*time.Hour || !cfg.Auth.RehashOnLogin {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}
	if cfg.SnapshotMaxAge != 72*time.Hour || cfg.HomeworkWorkers != 2 || cfg.SessionArchiveAfter != 0 {
		t.Fatalf("pipeline knobs unexpected: %+v", cfg)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 ||
		cfg.OTEL.Environment != "staging" {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_StreamDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Stream.Keepalive != 5*time.Second || cfg.Stream.IdleTimeout != 90*time.Second || cfg.Stream.TotalBudget != 120*time.Second {
		t.Fatalf("stream defaults unexpected: %+v", cfg.Stream)
	}
	if cfg.OCR.Timeout != 30*time.Second || cfg.SnapshotMaxAge != 7*24*time.Hour {
		t.Fatalf("ocr/snapshot defaults unexpected: %+v", cfg)
	}
	if !cfg.DevMode() {
		t.Fatalf("empty SECRET_KEY should mean development mode")
	}
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("DB_PATH", "legacy.sqlite")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBURL != "legacy.sqlite" {
		t.Fatalf("DB_PATH fallback not applied: %q", cfg.DBURL)
	}

	// A blank DB_URL does not shadow the platform-provided DATABASE_URL.
	t.Setenv("DB_URL", "   ")
	t.Setenv("DATABASE_URL", "postgres://tutor@db/tutor")
	t.Setenv("OPENAI_API_KEY", " sk-fallback ")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp.json")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBURL != "postgres://tutor@db/tutor" || cfg.LLM.APIKey != "sk-fallback" {
		t.Fatalf("fallbacks: db=%q key=%q", cfg.DBURL, cfg.LLM.APIKey)
	}
	if cfg.Storage.CredentialsFile != "/etc/gcp.json" || cfg.OCR.CredentialsFile != "/etc/gcp.json" {
		t.Fatalf("shared credentials: storage=%q ocr=%q", cfg.Storage.CredentialsFile, cfg.OCR.CredentialsFile)
	}

	t.Setenv("LLM_API_KEY", "sk-primary")
	if cfg, _ = Load(); cfg.LLM.APIKey != "sk-primary" {
		t.Fatalf("LLM_API_KEY must win: %q", cfg.LLM.APIKey)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"threshold out of range", "THRESHOLD", "1.5", "THRESHOLD"},
		{"temperature out of range", "LLM_TEMPERATURE", "3", "LLM_TEMPERATURE"},
		{"max tokens zero", "LLM_MAX_TOKENS", "0", "LLM_MAX_TOKENS"},
		{"keepalive not shorter than idle", "STREAM_KEEPALIVE", "95s", "STREAM_KEEPALIVE"},
		{"ocr timeout zero", "OCR_TIMEOUT", "0s", "OCR_TIMEOUT"},
		{"image bytes zero", "MAX_IMAGE_BYTES", "0", "MAX_IMAGE_BYTES"},
		{"weak pbkdf2", "PASSWORD_PBKDF2_ITERATIONS", "10", "PASSWORD_PBKDF2_ITERATIONS"},
		{"snapshot age zero", "SNAPSHOT_MAX_AGE", "0s", "SNAPSHOT_MAX_AGE"},
		{"no workers", "HOMEWORK_WORKERS", "0", "HOMEWORK_WORKERS"},
		{"negative archive age", "SESSION_ARCHIVE_AFTER", "-1h", "SESSION_ARCHIVE_AFTER"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", "IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_ReportsEveryViolation(t *testing.T) {
	t.Setenv("RATE_BURST", "0")
	t.Setenv("HOMEWORK_WORKERS", "0")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	for _, want := range []string{"RATE_BURST", "HOMEWORK_WORKERS", "LOG_LEVEL"} {
		if !containsErr(err, want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestLoad_NormalizesModeAndBucketURL(t *testing.T) {
	t.Setenv("GIN_MODE", "Chaos")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("STORAGE_BUCKET", "tutor-img")
	t.Setenv("STORAGE_PUBLIC_BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GinMode != "release" || cfg.LogLevel != "warn" {
		t.Fatalf("mode=%q level=%q", cfg.GinMode, cfg.LogLevel)
	}
	if cfg.Storage.PublicBaseURL != "https://storage.googleapis.com/tutor-img" {
		t.Fatalf("public url = %q", cfg.Storage.PublicBaseURL)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_DAYS", "7d")
	if getdur("D_DAYS", time.Second) != 7*24*time.Hour {
		t.Fatalf("getdur day suffix failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_URL", "DATABASE_URL", "DB_PATH", "SECRET_KEY", "LLM_API_KEY", "OPENAI_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS", "DEPLOYMENT_ENV", "APP_ENV"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("unexpected base path from MustLoad: %q", cfg.APIBasePath)
	}
}
