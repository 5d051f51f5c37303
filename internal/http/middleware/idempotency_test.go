package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHelpers_GetIdempotencyKey_IsReplay_UserIDFromCtx(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}

	// A resource id without the replay flag is ignored.
	c.Set(ctxKeyIdemResource, "q-1")
	if _, ok := ReplayedResource(c); ok {
		t.Fatalf("resource without replay flag")
	}
	c.Set(ctxKeyIdemReplay, true)
	if id, ok := ReplayedResource(c); !ok || id != "q-1" {
		t.Fatalf("ReplayedResource = %q %v", id, ok)
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}

	if got := userIDFromCtx(c); got != "demo-user" {
		t.Fatalf("userIDFromCtx fallback mismatch: %q", got)
	}
	c.Set("userID", "u1")
	if got := userIDFromCtx(c); got != "u1" {
		t.Fatalf("userIDFromCtx = %q", got)
	}
}

type lookupCall struct {
	userID, scope, key string
}

func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) (*gin.Engine, *map[string]any) {
	gin.SetMode(gin.TestMode)
	seen := map[string]any{}
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "stu-1"); c.Next() })
	r.Use(IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		id, _ := ReplayedResource(c)
		seen["key"], seen["replay"], seen["resource"], seen["bypass"] = key, IsReplay(c), id, IsRateBypass(c)
		c.Status(http.StatusOK)
	}
	r.POST("/questions", h)
	r.GET("/sessions", h)
	return r, &seen
}

func send(r http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_NoHeader_NoLookup(t *testing.T) {
	called := false
	r, seen := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (string, bool, error) {
		called = true
		return "", false, nil
	})
	if w := send(r, http.MethodPost, "/questions", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if called || (*seen)["key"] != "" || (*seen)["replay"] != false {
		t.Fatalf("called=%v seen=%v", called, *seen)
	}
}

func TestIdempotencyValidator_IgnoredOnSafeMethods(t *testing.T) {
	called := false
	r, seen := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (string, bool, error) {
		called = true
		return "x", true, nil
	})
	// Even a malformed key is not an error on GET.
	if w := send(r, http.MethodGet, "/sessions", "bad key!"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if called || (*seen)["key"] != "" {
		t.Fatalf("GET must not consult idempotency: called=%v seen=%v", called, *seen)
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	r, _ := idemRouter(IdempotencyOptions{MaxLen: 8, Pattern: regexp.MustCompile(`^[a-z0-9-]+$`)}, nil)
	for _, key := range []string{"has space", "UPPER", "123456789"} {
		w := send(r, http.MethodPost, "/questions", key)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", key, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["code"] != "bad_request" {
			t.Fatalf("%q: body %s", key, w.Body.String())
		}
	}
	if w := send(r, http.MethodPost, "/questions", "ok-123"); w.Code != http.StatusOK {
		t.Fatalf("valid key rejected: %d", w.Code)
	}

	def, _ := idemRouter(IdempotencyOptions{}, nil)
	if w := send(def, http.MethodPost, "/questions", strings.Repeat("a", 201)); w.Code != http.StatusBadRequest {
		t.Fatalf("default MaxLen not enforced: %d", w.Code)
	}
	if w := send(def, http.MethodPost, "/questions", "retry:2024-05-01T10:00~a.b_c"); w.Code != http.StatusOK {
		t.Fatalf("default pattern too strict: %d", w.Code)
	}
}

func TestIdempotencyValidator_ReplayMarksContext(t *testing.T) {
	var calls []lookupCall
	r, seen := idemRouter(IdempotencyOptions{}, func(_ context.Context, uid, scope, key string, now time.Time) (string, bool, error) {
		calls = append(calls, lookupCall{uid, scope, key})
		if now.Location() != time.UTC {
			t.Errorf("lookup time not UTC: %v", now)
		}
		if key == "k-seen" {
			return "q-7", true, nil
		}
		return "", false, nil
	})

	send(r, http.MethodPost, "/questions", "k-seen")
	if (*seen)["replay"] != true || (*seen)["resource"] != "q-7" || (*seen)["bypass"] != true {
		t.Fatalf("replay flags: %v", *seen)
	}
	send(r, http.MethodPost, "/questions", "k-new")
	if (*seen)["replay"] != false || (*seen)["bypass"] != false || (*seen)["key"] != "k-new" {
		t.Fatalf("fresh flags: %v", *seen)
	}
	want := lookupCall{"stu-1", "POST /questions", "k-seen"}
	if len(calls) != 2 || calls[0] != want {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestIdempotencyValidator_LookupErrorProceeds(t *testing.T) {
	buf := captureLogger(t)
	r, seen := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (string, bool, error) {
		return "", false, errors.New("db down")
	})
	if w := send(r, http.MethodPost, "/questions", "k-1"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if (*seen)["replay"] != false || (*seen)["key"] != "k-1" {
		t.Fatalf("seen = %v", *seen)
	}
	if !strings.Contains(buf.String(), "idempotency lookup failed") {
		t.Fatalf("lookup error not logged: %s", buf.String())
	}
}

func TestIdempotencyScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	r.POST("/homework/:id/submissions", func(c *gin.Context) { got = IdempotencyScope(c) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/homework/hw-9/submissions", nil))
	if got != "POST /homework/:id/submissions" {
		t.Fatalf("scope = %q", got)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodDelete, "/unrouted", nil)
	if s := IdempotencyScope(c); s != "DELETE /unrouted" {
		t.Fatalf("fallback scope = %q", s)
	}
}
