// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger mounted on every
// route. It never logs bodies (questions and homework photos stay out of
// logs) and scrubs what it does log:
//
//   - query parameters named like credentials or contact details are masked
//     outright (password, token, phone, ...)
//   - remaining query values and header values have emails and phone
//     numbers replaced; resource UUIDs are left readable
//   - Authorization, Cookie, Set-Cookie and any configured header are masked
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/homework-tutor-backend/internal/observability"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders and MaskParams name extra headers and query parameters whose
// values are replaced with "[REDACTED]". Matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex ids never match. Covers 11-digit mobiles as well
	// as grouped international numbers.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactText scrubs emails and phone numbers from s. UUIDs are cut out
// before the phone pattern runs because their all-digit groups look like
// numbers.
func redactText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range uuidRE.FindAllStringIndex(s, -1) {
		b.WriteString(redactFragment(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(redactFragment(s[last:]))
	return b.String()
}

func redactFragment(s string) string {
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// redactQuery rewrites a raw query pair by pair, keeping the client's order.
// Values are unescaped first so the patterns see real text.
func redactQuery(raw string, masked map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	for i, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		if _, ok := masked[strings.ToLower(key)]; ok {
			pairs[i] = key + "=[REDACTED]"
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			val = v
		}
		pairs[i] = key + "=" + redactText(val)
	}
	return truncate(strings.Join(pairs, "&"), maxQueryLogLength)
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

// RedactingLogger logs one line per request and installs the request-scoped
// logger (request id, method, route) used by LoggerFrom and zerolog.Ctx.
// Level follows the outcome: error for 5xx or recorded gin errors, warn for
// 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskParams := lowerSet([]string{"password", "token", "access_token", "phone", "email"}, opts.MaskParams)

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		reqID := asString(c.Value(requestIDKey))
		if reqID == "" {
			reqID = c.Writer.Header().Get(requestIDHeader)
		}
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		lc := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", route)
		setLogger(c, observability.WithTraceIDs(c.Request.Context(), lc).Logger())

		query := redactQuery(c.Request.URL.RawQuery, maskParams)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redactText(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
