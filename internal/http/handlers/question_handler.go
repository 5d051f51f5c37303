// Question HTTP handlers.
//
// This file exposes the tutoring turn over three transports:
//   - POST /questions          (JSON; waits for the persisted turn)
//   - POST /questions/stream   (Server-Sent Events)
//   - GET  /ws/questions       (WebSocket; one JSON request per frame)
//
// Idempotency:
// If the client supplies an Idempotency-Key header on POST /questions and a
// previous successful turn exists for (user, route, key), the handler replays
// that turn and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
	"github.com/tbourn/homework-tutor-backend/internal/services"
)

//
// DTOs
//

// AskQuestionRequest is one tutoring turn.
type AskQuestionRequest struct {
	// Content is the student's question.
	Content      string   `json:"content" binding:"required,min=1" example:"什么是勾股定理？"`
	QuestionType string   `json:"question_type,omitempty" example:"concept_explanation"`
	Subject      *string  `json:"subject,omitempty" example:"math"`
	SessionID    string   `json:"session_id,omitempty" format:"uuid"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	// UseContext defaults to true.
	UseContext *bool `json:"use_context,omitempty"`
	// IncludeHistory defaults to true.
	IncludeHistory *bool `json:"include_history,omitempty"`
}

func (r AskQuestionRequest) toService() services.AskRequest {
	return services.AskRequest{
		Content:        sanitizeContent(r.Content),
		QuestionType:   r.QuestionType,
		Subject:        r.Subject,
		SessionID:      strings.TrimSpace(r.SessionID),
		ImageURLs:      r.ImageURLs,
		UseContext:     r.UseContext == nil || *r.UseContext,
		IncludeHistory: r.IncludeHistory == nil || *r.IncludeHistory,
	}
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, runs of 3+ LFs collapse to two and surrounding
// whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// AskQuestion godoc
// @ID          askQuestion
// @Summary     Ask a question and wait for the answer
// @Description Runs a tutoring or correction turn and returns the persisted question and answer.
// @Description Supports idempotency via the Idempotency-Key header (same key → same turn).
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.AskQuestionRequest  true  "Question payload"
// @Success     200  {object}  services.AskResponse
// @Header      200  {string}  Idempotency-Replayed "true when the turn was replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse "Session not found"
// @Failure     409  {object}  handlers.ErrorResponse "Session not active"
// @Failure     503  {object}  handlers.ErrorResponse "AI service busy"
// @Security    BearerAuth
// @Router      /questions [post]
func (h *Handlers) AskQuestion(c *gin.Context) {
	if h.QA == nil {
		unavailable(c, "questions")
		return
	}
	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if idemKey != "" {
		qid, found := middleware.ReplayedResource(c)
		if !found && h.Idem != nil {
			qid, found = h.Idem.Lookup(ctx, uid, scope, idemKey)
		}
		if found {
			if prev, err := h.QA.Turn(ctx, uid, qid); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	resp, err := h.QA.Ask(ctx, uid, req.toService())
	if err != nil {
		serviceError(c, err)
		return
	}

	if idemKey != "" && h.Idem != nil {
		h.Idem.Remember(ctx, uid, scope, idemKey, resp.Question.ID, http.StatusOK)
	}
	ok(c, http.StatusOK, resp)
}

// AskQuestionStream godoc
// @ID          askQuestionStream
// @Summary     Ask a question and stream the answer (SSE)
// @Description Event order: chunk* keepalive* formula_enhanced? content_finished? error? done.
// @Description Validation errors are returned as JSON before the stream starts.
// @Tags        Questions
// @Accept      json
// @Produce     text/event-stream
// @Param       body  body  handlers.AskQuestionRequest  true  "Question payload"
// @Success     200  {object}  services.Event
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /questions/stream [post]
func (h *Handlers) AskQuestionStream(c *gin.Context) {
	if h.QA == nil {
		unavailable(c, "questions")
		return
	}
	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	ctx := c.Request.Context()

	started := false
	emit := func(ev services.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			started = true
			hdr := c.Writer.Header()
			hdr.Set("Content-Type", "text/event-stream")
			hdr.Set("Cache-Control", "no-cache")
			hdr.Set("Connection", "keep-alive")
			hdr.Set("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
		}
		c.SSEvent(string(ev.Type), ev)
		c.Writer.Flush()
		return ctx.Err()
	}

	if _, err := h.QA.AskStream(ctx, userID(c), req.toService(), emit); err != nil && !started {
		serviceError(c, err)
	}
}

// wsWriteWait bounds a single frame write.
const wsWriteWait = 10 * time.Second

// wsPingEvery keeps idle proxies from closing the socket between turns.
const wsPingEvery = 30 * time.Second

// wsIdle closes a socket that answered no ping for this long.
const wsIdle = 2 * wsPingEvery

func (h *Handlers) upgrader() *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(h.AllowedOrigins))
	for _, o := range h.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// AskQuestionWS godoc
// @ID          askQuestionWS
// @Summary     Ask questions over a WebSocket
// @Description Each text frame carries one AskQuestionRequest; the server answers with the
// @Description same events as the SSE stream, one JSON frame each. Turns run one at a time.
// @Tags        Questions
// @Success     101  {string}  string "Switching Protocols"
// @Security    BearerAuth
// @Router      /ws/questions [get]
func (h *Handlers) AskQuestionWS(c *gin.Context) {
	if h.QA == nil {
		unavailable(c, "questions")
		return
	}
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	uid := userID(c)
	log := middleware.LoggerFrom(c)
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdle))
	})

	go func() {
		t := time.NewTicker(wsPingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var req AskQuestionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))

		if strings.TrimSpace(req.Content) == "" {
			if write(wsError(http.StatusBadRequest, ErrCodeBadRequest, "content required")) != nil {
				return
			}
			continue
		}

		_, err := h.QA.AskStream(ctx, uid, req.toService(), func(ev services.Event) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return write(ev)
		})
		if err != nil {
			status, code, msg := classify(err)
			if write(wsError(status, code, msg)) != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// wsError is the frame sent for a turn rejected before it started.
func wsError(status int, code, msg string) gin.H {
	return gin.H{"type": services.EventError, "status": status, "code": code, "message": msg}
}
