package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
	"github.com/tbourn/homework-tutor-backend/internal/services"
)

func turnResponse(qid string) *services.AskResponse {
	return &services.AskResponse{
		Question: &domain.Question{ID: qid, Content: "什么是勾股定理？"},
		Answer:   &domain.Answer{ID: "a-" + qid, Content: "直角三角形两直角边的平方和等于斜边的平方。"},
		Session:  &domain.ChatSession{ID: "s-1", Title: "勾股定理"},
	}
}

func questionRouter(qa QAService, idem Idempotency) *gin.Engine {
	r := newEngine()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	h := New(Deps{QA: qa, Idem: idem})
	r.POST("/questions", h.AskQuestion)
	r.POST("/questions/stream", h.AskQuestionStream)
	r.GET("/ws/questions", h.AskQuestionWS)
	return r
}

func TestAskQuestion_BindingError(t *testing.T) {
	qa := stubQA{ask: func(context.Context, string, services.AskRequest) (*services.AskResponse, error) {
		t.Fatalf("service should not be called on binding error")
		return nil, nil
	}}
	w := doReq(questionRouter(qa, nil), http.MethodPost, "/questions", bytes.NewBufferString(`{"content":""}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAskQuestion_OK_Defaults(t *testing.T) {
	var got services.AskRequest
	qa := stubQA{ask: func(_ context.Context, uid string, req services.AskRequest) (*services.AskResponse, error) {
		if uid != "u1" {
			t.Fatalf("user id = %q", uid)
		}
		got = req
		return turnResponse("q-1"), nil
	}}
	body := `{"content":"  什么是\r\n\r\n\r\n勾股定理？ ","session_id":" s-1 "}`
	w := doReq(questionRouter(qa, nil), http.MethodPost, "/questions", bytes.NewBufferString(body), map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if got.Content != "什么是\n\n勾股定理？" || got.SessionID != "s-1" {
		t.Fatalf("request not normalized: %+v", got)
	}
	if !got.UseContext || !got.IncludeHistory {
		t.Fatalf("context and history default to on: %+v", got)
	}

	var resp services.AskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Question.ID != "q-1" || resp.Answer.ID != "a-q-1" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	// Explicit opt-out is honored.
	doReq(questionRouter(qa, nil), http.MethodPost, "/questions",
		bytes.NewBufferString(`{"content":"x","use_context":false,"include_history":false}`), nil)
	if got.UseContext || got.IncludeHistory {
		t.Fatalf("opt-out ignored: %+v", got)
	}
}

func TestAskQuestion_Idempotency(t *testing.T) {
	calls := 0
	qa := stubQA{
		ask: func(context.Context, string, services.AskRequest) (*services.AskResponse, error) {
			calls++
			return turnResponse("q-new"), nil
		},
		turn: func(_ context.Context, uid, qid string) (*services.AskResponse, error) {
			if uid != "u1" || qid != "q-old" {
				t.Fatalf("Turn(%q, %q)", uid, qid)
			}
			return turnResponse(qid), nil
		},
	}
	idem := &stubIdem{lookup: map[string]string{"u1|POST /questions|k-1": "q-old"}}
	r := questionRouter(qa, idem)

	// Replay
	w := doReq(r, http.MethodPost, "/questions", bytes.NewBufferString(`{"content":"x"}`),
		map[string]string{"X-User-ID": "u1", middleware.HeaderIdempotencyKey: "k-1"})
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d %v", w.Code, w.Header())
	}
	if calls != 0 {
		t.Fatalf("replay must not run a new turn")
	}

	// New key → runs and remembers.
	w = doReq(r, http.MethodPost, "/questions", bytes.NewBufferString(`{"content":"x"}`),
		map[string]string{"X-User-ID": "u1", middleware.HeaderIdempotencyKey: "k-2"})
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("fresh: %d %v", w.Code, w.Header())
	}
	if calls != 1 || len(idem.remember) != 1 || idem.remember[0] != "u1|POST /questions|k-2|q-new|200" {
		t.Fatalf("remember = %v calls=%d", idem.remember, calls)
	}

	// No key → nothing remembered.
	doReq(r, http.MethodPost, "/questions", bytes.NewBufferString(`{"content":"x"}`), nil)
	if len(idem.remember) != 1 {
		t.Fatalf("remembered without key: %v", idem.remember)
	}
}

func TestAskQuestion_ServiceErrors(t *testing.T) {
	for err, want := range map[error]struct {
		status int
		code   string
	}{
		services.ErrSessionInactive:     {http.StatusConflict, ErrCodeSessionInactive},
		services.ErrSessionNotFound:     {http.StatusNotFound, ErrCodeNotFound},
		services.ErrTooManyImages:       {http.StatusBadRequest, ErrCodeValidation},
		services.ErrUpstreamUnavailable: {http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable},
	} {
		e := err
		qa := stubQA{ask: func(context.Context, string, services.AskRequest) (*services.AskResponse, error) { return nil, e }}
		w := doReq(questionRouter(qa, nil), http.MethodPost, "/questions", bytes.NewBufferString(`{"content":"x"}`), nil)
		var er ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &er)
		if w.Code != want.status || er.Code != want.code {
			t.Fatalf("%v: got %d/%s", e, w.Code, er.Code)
		}
	}
}

func streamingQA() stubQA {
	return stubQA{askStream: func(_ context.Context, _ string, req services.AskRequest, emit services.Emitter) (*services.AskResponse, error) {
		if req.SessionID == "missing" {
			return nil, services.ErrSessionNotFound
		}
		_ = emit(services.Event{Type: services.EventChunk, Content: "直角", FullContent: "直角"})
		_ = emit(services.Event{Type: services.EventKeepalive})
		_ = emit(services.Event{Type: services.EventContentFinished, FullContent: "直角三角形"})
		_ = emit(services.Event{Type: services.EventDone, QuestionID: "q-1", AnswerID: "a-1", SessionID: "s-1"})
		return turnResponse("q-1"), nil
	}}
}

func TestAskQuestionStream_SSE(t *testing.T) {
	r := questionRouter(streamingQA(), nil)

	w := doReq(r, http.MethodPost, "/questions/stream", bytes.NewBufferString(`{"content":"x"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	order := []string{"event:chunk", "event:keepalive", "event:content_finished", "event:done"}
	last := -1
	for _, marker := range order {
		i := strings.Index(body, marker)
		if i <= last {
			t.Fatalf("%s missing or out of order in:\n%s", marker, body)
		}
		last = i
	}
	if !strings.Contains(body, `"question_id":"q-1"`) {
		t.Fatalf("done event lacks ids:\n%s", body)
	}
}

func TestAskQuestionStream_ErrorBeforeStart(t *testing.T) {
	r := questionRouter(streamingQA(), nil)
	w := doReq(r, http.MethodPost, "/questions/stream", bytes.NewBufferString(`{"content":"x","session_id":"missing"}`), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("pre-stream errors are JSON, got %q", ct)
	}
}

func TestAskQuestionWS(t *testing.T) {
	srv := httptest.NewServer(questionRouter(streamingQA(), nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/questions"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readUntilDone := func() []services.EventType {
		var seen []services.EventType
		for {
			var ev services.Event
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatalf("read: %v (seen %v)", err, seen)
			}
			seen = append(seen, ev.Type)
			if ev.Type == services.EventDone || ev.Type == services.EventError {
				return seen
			}
		}
	}

	if err := conn.WriteJSON(AskQuestionRequest{Content: "什么是勾股定理？"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen := readUntilDone()
	if len(seen) != 4 || seen[0] != services.EventChunk || seen[3] != services.EventDone {
		t.Fatalf("events = %v", seen)
	}

	// A rejected turn answers with an error frame and keeps the socket open.
	if err := conn.WriteJSON(AskQuestionRequest{Content: "x", SessionID: "missing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame["type"] != "error" || frame["code"] != ErrCodeNotFound {
		t.Fatalf("error frame = %v", frame)
	}

	if err := conn.WriteJSON(AskQuestionRequest{Content: "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = nil
	if err := conn.ReadJSON(&frame); err != nil || frame["code"] != ErrCodeBadRequest {
		t.Fatalf("blank content frame = %v err=%v", frame, err)
	}

	// Still usable afterwards.
	if err := conn.WriteJSON(AskQuestionRequest{Content: "再来一题"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if seen = readUntilDone(); seen[len(seen)-1] != services.EventDone {
		t.Fatalf("events = %v", seen)
	}
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	h := New(Deps{AllowedOrigins: []string{"https://app.example"}})
	up := h.upgrader()
	req := httptest.NewRequest(http.MethodGet, "/ws/questions", nil)

	if !up.CheckOrigin(req) {
		t.Fatalf("requests without Origin are allowed")
	}
	req.Header.Set("Origin", "https://app.example")
	if !up.CheckOrigin(req) {
		t.Fatalf("allowlisted origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example")
	if up.CheckOrigin(req) {
		t.Fatalf("foreign origin accepted")
	}

	open := New(Deps{}).upgrader()
	if !open.CheckOrigin(req) {
		t.Fatalf("empty allowlist accepts any origin")
	}
}

func TestSanitizeContent(t *testing.T) {
	in := "\r\n  a\r\rb\n\n\n\nc  \n"
	if got := sanitizeContent(in); got != "a\n\nb\n\nc" {
		t.Fatalf("got %q", got)
	}
}
