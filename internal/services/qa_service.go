// Package services – QAService
//
// This file implements QAService, the question-answering orchestrator. One
// call handles one user turn: it resolves or opens the session, decides
// between tutoring and homework correction, builds the personalization
// context, streams the model reply with keepalives, persists the turn in a
// single transaction and finally derives mistake records.
//
// A streamed turn always ends with a done event. When the provider fails
// mid-stream the accumulated text is persisted as the answer with zero
// tokens, and an error event flagged recoverable and partial precedes done.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/correction"
	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/learning"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
	"github.com/tbourn/homework-tutor-backend/internal/llm"
	"github.com/tbourn/homework-tutor-backend/internal/mistake"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/prompt"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
	"github.com/tbourn/homework-tutor-backend/internal/search"
)

// Scenario labels stored in the question context.
const (
	ScenarioTutoring   = "tutoring"
	ScenarioCorrection = "correction"
)

// BusyMessage is the answer persisted when the provider produced nothing.
const BusyMessage = "抱歉，AI 服务暂时繁忙，请稍后重试。"

// ContextSource builds and invalidates personalization contexts.
// *learning.Builder satisfies it.
type ContextSource interface {
	Build(ctx context.Context, userID, subject string, kind learning.SessionType) *learning.Context
	Invalidate(ctx context.Context, userID string, subjects ...string)
}

// AskRequest is one user turn.
type AskRequest struct {
	Content        string
	QuestionType   string
	Subject        *string
	SessionID      string
	ImageURLs      []string
	UseContext     bool
	IncludeHistory bool
}

// AskResponse is the persisted turn.
type AskResponse struct {
	Question         *domain.Question         `json:"question"`
	Answer           *domain.Answer           `json:"answer"`
	Session          *domain.ChatSession      `json:"session"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
	TokensUsed       int                      `json:"tokens_used"`
	CorrectionResult *domain.CorrectionResult `json:"correction_result,omitempty"`
	MistakesCreated  int                      `json:"mistakes_created"`
	Partial          bool                     `json:"partial,omitempty"`

	failure error
}

// QAService orchestrates tutoring and correction turns.
type QAService struct {
	DB        *gorm.DB
	Gateway   llm.Gateway
	LLM       llm.Config
	Corrector *correction.Engine
	Context   ContextSource
	Lexicon   *lexicon.Lexicon
	Detector  *mistake.Detector
	Index     search.Index
	Threshold float64

	Keepalive   time.Duration
	IdleTimeout time.Duration
	TotalBudget time.Duration

	MaxContentRunes int
	MaxImages       int
	HistoryTurns    int
	References      int

	Now func() time.Time
}

// NewQAService wires the orchestrator with the contractual stream deadlines
// (5s keepalive, 90s idle, 120s total).
func NewQAService(db *gorm.DB, g llm.Gateway, cfg llm.Config, ctxSrc ContextSource) *QAService {
	lex := lexicon.Default()
	return &QAService{
		DB:              db,
		Gateway:         g,
		LLM:             cfg,
		Corrector:       correction.NewEngine(g, cfg),
		Context:         ctxSrc,
		Lexicon:         lex,
		Detector:        mistake.NewDetector(lex),
		Index:           search.Empty(),
		Threshold:       0.32,
		Keepalive:       5 * time.Second,
		IdleTimeout:     90 * time.Second,
		TotalBudget:     120 * time.Second,
		MaxContentRunes: 4000,
		MaxImages:       9,
		HistoryTurns:    6,
		References:      2,
		Now:             time.Now,
	}
}

func (s *QAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *QAService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "QAService."+name, trace.WithAttributes(attrs...))
}

// turn carries one request through the pipeline.
type turn struct {
	userID   string
	question string
	urls     []string
	qtype    domain.QuestionType
	subject  *string
	session  *domain.ChatSession
	correct  bool
	history  bool
	start    time.Time

	learning *learning.Context
	refs     int

	answer    string
	tokens    int
	model     string
	genTime   time.Duration
	completed bool
	failure   error
	result    *domain.CorrectionResult
}

func (t *turn) scenario() string {
	if t.correct {
		return ScenarioCorrection
	}
	return ScenarioTutoring
}

func (t *turn) subjectKey() string {
	if t.subject == nil {
		return ""
	}
	return *t.subject
}

// IsCorrection reports whether a turn should be graded instead of tutored:
// always for homework_help, otherwise only when images come with a
// correction keyword.
func (s *QAService) IsCorrection(qt domain.QuestionType, content string, imageURLs []string) bool {
	if qt == domain.QuestionHomeworkHelp {
		return true
	}
	if len(imageURLs) == 0 {
		return false
	}
	lex := s.Lexicon
	if lex == nil {
		lex = lexicon.Default()
	}
	return lex.HasCorrectionKeyword(content)
}

// Ask runs a turn and returns the persisted result. A provider failure is
// still persisted; the call then reports ErrUpstreamUnavailable unless a
// partial answer was kept.
func (s *QAService) Ask(ctx context.Context, userID string, req AskRequest) (*AskResponse, error) {
	resp, err := s.AskStream(ctx, userID, req, nil)
	if err != nil {
		return nil, err
	}
	if resp.failure != nil && !resp.Partial {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, resp.failure)
	}
	return resp, nil
}

// AskStream runs a turn and reports its progress to emit. Validation and
// session errors are returned before any event is sent; after that the
// stream always ends with done.
func (s *QAService) AskStream(ctx context.Context, userID string, req AskRequest, emit Emitter) (*AskResponse, error) {
	ctx, span := s.span(ctx, "AskStream", attribute.String("user.id", userID))
	defer span.End()
	log := zerolog.Ctx(ctx)

	t, err := s.prepare(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("session.id", t.session.ID),
		attribute.String("scenario", t.scenario()),
		attribute.Int("images", len(t.urls)),
	)

	em := &emitter{fn: emit}
	func() {
		runCtx, cancel := context.WithCancel(ctx)
		if s.TotalBudget > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.TotalBudget)
		}
		defer cancel()
		if t.correct {
			s.runCorrection(runCtx, t, em)
		} else {
			s.runTutoring(runCtx, t, em)
		}
	}()

	// The turn is stored even when the client went away.
	store := context.WithoutCancel(ctx)
	resp, err := s.persist(store, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		log.Error().Err(err).Str("session_id", t.session.ID).Msg("persist turn failed")
		_ = em.send(Event{Type: EventError, Code: CodeStoreFailed, Message: "保存对话失败，请重试",
			Recoverable: boolPtr(false), Partial: boolPtr(false)})
		_ = em.send(Event{Type: EventDone, SessionID: t.session.ID, SessionTitle: t.session.Title})
		return nil, err
	}

	resp.MistakesCreated = s.recordMistakes(store, t, resp.Question)
	if s.Context != nil {
		s.Context.Invalidate(store, userID, t.subjectKey())
	}

	if t.failure != nil {
		code := CodeStreamInterrupted
		if t.correct {
			code = CodeCorrectionFailed
		}
		_ = em.send(Event{Type: EventError, Code: code, Message: failureMessage(t.failure),
			Recoverable: boolPtr(true), Partial: boolPtr(resp.Partial)})
	}
	_ = em.send(Event{
		Type:         EventDone,
		QuestionID:   resp.Question.ID,
		AnswerID:     resp.Answer.ID,
		SessionID:    resp.Session.ID,
		SessionTitle: resp.Session.Title,
	})
	if em.gone() {
		log.Info().Err(em.err).Str("question_id", resp.Question.ID).Msg("client left before the turn finished")
	}
	return resp, nil
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, llm.ErrIdleTimeout), errors.Is(err, context.DeadlineExceeded):
		return "AI 响应超时，已保存已生成的内容"
	case errors.Is(err, correction.ErrUnparseable):
		return "批改结果解析失败，请稍后重试"
	default:
		return "AI 服务暂时不可用，已保存已生成的内容"
	}
}

// prepare validates the request and resolves the session.
func (s *QAService) prepare(ctx context.Context, userID string, req AskRequest) (*turn, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}

	urls := make([]string, 0, len(req.ImageURLs))
	for _, u := range req.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if s.MaxImages > 0 && len(urls) > s.MaxImages {
		return nil, ErrTooManyImages
	}
	if err := domain.ValidateImageURLs(urls); err != nil {
		return nil, ErrInvalidImageURL
	}

	qt := domain.QuestionGeneralInquiry
	if raw := strings.TrimSpace(req.QuestionType); raw != "" {
		parsed, ok := domain.ParseQuestionType(strings.ToLower(raw))
		if !ok {
			return nil, ErrInvalidQuestionType
		}
		qt = parsed
	}

	subject, err := normalizeSubject(req.Subject)
	if err != nil {
		return nil, err
	}

	var sess *domain.ChatSession
	if id := strings.TrimSpace(req.SessionID); id != "" {
		sess, err = repo.GetSession(ctx, s.DB, id, userID)
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, err
		}
		if sess.Status != domain.SessionActive {
			return nil, ErrSessionInactive
		}
	} else {
		sess, err = repo.CreateSession(ctx, s.DB, userID, domain.DefaultSessionTitle, subject)
		if err != nil {
			return nil, err
		}
	}
	if subject == nil && sess.Subject != nil {
		subj := *sess.Subject
		subject = &subj
	}

	t := &turn{
		userID:   userID,
		question: content,
		urls:     urls,
		qtype:    qt,
		subject:  subject,
		session:  sess,
		correct:  s.IsCorrection(qt, content, urls),
		history:  req.IncludeHistory,
		start:    s.now(),
		model:    s.modelName(),
	}
	if req.UseContext && s.Context != nil {
		kind := learning.SessionLearning
		if t.correct {
			kind = learning.SessionHomework
		}
		t.learning = s.Context.Build(ctx, userID, t.subjectKey(), kind)
	}
	return t, nil
}

func (s *QAService) modelName() string {
	if s.LLM.Model != "" {
		return s.LLM.Model
	}
	if s.Gateway != nil {
		return s.Gateway.Model()
	}
	return ""
}

// runTutoring streams a tutoring answer. On failure t.answer keeps whatever
// arrived before it.
func (s *QAService) runTutoring(ctx context.Context, t *turn, em *emitter) {
	log := zerolog.Ctx(ctx)
	msgs := s.tutorMessages(ctx, t)

	start := s.now()
	defer func() { t.genTime = s.now().Sub(start) }()

	stream, err := s.Gateway.ChatCompletionStream(ctx, msgs, s.LLM)
	if err != nil {
		log.Warn().Err(err).Msg("open tutoring stream failed")
		t.failure = err
		return
	}
	res, err := llm.Relay(ctx, stream, llm.RelayOptions{
		Keepalive:   s.Keepalive,
		IdleTimeout: s.IdleTimeout,
		OnChunk: func(c llm.Chunk) error {
			if c.Content == "" {
				return nil
			}
			return em.send(Event{Type: EventChunk, Content: c.Content, FullContent: c.FullContent})
		},
		OnKeepalive: func() error {
			return em.send(Event{Type: EventKeepalive})
		},
	})
	t.answer = res.Content
	if err != nil {
		log.Warn().Err(err).Int("partial_bytes", len(res.Content)).Msg("tutoring stream interrupted")
		t.failure = err
		return
	}
	t.completed = true
	t.tokens = res.TokensUsed

	if f := ExtractFormulas(t.answer); len(f) > 0 {
		_ = em.send(Event{Type: EventFormulaEnhanced, Formulas: f})
	}
	_ = em.send(Event{Type: EventContentFinished, FullContent: t.answer, TokensUsed: intPtr(t.tokens)})
}

func (s *QAService) tutorMessages(ctx context.Context, t *turn) []llm.Message {
	log := zerolog.Ctx(ctx)

	n := s.References
	if n <= 0 {
		n = 2
	}
	refs := search.Lookup(s.Index, t.question, n, s.Threshold)
	t.refs = len(refs)

	grade := domain.GradeOther
	if u, err := repo.GetUser(ctx, s.DB, t.userID); err == nil {
		grade = u.GradeLevel
	}

	msgs := []llm.Message{{
		Role: llm.RoleSystem,
		Content: prompt.TutorSystem(prompt.TutorInput{
			Context:    t.learning,
			Subject:    t.subjectKey(),
			Grade:      grade,
			References: refs,
		}),
	}}

	if t.history && s.HistoryTurns > 0 {
		past, err := repo.ListSessionQuestions(ctx, s.DB, t.session.ID, s.HistoryTurns)
		if err != nil {
			log.Warn().Err(err).Msg("load history failed, continuing without it")
		}
		for _, q := range past {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: q.Content})
			if q.Answer != nil {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: q.Answer.Content})
			}
		}
	}

	return append(msgs, llm.Message{Role: llm.RoleUser, Content: t.question, ImageURLs: t.urls})
}

// runCorrection grades the request images and renders the result as the
// answer. The result is emitted as a single chunk.
func (s *QAService) runCorrection(ctx context.Context, t *turn, em *emitter) {
	start := s.now()
	defer func() { t.genTime = s.now().Sub(start) }()

	eng := s.Corrector
	if eng == nil {
		eng = correction.NewEngine(s.Gateway, s.LLM)
	}

	note := t.question
	if names := t.learning.WeakNames(3); len(names) > 0 {
		note += "\n（该学生近期薄弱知识点：" + strings.Join(names, "、") + "）"
	}
	out, err := eng.Correct(ctx, correction.Request{
		Subject:   t.subjectKey(),
		Note:      note,
		ImageURLs: t.urls,
		OnKeepalive: func() error {
			return em.send(Event{Type: EventKeepalive})
		},
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("correction failed")
		t.failure = err
		return
	}
	t.completed = true
	t.result = out.Result
	t.tokens = out.TokensUsed
	if out.Model != "" {
		t.model = out.Model
	}
	t.answer = correction.Render(out.Result)

	_ = em.send(Event{Type: EventChunk, Content: t.answer, FullContent: t.answer})
	_ = em.send(Event{Type: EventContentFinished, FullContent: t.answer, TokensUsed: intPtr(t.tokens)})
}

// persist writes the question, its answer, the session counters and the
// automatic title in one transaction.
func (s *QAService) persist(ctx context.Context, t *turn) (*AskResponse, error) {
	ctx, span := s.span(ctx, "persist", attribute.String("session.id", t.session.ID))
	defer span.End()

	partial := !t.completed && strings.TrimSpace(t.answer) != ""
	answer := t.answer
	if strings.TrimSpace(answer) == "" {
		answer = BusyMessage
	}
	tokens := t.tokens
	if !t.completed {
		tokens = 0
	}

	qc := domain.QuestionContext{
		Scenario:        t.scenario(),
		UsedContext:     t.learning != nil,
		WeakPoints:      t.learning.WeakNames(5),
		ReferenceHits:   t.refs,
		StreamCompleted: t.completed,
	}
	if t.failure != nil {
		qc.Error = t.failure.Error()
	}
	elapsed := s.now().Sub(t.start)

	q := &domain.Question{
		SessionID:        t.session.ID,
		UserID:           t.userID,
		Content:          t.question,
		QuestionType:     t.qtype,
		Subject:          t.subject,
		ImageURLs:        domain.EncodeBlob(t.urls),
		ContextData:      domain.EncodeBlob(qc),
		IsProcessed:      true,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	a := &domain.Answer{
		Content:          answer,
		ModelName:        t.model,
		TokensUsed:       tokens,
		GenerationTimeMs: t.genTime.Milliseconds(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateQuestion(ctx, tx, q); err != nil {
			return err
		}
		a.QuestionID = q.ID
		if err := repo.CreateAnswer(ctx, tx, a); err != nil {
			return err
		}
		if err := repo.IncrementSessionCounters(ctx, tx, t.session.ID, 1, int64(tokens)); err != nil {
			return err
		}
		if t.session.Title == domain.DefaultSessionTitle {
			if _, err := repo.SetTitleIfFirstQuestion(ctx, tx, t.session.ID, autoTitle(t.question)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	sess, err := repo.GetSession(ctx, s.DB, t.session.ID, t.userID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reload session failed")
		sess = t.session
	}

	return &AskResponse{
		Question:         q,
		Answer:           a,
		Session:          sess,
		ProcessingTimeMs: q.ProcessingTimeMs,
		TokensUsed:       tokens,
		CorrectionResult: t.result,
		Partial:          partial,
		failure:          t.failure,
	}, nil
}

// recordMistakes derives mistake records from the turn. Failures are logged
// and never affect the answer.
func (s *QAService) recordMistakes(ctx context.Context, t *turn, q *domain.Question) int {
	log := zerolog.Ctx(ctx)

	var planned []*domain.MistakeRecord
	switch {
	case t.result != nil:
		planned = correction.Mistakes(correction.Source{
			UserID:  t.userID,
			Subject: t.subjectKey(),
			Kind:    domain.SourceQA,
			ID:      q.ID,
		}, t.result)
	case !t.correct && s.Detector != nil:
		dec := s.Detector.Detect(mistake.Input{Content: t.question, ImageURLs: t.urls, Answer: t.answer})
		log.Debug().Bool("is_mistake", dec.IsMistake).Float64("confidence", dec.Confidence).Msg("mistake detection")
		if dec.IsMistake {
			planned = append(planned, s.Detector.Record(q, t.answer, dec))
		}
	}

	created := 0
	for _, m := range planned {
		ok, err := repo.CreateMistakeIfAbsent(ctx, s.DB, m)
		if err != nil {
			log.Warn().Err(err).Str("question_id", q.ID).Int("question_number", m.QuestionNumber).Msg("create mistake failed")
			continue
		}
		if ok {
			created++
			observability.MistakesCreated.WithLabelValues(string(domain.SourceQA)).Inc()
		}
	}
	return created
}

// Turn reloads a persisted turn for idempotent replays. The correction
// result is not stored on the question and is therefore absent.
func (s *QAService) Turn(ctx context.Context, userID, questionID string) (*AskResponse, error) {
	ctx, span := s.span(ctx, "Turn", attribute.String("user.id", userID))
	defer span.End()

	q, err := repo.GetQuestion(ctx, s.DB, questionID, userID)
	if isNotFound(err) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess, err := repo.GetSession(ctx, s.DB, q.SessionID, userID)
	if isNotFound(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	a := q.Answer
	q.Answer = nil
	resp := &AskResponse{Question: q, Answer: a, Session: sess, ProcessingTimeMs: q.ProcessingTimeMs}
	if a != nil {
		resp.TokensUsed = a.TokensUsed
	}
	if qc, ok := q.Context(); ok && !qc.StreamCompleted && a != nil && a.Content != BusyMessage {
		resp.Partial = true
	}
	return resp, nil
}
