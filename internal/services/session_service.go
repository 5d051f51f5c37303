// Package services – SessionService
//
// This file implements SessionService, which manages the lifecycle of chat
// sessions: creation, paginated listing with filters, the history view,
// manual renames and status transitions. Automatic titling happens in the
// QA orchestrator after the first persisted turn.
package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/prompt"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// SessionRepo defines the repository contract required by SessionService.
type SessionRepo interface {
	CreateSession(ctx context.Context, db *gorm.DB, userID, title string, subject *string) (*domain.ChatSession, error)
	GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ChatSession, error)
	CountSessions(ctx context.Context, db *gorm.DB, userID string, f repo.SessionFilter, search string) (int64, error)
	ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, f repo.SessionFilter, p repo.Page) ([]domain.ChatSession, error)
	UpdateSessionTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	UpdateSessionStatus(ctx context.Context, db *gorm.DB, id, userID string, next domain.SessionStatus, from ...domain.SessionStatus) error
	ListSessionQuestions(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.Question, error)
	ArchiveIdleSessions(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}

// SessionQuery is the list request of SessionService.ListPage.
type SessionQuery struct {
	Status   string
	Subject  string
	Search   string
	Order    string
	Page     int
	PageSize int
}

// SessionView is a session with its most recent turns, oldest first.
type SessionView struct {
	Session *domain.ChatSession `json:"session"`
	History []domain.Question   `json:"history,omitempty"`
}

// SessionService provides session-level operations and enforces ownership.
type SessionService struct {
	DB   *gorm.DB
	Repo SessionRepo

	// TitleMaxLen caps manual titles in grapheme clusters.
	TitleMaxLen int
	// MaxHistory caps the history view.
	MaxHistory int
}

// NewSessionService constructs a SessionService with default limits.
func NewSessionService(db *gorm.DB, r SessionRepo) *SessionService {
	return &SessionService{DB: db, Repo: r, TitleMaxLen: 60, MaxHistory: 50}
}

func (s *SessionService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "SessionService."+name, trace.WithAttributes(attrs...))
}

// Create inserts an active session. A blank title becomes the default
// placeholder so the first turn can name it.
func (s *SessionService) Create(ctx context.Context, userID, title string, subject *string) (*domain.ChatSession, error) {
	ctx, span := s.span(ctx, "Create", attribute.String("user.id", userID))
	defer span.End()

	subject, err := normalizeSubject(subject)
	if err != nil {
		return nil, err
	}
	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	return s.Repo.CreateSession(ctx, s.DB, userID, s.clip(title), subject)
}

// ListPage returns a page of the user's sessions, newest first by default,
// and the total matching count.
func (s *SessionService) ListPage(ctx context.Context, userID string, q SessionQuery) ([]domain.ChatSession, int64, error) {
	ctx, span := s.span(ctx, "ListPage",
		attribute.String("user.id", userID),
		attribute.Int("page", q.Page),
		attribute.Int("page_size", q.PageSize),
	)
	defer span.End()

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	f := repo.SessionFilter{Subject: strings.TrimSpace(q.Subject)}
	if q.Status != "" {
		st, ok := domain.ParseSessionStatus(q.Status)
		if !ok {
			return nil, 0, ErrInvalidStatus
		}
		f.Status = st
	}

	total, err := s.Repo.CountSessions(ctx, s.DB, userID, f, q.Search)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChatSession{}, 0, nil
	}
	items, err := s.Repo.ListSessionsPage(ctx, s.DB, userID, f, repo.Page{
		Offset: (q.Page - 1) * q.PageSize,
		Limit:  q.PageSize,
		Order:  q.Order,
		Search: q.Search,
	})
	return items, total, err
}

// Get returns the session and, when history > 0, its latest turns with
// answers.
func (s *SessionService) Get(ctx context.Context, userID, id string, history int) (*SessionView, error) {
	ctx, span := s.span(ctx, "Get", attribute.String("user.id", userID), attribute.String("session.id", id))
	defer span.End()

	sess, err := s.Repo.GetSession(ctx, s.DB, id, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	view := &SessionView{Session: sess}
	if history <= 0 {
		return view, nil
	}
	if s.MaxHistory > 0 && history > s.MaxHistory {
		history = s.MaxHistory
	}
	qs, err := s.Repo.ListSessionQuestions(ctx, s.DB, id, history)
	if err != nil {
		return nil, err
	}
	view.History = qs
	return view, nil
}

// UpdateTitle renames a session owned by userID. A blank title restores the
// placeholder.
func (s *SessionService) UpdateTitle(ctx context.Context, userID, id, title string) error {
	ctx, span := s.span(ctx, "UpdateTitle", attribute.String("session.id", id))
	defer span.End()

	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	if err := s.Repo.UpdateSessionTitle(ctx, s.DB, id, userID, s.clip(title)); err != nil {
		if isNotFound(err) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// UpdateStatus moves a session along active→closed or {active,closed}→archived.
// Setting the current status again is a no-op.
func (s *SessionService) UpdateStatus(ctx context.Context, userID, id, status string) (*domain.ChatSession, error) {
	ctx, span := s.span(ctx, "UpdateStatus", attribute.String("session.id", id), attribute.String("status", status))
	defer span.End()

	next, ok := domain.ParseSessionStatus(status)
	if !ok {
		return nil, ErrInvalidStatus
	}
	sess, err := s.Repo.GetSession(ctx, s.DB, id, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.Status == next {
		return sess, nil
	}
	if !sess.Status.CanTransition(next) {
		return nil, ErrInvalidStatusTransition
	}
	if err := s.Repo.UpdateSessionStatus(ctx, s.DB, id, userID, next, sess.Status); err != nil {
		if isNotFound(err) {
			// status changed underneath us
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}
	sess.Status = next
	return sess, nil
}

// ArchiveIdle archives sessions whose last activity is older than idle.
func (s *SessionService) ArchiveIdle(ctx context.Context, idle time.Duration) (int64, error) {
	if idle <= 0 {
		return 0, nil
	}
	return s.Repo.ArchiveIdleSessions(ctx, s.DB, time.Now().UTC().Add(-idle))
}

func (s *SessionService) clip(title string) string {
	return clipGraphemes(title, s.TitleMaxLen)
}

// normalizeSubject lower-cases a subject key and rejects unknown ones. A
// blank subject means none.
func normalizeSubject(subject *string) (*string, error) {
	if subject == nil {
		return nil, nil
	}
	v := strings.ToLower(strings.TrimSpace(*subject))
	if v == "" {
		return nil, nil
	}
	if !prompt.KnownSubject(v) {
		return nil, ErrInvalidSubject
	}
	return &v, nil
}

// normalizeTitle trims whitespace and collapses runs of it to one space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
