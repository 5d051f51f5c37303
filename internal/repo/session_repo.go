// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatSession model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found (or is soft-deleted, or owned by another
//     user), functions return ErrNotFound.
//   - Constraint violations surface as *IntegrityConflict; any other DB
//     failure as *StoreError.
//
// Counters (question_count, total_tokens) are never read-modify-written in
// Go: IncrementSessionCounters issues one UPDATE with COALESCE(x,0)+delta so
// concurrent turns on the same session never lose an increment.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

var sessionOrder = map[string]string{
	"created_at":       "created_at",
	"updated_at":       "updated_at",
	"last_activity_at": "last_activity_at",
	"question_count":   "question_count",
	"title":            "title",
}

// SessionFilter narrows ListSessionsPage/CountSessions.
type SessionFilter struct {
	Status  domain.SessionStatus // empty = any
	Subject string               // empty = any
}

// CreateSession inserts an active session owned by userID. An empty title
// falls back to domain.DefaultSessionTitle.
func CreateSession(ctx context.Context, db *gorm.DB, userID, title string, subject *string) (*domain.ChatSession, error) {
	if title == "" {
		title = domain.DefaultSessionTitle
	}
	now := time.Now().UTC()
	s := &domain.ChatSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          title,
		Subject:        subject,
		Status:         domain.SessionActive,
		ContextEnabled: true,
		LastActivityAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, wrap("create session", err)
	}
	return s, nil
}

// GetSession fetches a session by id and owner.
func GetSession(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&s).Error
	if err != nil {
		return nil, wrap("get session", err)
	}
	return &s, nil
}

func sessionQuery(ctx context.Context, db *gorm.DB, userID string, f SessionFilter, search string) *gorm.DB {
	q := db.WithContext(ctx).Model(&domain.ChatSession{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if search != "" {
		q = q.Where(`LOWER(title) LIKE ? ESCAPE '\'`, likeContains(search))
	}
	return q
}

// CountSessions returns the number of sessions matching f and p.Search.
func CountSessions(ctx context.Context, db *gorm.DB, userID string, f SessionFilter, search string) (int64, error) {
	var total int64
	err := sessionQuery(ctx, db, userID, f, search).Count(&total).Error
	return total, wrap("count sessions", err)
}

// ListSessionsPage returns one page of the user's sessions, newest first
// unless p.Order says otherwise.
func ListSessionsPage(ctx context.Context, db *gorm.DB, userID string, f SessionFilter, p Page) ([]domain.ChatSession, error) {
	var out []domain.ChatSession
	err := p.apply(sessionQuery(ctx, db, userID, f, p.Search), sessionOrder).Find(&out).Error
	return out, wrap("list sessions", err)
}

// UpdateSessionTitle sets the title of a session owned by userID.
func UpdateSessionTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return wrap("update session title", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTitleIfFirstQuestion replaces the default title only while the session
// has exactly one question. It reports whether the title changed.
func SetTitleIfFirstQuestion(ctx context.Context, db *gorm.DB, id, title string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("id = ? AND question_count = 1 AND title = ?", id, domain.DefaultSessionTitle).
		Update("title", title)
	if res.Error != nil {
		return false, wrap("auto title", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateSessionStatus moves a session to next when its current status is one
// of from. ErrNotFound means the session is missing or not in an allowed
// state; callers disambiguate with GetSession.
func UpdateSessionStatus(ctx context.Context, db *gorm.DB, id, userID string, next domain.SessionStatus, from ...domain.SessionStatus) error {
	q := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("id = ? AND user_id = ?", id, userID)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(map[string]any{"status": next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return wrap("update session status", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementSessionCounters adds the deltas to question_count and
// total_tokens in a single statement and stamps last_activity_at.
func IncrementSessionCounters(ctx context.Context, db *gorm.DB, id string, questions, tokens int64) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"question_count":   gorm.Expr("COALESCE(question_count, 0) + ?", questions),
			"total_tokens":     gorm.Expr("COALESCE(total_tokens, 0) + ?", tokens),
			"last_activity_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return wrap("increment session counters", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveIdleSessions archives active or closed sessions whose last activity
// is older than before. It returns the number of sessions archived.
func ArchiveIdleSessions(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("status IN ?", []domain.SessionStatus{domain.SessionActive, domain.SessionClosed}).
		Where("COALESCE(last_activity_at, created_at) < ?", before).
		Updates(map[string]any{"status": domain.SessionArchived, "updated_at": time.Now().UTC()})
	return res.RowsAffected, wrap("archive idle sessions", res.Error)
}
