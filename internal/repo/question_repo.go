// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Question
// and Answer models that make up a tutoring turn.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

// CreateQuestion inserts q, assigning an ID and UTC timestamps when unset.
// HasImages is derived from ImageURLs.
func CreateQuestion(ctx context.Context, db *gorm.DB, q *domain.Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	q.HasImages = len(q.URLs()) > 0
	if err := db.WithContext(ctx).Omit("Session", "Answer").Create(q).Error; err != nil {
		return wrap("create question", err)
	}
	return nil
}

// GetQuestion fetches a question by id and owner with its answer.
func GetQuestion(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Question, error) {
	var q domain.Question
	err := db.WithContext(ctx).
		Preload("Answer").
		Where("id = ? AND user_id = ?", id, userID).
		First(&q).Error
	if err != nil {
		return nil, wrap("get question", err)
	}
	return &q, nil
}

// ListSessionQuestions returns the turns of a session ordered
// deterministically (CreatedAt ASC, ID ASC), answers preloaded. A positive
// limit keeps only the most recent limit turns.
func ListSessionQuestions(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.Question, error) {
	var out []domain.Question
	q := db.WithContext(ctx).Preload("Answer").Where("session_id = ?", sessionID)
	if limit > 0 {
		// newest N, then flip back to chronological order
		if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
			return nil, wrap("list session questions", err)
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}
	err := q.Order("created_at ASC, id ASC").Find(&out).Error
	return out, wrap("list session questions", err)
}

// ListUserQuestionsSince returns the user's questions created at or after
// since, newest first.
func ListUserQuestionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]domain.Question, error) {
	var out []domain.Question
	err := db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Find(&out).Error
	return out, wrap("list user questions", err)
}

// CountUserQuestions returns the total number of questions the user asked.
func CountUserQuestions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Question{}).Where("user_id = ?", userID).Count(&total).Error
	return total, wrap("count user questions", err)
}

// CreateAnswer inserts a, assigning an ID and timestamp when unset.
func CreateAnswer(ctx context.Context, db *gorm.DB, a *domain.Answer) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return wrap("create answer", err)
	}
	return nil
}

// GetAnswerForUser fetches an answer whose question belongs to userID.
func GetAnswerForUser(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Answer, error) {
	var a domain.Answer
	err := db.WithContext(ctx).
		Joins("JOIN questions ON questions.id = answers.question_id").
		Where("answers.id = ? AND questions.user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, wrap("get answer", err)
	}
	return &a, nil
}

// AnswerFeedback is the user rating of one answer.
type AnswerFeedback struct {
	Rating    int
	IsHelpful *bool
	Text      *string
}

// SetAnswerFeedback stores feedback only if none was recorded yet. It
// returns ErrDuplicate when the answer already carries a rating.
func SetAnswerFeedback(ctx context.Context, db *gorm.DB, id string, fb AnswerFeedback, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Answer{}).
		Where("id = ? AND feedback_rating IS NULL", id).
		Updates(map[string]any{
			"feedback_rating": fb.Rating,
			"is_helpful":      fb.IsHelpful,
			"feedback_text":   fb.Text,
			"feedback_at":     at,
		})
	if res.Error != nil {
		return wrap("set answer feedback", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}
