// Package services – FeedbackService
//
// This file implements FeedbackService, which governs how users rate the
// answers they received. It enforces the business rules (answer existence,
// ownership through the parent question, a 1..5 rating, at most one rating
// per answer) and stores the rating atomically. Service-level errors
// (ErrInvalidFeedback, ErrAnswerNotFound, ErrDuplicateFeedback) are returned
// for the predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// MaxFeedbackText caps the free-text part of a rating, in runes.
const MaxFeedbackText = 1000

// FeedbackInput is one rating.
type FeedbackInput struct {
	Rating    int
	IsHelpful *bool
	Text      *string
}

// FeedbackService implements the use-cases around answer feedback. It opens
// its own transaction per call.
type FeedbackService struct {
	// DB is the database handle used for all feedback operations.
	DB *gorm.DB

	// Now stamps feedback_at; nil uses time.Now.
	Now func() time.Time
}

// Leave records a rating for answerID on behalf of userID.
//
// Semantics and validation:
//   - Rating must be within 1..5; otherwise ErrInvalidFeedback.
//   - The answer must exist and belong to a question asked by userID;
//     otherwise ErrAnswerNotFound.
//   - An answer can be rated once; a second attempt yields ErrDuplicateFeedback.
//
// The lookup and the conditional update run in one transaction, and the
// update itself only matches unrated rows, so concurrent ratings cannot
// both succeed.
func (s *FeedbackService) Leave(ctx context.Context, userID, answerID string, in FeedbackInput) (*domain.Answer, error) {
	ctx, span := observability.Tracer().Start(ctx, "FeedbackService.Leave")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("answer.id", answerID))

	if in.Rating < 1 || in.Rating > 5 {
		return nil, ErrInvalidFeedback
	}
	if in.Text != nil {
		t := clipRunes(strings.TrimSpace(*in.Text), MaxFeedbackText)
		if t == "" {
			in.Text = nil
		} else {
			in.Text = &t
		}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	var out *domain.Answer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1) The answer must exist and be owned through its question.
		a, err := repo.GetAnswerForUser(ctx, tx, answerID, userID)
		if err != nil {
			if isNotFound(err) {
				return ErrAnswerNotFound
			}
			return err
		}
		if a.FeedbackRating != nil {
			return ErrDuplicateFeedback
		}

		// 2) Conditional update; a concurrent rating leaves no row to match.
		at := now().UTC()
		fb := repo.AnswerFeedback{Rating: in.Rating, IsHelpful: in.IsHelpful, Text: in.Text}
		if err := repo.SetAnswerFeedback(ctx, tx, a.ID, fb, at); err != nil {
			if errors.Is(err, repo.ErrDuplicate) || isDuplicate(err) {
				return ErrDuplicateFeedback
			}
			return err
		}
		a.FeedbackRating = &in.Rating
		a.IsHelpful = in.IsHelpful
		a.FeedbackText = in.Text
		a.FeedbackAt = &at
		out = a
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
