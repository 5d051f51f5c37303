// Package services – MistakeService
//
// This file implements the mistake book: filtered listing, the due-for-review
// queue, manual entries and recording review outcomes. Each review is
// appended and the record's mastery, streak, mastered flag and next review
// date are recomputed from the latest reviews inside one transaction.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
	"github.com/tbourn/homework-tutor-backend/internal/spacedrep"
)

// ManualRelevance is the relevance given to knowledge points typed in by the user.
const ManualRelevance = 0.6

// MistakeQuery is the list request of MistakeService.List.
type MistakeQuery struct {
	Subject  string
	Mastered *bool
	Source   string
	Search   string
	Order    string
	Page     int
	PageSize int
}

// ManualMistake is a user-entered mistake.
type ManualMistake struct {
	Subject         *string
	Title           string
	Content         string
	KnowledgePoints []string
}

// ReviewOutcome is the result of recording one review.
type ReviewOutcome struct {
	Mistake *domain.MistakeRecord `json:"mistake"`
	Review  *domain.MistakeReview `json:"review"`
}

// MistakeService manages the mistake book.
type MistakeService struct {
	DB      *gorm.DB
	Context ContextSource
	Now     func() time.Time

	MaxTitle int
	MaxDue   int
}

func NewMistakeService(db *gorm.DB, ctxSrc ContextSource) *MistakeService {
	return &MistakeService{DB: db, Context: ctxSrc, Now: time.Now, MaxTitle: 100, MaxDue: 50}
}

// List returns a page of the user's mistakes and the total matching count.
func (s *MistakeService) List(ctx context.Context, userID string, q MistakeQuery) ([]domain.MistakeRecord, int64, error) {
	ctx, span := observability.Tracer().Start(ctx, "MistakeService.List")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("page", q.Page))

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	f := repo.MistakeFilter{Subject: strings.TrimSpace(q.Subject), Mastered: q.Mastered}
	if q.Source != "" {
		kind, ok := domain.ParseSourceKind(q.Source)
		if !ok {
			return nil, 0, ErrInvalidSourceKind
		}
		f.SourceKind = kind
	}

	total, err := repo.CountMistakes(ctx, s.DB, userID, f, q.Search)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.MistakeRecord{}, 0, nil
	}
	items, err := repo.ListMistakesPage(ctx, s.DB, userID, f, repo.Page{
		Offset: (q.Page - 1) * q.PageSize,
		Limit:  q.PageSize,
		Order:  q.Order,
		Search: q.Search,
	})
	return items, total, err
}

// Due returns unmastered mistakes whose review date has passed.
func (s *MistakeService) Due(ctx context.Context, userID string, limit int) ([]domain.MistakeRecord, error) {
	ctx, span := observability.Tracer().Start(ctx, "MistakeService.Due")
	defer span.End()

	if limit <= 0 || (s.MaxDue > 0 && limit > s.MaxDue) {
		limit = s.MaxDue
	}
	out, err := repo.ListDueMistakes(ctx, s.DB, userID, s.now(), limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.MistakeRecord{}
	}
	return out, nil
}

// Get returns one of the user's mistakes with its knowledge points.
func (s *MistakeService) Get(ctx context.Context, userID, id string) (*domain.MistakeRecord, error) {
	ctx, span := observability.Tracer().Start(ctx, "MistakeService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("mistake.id", id))

	m, err := repo.GetMistake(ctx, s.DB, id, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrMistakeNotFound
		}
		return nil, err
	}
	return m, nil
}

// CreateManual stores a user-entered mistake with source kind manual.
func (s *MistakeService) CreateManual(ctx context.Context, userID string, in ManualMistake) (*domain.MistakeRecord, error) {
	ctx, span := observability.Tracer().Start(ctx, "MistakeService.CreateManual")
	defer span.End()

	subject, err := normalizeSubject(in.Subject)
	if err != nil {
		return nil, err
	}
	title := normalizeTitle(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" {
		title = content
	}
	if title == "" {
		return nil, ErrEmptyContent
	}

	m := &domain.MistakeRecord{
		UserID:     userID,
		Subject:    subject,
		Title:      clipGraphemes(title, s.MaxTitle),
		SourceKind: domain.SourceManual,
	}
	if content != "" {
		m.OCRText = &content
	}
	seen := map[string]bool{}
	for _, kp := range in.KnowledgePoints {
		kp = strings.TrimSpace(kp)
		if kp == "" || seen[kp] {
			continue
		}
		seen[kp] = true
		m.KnowledgePoints = append(m.KnowledgePoints, domain.MistakeKnowledgePoint{KnowledgePoint: kp, Relevance: ManualRelevance})
	}

	if _, err := repo.CreateMistakeIfAbsent(ctx, s.DB, m); err != nil {
		return nil, err
	}
	observability.MistakesCreated.WithLabelValues(string(domain.SourceManual)).Inc()
	s.invalidate(ctx, userID, m.Subject)
	return m, nil
}

// Review records one review outcome and reschedules the mistake.
func (s *MistakeService) Review(ctx context.Context, userID, id, result string) (*ReviewOutcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "MistakeService.Review")
	defer span.End()
	span.SetAttributes(attribute.String("mistake.id", id), attribute.String("review.result", result))

	res, ok := domain.ParseReviewResult(result)
	if !ok {
		return nil, ErrInvalidReviewResult
	}
	at := s.now().UTC()

	var out ReviewOutcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.GetMistake(ctx, tx, id, userID)
		if err != nil {
			if isNotFound(err) {
				return ErrMistakeNotFound
			}
			return err
		}
		prev, err := repo.ListRecentReviews(ctx, tx, m.ID, 4)
		if err != nil {
			return err
		}
		hist := make([]domain.ReviewResult, len(prev))
		for i, r := range prev {
			hist[i] = r.ReviewResult
		}

		o := spacedrep.Apply(spacedrep.State{
			ReviewCount:        m.ReviewCount,
			ConsecutiveCorrect: m.ConsecutiveCorrect,
			IsMastered:         m.IsMastered,
		}, res, hist, at)

		rv := &domain.MistakeReview{
			MistakeID:    m.ID,
			ReviewDate:   at,
			ReviewResult: res,
			MasteryAfter: o.MasteryLevel,
			IntervalDays: o.IntervalDays,
		}
		if err := repo.SaveReview(ctx, tx, rv, repo.ReviewUpdate{
			MasteryLevel:       o.MasteryLevel,
			ConsecutiveCorrect: o.ConsecutiveCorrect,
			IsMastered:         o.IsMastered,
			NextReviewAt:       o.NextReviewAt,
			ReviewedAt:         at,
		}); err != nil {
			return err
		}

		m.ReviewCount++
		m.MasteryLevel = o.MasteryLevel
		m.ConsecutiveCorrect = o.ConsecutiveCorrect
		m.IsMastered = o.IsMastered
		next := o.NextReviewAt
		m.NextReviewAt = &next
		m.LastReviewedAt = &at
		out = ReviewOutcome{Mistake: m, Review: rv}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("mistake_id", id).
		Str("result", string(res)).
		Float64("mastery", out.Mistake.MasteryLevel).
		Bool("mastered", out.Mistake.IsMastered).
		Int("interval_days", out.Review.IntervalDays).
		Msg("mistake reviewed")
	s.invalidate(ctx, userID, out.Mistake.Subject)
	return &out, nil
}

func (s *MistakeService) invalidate(ctx context.Context, userID string, subject *string) {
	if s.Context == nil {
		return
	}
	var subjects []string
	if subject != nil {
		subjects = append(subjects, *subject)
	}
	s.Context.Invalidate(ctx, userID, subjects...)
}

func (s *MistakeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
