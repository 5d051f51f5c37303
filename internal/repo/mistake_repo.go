// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the mistake
// book: MistakeRecord, its knowledge points and its review history.
//
// Deduplication relies on the ux_mistake_source unique index: inserts use
// ON CONFLICT DO NOTHING and report whether a row was actually written, so
// re-correcting the same submission never duplicates a record.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

var mistakeOrder = map[string]string{
	"created_at":     "created_at",
	"next_review_at": "next_review_at",
	"mastery_level":  "mastery_level",
	"review_count":   "review_count",
}

// MistakeFilter narrows ListMistakesPage/CountMistakes.
type MistakeFilter struct {
	Subject    string
	Mastered   *bool
	SourceKind domain.SourceKind
}

// CreateMistakeIfAbsent inserts m with its knowledge points unless a record
// with the same (user, source kind, source id, question number) exists.
// It reports whether m was created.
func CreateMistakeIfAbsent(ctx context.Context, db *gorm.DB, m *domain.MistakeRecord) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	kps := m.KnowledgePoints
	m.KnowledgePoints = nil

	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		for i := range kps {
			kps[i].MistakeID = m.ID
			if kps[i].ID == "" {
				kps[i].ID = uuid.NewString()
			}
			if kps[i].CreatedAt.IsZero() {
				kps[i].CreatedAt = now
			}
		}
		if len(kps) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&kps).Error; err != nil {
				return err
			}
		}
		return nil
	})
	m.KnowledgePoints = kps
	if err != nil {
		return false, wrap("create mistake", err)
	}
	return created, nil
}

// GetMistake fetches a mistake record owned by userID with its knowledge points.
func GetMistake(ctx context.Context, db *gorm.DB, id, userID string) (*domain.MistakeRecord, error) {
	var m domain.MistakeRecord
	err := db.WithContext(ctx).
		Preload("KnowledgePoints").
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, wrap("get mistake", err)
	}
	return &m, nil
}

func mistakeQuery(ctx context.Context, db *gorm.DB, userID string, f MistakeFilter, search string) *gorm.DB {
	q := db.WithContext(ctx).Model(&domain.MistakeRecord{}).Where("user_id = ?", userID)
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if f.Mastered != nil {
		q = q.Where("is_mastered = ?", *f.Mastered)
	}
	if f.SourceKind != "" {
		q = q.Where("source_kind = ?", f.SourceKind)
	}
	if search != "" {
		q = q.Where(`LOWER(title) LIKE ? ESCAPE '\'`, likeContains(search))
	}
	return q
}

// CountMistakes returns the number of records matching f and search.
func CountMistakes(ctx context.Context, db *gorm.DB, userID string, f MistakeFilter, search string) (int64, error) {
	var total int64
	err := mistakeQuery(ctx, db, userID, f, search).Count(&total).Error
	return total, wrap("count mistakes", err)
}

// ListMistakesPage returns one page of the user's mistake book.
func ListMistakesPage(ctx context.Context, db *gorm.DB, userID string, f MistakeFilter, p Page) ([]domain.MistakeRecord, error) {
	var out []domain.MistakeRecord
	err := p.apply(mistakeQuery(ctx, db, userID, f, p.Search), mistakeOrder).
		Preload("KnowledgePoints").
		Find(&out).Error
	return out, wrap("list mistakes", err)
}

// ListDueMistakes returns unmastered records whose next review is due at
// now (or was never scheduled), earliest first.
func ListDueMistakes(ctx context.Context, db *gorm.DB, userID string, now time.Time, limit int) ([]domain.MistakeRecord, error) {
	var out []domain.MistakeRecord
	q := db.WithContext(ctx).
		Preload("KnowledgePoints").
		Where("user_id = ? AND is_mastered = ?", userID, false).
		Where("next_review_at IS NULL OR next_review_at <= ?", now).
		Order("next_review_at ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, wrap("list due mistakes", err)
}

// ListUserMistakesSince returns the user's records created at or after
// since with knowledge points preloaded.
func ListUserMistakesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]domain.MistakeRecord, error) {
	var out []domain.MistakeRecord
	err := db.WithContext(ctx).
		Preload("KnowledgePoints").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Find(&out).Error
	return out, wrap("list user mistakes", err)
}

// ListRecentReviews returns up to limit reviews of a record, newest first.
func ListRecentReviews(ctx context.Context, db *gorm.DB, mistakeID string, limit int) ([]domain.MistakeReview, error) {
	var out []domain.MistakeReview
	q := db.WithContext(ctx).
		Where("mistake_id = ?", mistakeID).
		Order("review_date DESC, created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, wrap("list reviews", err)
}

// ReviewUpdate is the scheduling state written back after a review.
type ReviewUpdate struct {
	MasteryLevel       float64
	ConsecutiveCorrect int
	IsMastered         bool
	NextReviewAt       time.Time
	ReviewedAt         time.Time
}

// SaveReview appends rv and applies u to its record. review_count is
// incremented in the same statement. Callers run it inside a transaction
// together with the history read that produced u.
func SaveReview(ctx context.Context, db *gorm.DB, rv *domain.MistakeReview, u ReviewUpdate) error {
	if rv.ID == "" {
		rv.ID = uuid.NewString()
	}
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Omit("Mistake").Create(rv).Error; err != nil {
		return wrap("create review", err)
	}
	res := db.WithContext(ctx).
		Model(&domain.MistakeRecord{}).
		Where("id = ?", rv.MistakeID).
		Updates(map[string]any{
			"review_count":        gorm.Expr("COALESCE(review_count, 0) + 1"),
			"mastery_level":       u.MasteryLevel,
			"consecutive_correct": u.ConsecutiveCorrect,
			"is_mastered":         u.IsMastered,
			"next_review_at":      u.NextReviewAt,
			"last_reviewed_at":    u.ReviewedAt,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return wrap("update mistake after review", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
