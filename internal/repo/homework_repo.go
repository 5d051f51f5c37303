// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for homework
// templates, submissions and their per-page OCR rows.
//
// Status changes go through conditional UPDATEs (WHERE status IN ...) so a
// submission can only move along uploaded → processing → reviewed|failed,
// even with several workers racing on the same row.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

// CreateHomework inserts a homework template.
func CreateHomework(ctx context.Context, db *gorm.DB, h *domain.Homework) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return wrap("create homework", db.WithContext(ctx).Create(h).Error)
}

// GetHomework fetches a homework template by id.
func GetHomework(ctx context.Context, db *gorm.DB, id string) (*domain.Homework, error) {
	var h domain.Homework
	if err := db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, wrap("get homework", err)
	}
	return &h, nil
}

// CreateSubmission inserts an uploaded submission with one HomeworkImage row
// per image URL, in order.
func CreateSubmission(ctx context.Context, db *gorm.DB, userID, homeworkID string, urls []string) (*domain.HomeworkSubmission, error) {
	now := time.Now().UTC()
	s := &domain.HomeworkSubmission{
		ID:         uuid.NewString(),
		UserID:     userID,
		HomeworkID: homeworkID,
		Images:     domain.EncodeBlob(urls),
		Status:     domain.SubmissionUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, u := range urls {
		s.Pages = append(s.Pages, domain.HomeworkImage{
			ID:           uuid.NewString(),
			SubmissionID: s.ID,
			Position:     i,
			URL:          u,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := db.WithContext(ctx).Omit("Homework").Create(s).Error; err != nil {
		return nil, wrap("create submission", err)
	}
	return s, nil
}

// GetSubmission fetches a submission owned by userID with its pages.
func GetSubmission(ctx context.Context, db *gorm.DB, id, userID string) (*domain.HomeworkSubmission, error) {
	var s domain.HomeworkSubmission
	err := db.WithContext(ctx).
		Preload("Pages", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("id = ? AND user_id = ?", id, userID).
		First(&s).Error
	if err != nil {
		return nil, wrap("get submission", err)
	}
	return &s, nil
}

// ListUserSubmissionsSince returns the user's reviewed submissions created
// at or after since, newest first, with their homework template loaded.
func ListUserSubmissionsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) ([]domain.HomeworkSubmission, error) {
	var out []domain.HomeworkSubmission
	err := db.WithContext(ctx).
		Preload("Homework").
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, domain.SubmissionReviewed, since).
		Order("created_at DESC").
		Find(&out).Error
	return out, wrap("list user submissions", err)
}

// TransitionSubmission moves a submission to next if its status is one of
// from. It returns ErrNotFound when no row matched.
func TransitionSubmission(ctx context.Context, db *gorm.DB, id string, next domain.SubmissionStatus, from ...domain.SubmissionStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.HomeworkSubmission{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return wrap("transition submission", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SubmissionReview is the outcome written when a correction succeeds.
type SubmissionReview struct {
	TotalScore   float64
	AccuracyRate *float64
	ReviewData   datatypes.JSON
	WeakPoints   datatypes.JSON
	Suggestions  datatypes.JSON
	ProcessedAt  time.Time
}

// SaveSubmissionReview stores the review and marks the submission reviewed.
func SaveSubmissionReview(ctx context.Context, db *gorm.DB, id string, r SubmissionReview) error {
	res := db.WithContext(ctx).
		Model(&domain.HomeworkSubmission{}).
		Where("id = ? AND status = ?", id, domain.SubmissionProcessing).
		Updates(map[string]any{
			"status":                  domain.SubmissionReviewed,
			"total_score":             r.TotalScore,
			"accuracy_rate":           r.AccuracyRate,
			"ai_review_data":          r.ReviewData,
			"weak_knowledge_points":   r.WeakPoints,
			"improvement_suggestions": r.Suggestions,
			"error_message":           nil,
			"processed_at":            r.ProcessedAt,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return wrap("save submission review", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FailSubmission marks a non-terminal submission failed with msg.
func FailSubmission(ctx context.Context, db *gorm.DB, id, msg string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.HomeworkSubmission{}).
		Where("id = ? AND status IN ?", id, []domain.SubmissionStatus{domain.SubmissionUploaded, domain.SubmissionProcessing}).
		Updates(map[string]any{
			"status":        domain.SubmissionFailed,
			"error_message": msg,
			"processed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return wrap("fail submission", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ImageOCR is the OCR outcome of one page.
type ImageOCR struct {
	Text       string
	Confidence *float64
	Kind       string
	Error      *string
	Elapsed    time.Duration
}

// UpdateImageOCR stores the OCR outcome for one page.
func UpdateImageOCR(ctx context.Context, db *gorm.DB, imageID string, o ImageOCR) error {
	res := db.WithContext(ctx).
		Model(&domain.HomeworkImage{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"ocr_text":           o.Text,
			"ocr_confidence":     o.Confidence,
			"ocr_kind":           o.Kind,
			"ocr_error":          o.Error,
			"processing_time_ms": o.Elapsed.Milliseconds(),
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return wrap("update image ocr", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingSubmissions returns submissions still uploaded or processing,
// oldest first. Used to resume work after a restart.
func ListPendingSubmissions(ctx context.Context, db *gorm.DB, limit int) ([]domain.HomeworkSubmission, error) {
	var out []domain.HomeworkSubmission
	q := db.WithContext(ctx).
		Where("status IN ?", []domain.SubmissionStatus{domain.SubmissionUploaded, domain.SubmissionProcessing}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, wrap("list pending submissions", err)
}
