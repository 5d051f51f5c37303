package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// seedAnswer stores one turn for userID and returns its answer.
func seedAnswer(t *testing.T, db *gorm.DB, userID string) *domain.Answer {
	t.Helper()
	ctx := context.Background()
	sess := mustSession(t, db, userID)
	q := &domain.Question{SessionID: sess.ID, UserID: userID, Content: "什么是分数？", QuestionType: domain.QuestionConcept}
	if err := repo.CreateQuestion(ctx, db, q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	a := &domain.Answer{QuestionID: q.ID, Content: "分数表示部分与整体的关系。", ModelName: "mock"}
	if err := repo.CreateAnswer(ctx, db, a); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	return a
}

func TestFeedback_Leave_InvalidRating(t *testing.T) {
	db := newTestDB(t)
	svc := &FeedbackService{DB: db}
	for _, r := range []int{0, 6, -1} {
		if _, err := svc.Leave(context.Background(), "u1", "a1", FeedbackInput{Rating: r}); !errors.Is(err, ErrInvalidFeedback) {
			t.Fatalf("rating %d: expected ErrInvalidFeedback, got %v", r, err)
		}
	}
}

func TestFeedback_Leave_AnswerNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := &FeedbackService{DB: db}
	if _, err := svc.Leave(context.Background(), "u1", "missing", FeedbackInput{Rating: 3}); !errors.Is(err, ErrAnswerNotFound) {
		t.Fatalf("expected ErrAnswerNotFound, got %v", err)
	}
}

func TestFeedback_Leave_NotOwner(t *testing.T) {
	db := newTestDB(t)
	a := seedAnswer(t, db, "owner")
	svc := &FeedbackService{DB: db}
	if _, err := svc.Leave(context.Background(), "intruder", a.ID, FeedbackInput{Rating: 5}); !errors.Is(err, ErrAnswerNotFound) {
		t.Fatalf("expected ErrAnswerNotFound for a foreign answer, got %v", err)
	}
}

func TestFeedback_Leave_SuccessThenDuplicate(t *testing.T) {
	db := newTestDB(t)
	a := seedAnswer(t, db, "u1")
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := &FeedbackService{DB: db, Now: func() time.Time { return at }}
	helpful := true
	text := "  讲得很清楚  "

	got, err := svc.Leave(context.Background(), "u1", a.ID, FeedbackInput{Rating: 5, IsHelpful: &helpful, Text: &text})
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if got.FeedbackRating == nil || *got.FeedbackRating != 5 || got.FeedbackText == nil || *got.FeedbackText != "讲得很清楚" {
		t.Fatalf("unexpected answer: %+v", got)
	}

	var stored domain.Answer
	if err := db.First(&stored, "id = ?", a.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.FeedbackRating == nil || *stored.FeedbackRating != 5 || stored.IsHelpful == nil || !*stored.IsHelpful {
		t.Fatalf("feedback not stored: %+v", stored)
	}
	if stored.FeedbackAt == nil || !stored.FeedbackAt.Equal(at) {
		t.Fatalf("feedback_at=%v", stored.FeedbackAt)
	}

	if _, err := svc.Leave(context.Background(), "u1", a.ID, FeedbackInput{Rating: 1}); !errors.Is(err, ErrDuplicateFeedback) {
		t.Fatalf("expected ErrDuplicateFeedback, got %v", err)
	}
}

func TestFeedback_Leave_ClipsText(t *testing.T) {
	db := newTestDB(t)
	a := seedAnswer(t, db, "u1")
	svc := &FeedbackService{DB: db}
	long := strings.Repeat("好", MaxFeedbackText+10)
	got, err := svc.Leave(context.Background(), "u1", a.ID, FeedbackInput{Rating: 4, Text: &long})
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if n := len([]rune(*got.FeedbackText)); n != MaxFeedbackText {
		t.Fatalf("text runes=%d", n)
	}
}
