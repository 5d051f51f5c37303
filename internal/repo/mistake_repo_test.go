package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

func homeworkMistake(userID, sourceID string, n int) *domain.MistakeRecord {
	return &domain.MistakeRecord{
		UserID:         userID,
		Title:          "移项时符号出错...",
		SourceKind:     domain.SourceHomework,
		SourceID:       &sourceID,
		QuestionNumber: n,
		KnowledgePoints: []domain.MistakeKnowledgePoint{
			{KnowledgePoint: "方程", Relevance: 0.7},
			{KnowledgePoint: "代数", Relevance: 0.6},
		},
	}
}

func TestCreateMistakeIfAbsent_DedupBySourceAndNumber(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()

	m := homeworkMistake("u1", "sub-1", 2)
	created, err := CreateMistakeIfAbsent(ctx, db, m)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	again, err := CreateMistakeIfAbsent(ctx, db, homeworkMistake("u1", "sub-1", 2))
	if err != nil || again {
		t.Fatalf("duplicate insert: created=%v err=%v", again, err)
	}
	other, err := CreateMistakeIfAbsent(ctx, db, homeworkMistake("u1", "sub-1", 3))
	if err != nil || !other {
		t.Fatalf("different question number: created=%v err=%v", other, err)
	}

	got, err := GetMistake(ctx, db, m.ID, "u1")
	if err != nil {
		t.Fatalf("GetMistake: %v", err)
	}
	if len(got.KnowledgePoints) != 2 {
		t.Fatalf("knowledge points = %d; want 2", len(got.KnowledgePoints))
	}
	var kpRows int64
	db.Model(&domain.MistakeKnowledgePoint{}).Count(&kpRows)
	if kpRows != 4 {
		t.Fatalf("knowledge point rows = %d; want 4 (dup insert must not add any)", kpRows)
	}
	if _, err := GetMistake(ctx, db, m.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner = %v", err)
	}
}

func TestListMistakes_FiltersAndDue(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past, future := now.Add(-time.Hour), now.Add(48*time.Hour)
	math := "math"

	seed := []*domain.MistakeRecord{
		{UserID: "u1", Title: "Fractions", Subject: &math, SourceKind: domain.SourceManual, NextReviewAt: &past},
		{UserID: "u1", Title: "Angles", Subject: &math, SourceKind: domain.SourceManual, NextReviewAt: &future},
		{UserID: "u1", Title: "done", SourceKind: domain.SourceManual, IsMastered: true, NextReviewAt: &past},
		{UserID: "u1", Title: "never scheduled", SourceKind: domain.SourceManual},
		{UserID: "u2", Title: "fractions too", SourceKind: domain.SourceManual, NextReviewAt: &past},
	}
	for _, m := range seed {
		if _, err := CreateMistakeIfAbsent(ctx, db, m); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	due, err := ListDueMistakes(ctx, db, "u1", now, 0)
	if err != nil {
		t.Fatalf("ListDueMistakes: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d; want 2 (past + never scheduled)", len(due))
	}

	n, err := CountMistakes(ctx, db, "u1", MistakeFilter{Subject: "math"}, "")
	if err != nil || n != 2 {
		t.Fatalf("CountMistakes(math) = (%d, %v)", n, err)
	}
	mastered := true
	n, _ = CountMistakes(ctx, db, "u1", MistakeFilter{Mastered: &mastered}, "")
	if n != 1 {
		t.Fatalf("mastered count = %d", n)
	}
	found, err := ListMistakesPage(ctx, db, "u1", MistakeFilter{}, Page{Search: "FRACTION", Limit: 10})
	if err != nil || len(found) != 1 {
		t.Fatalf("search = (%d, %v)", len(found), err)
	}
}

func TestSaveReview_AppendsAndUpdates(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()
	m := homeworkMistake("u1", "sub-9", 1)
	if _, err := CreateMistakeIfAbsent(ctx, db, m); err != nil {
		t.Fatalf("seed: %v", err)
	}

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, res := range []domain.ReviewResult{domain.ReviewIncorrect, domain.ReviewCorrect, domain.ReviewPartial} {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		err := db.Transaction(func(tx *gorm.DB) error {
			return SaveReview(ctx, tx, &domain.MistakeReview{
				MistakeID: m.ID, ReviewDate: at, ReviewResult: res, MasteryAfter: 0.5, IntervalDays: 2,
			}, ReviewUpdate{MasteryLevel: 0.5, ConsecutiveCorrect: 0, NextReviewAt: at.Add(48 * time.Hour), ReviewedAt: at})
		})
		if err != nil {
			t.Fatalf("SaveReview %d: %v", i, err)
		}
	}

	got, _ := GetMistake(ctx, db, m.ID, "u1")
	if got.ReviewCount != 3 || got.LastReviewedAt == nil || got.MasteryLevel != 0.5 {
		t.Fatalf("record after reviews = %+v", got)
	}

	recent, err := ListRecentReviews(ctx, db, m.ID, 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("ListRecentReviews = (%d, %v)", len(recent), err)
	}
	if recent[0].ReviewResult != domain.ReviewPartial || recent[1].ReviewResult != domain.ReviewCorrect {
		t.Fatalf("reviews should be newest first, got %s, %s", recent[0].ReviewResult, recent[1].ReviewResult)
	}

	err = SaveReview(ctx, db, &domain.MistakeReview{MistakeID: "missing", ReviewDate: base, ReviewResult: domain.ReviewCorrect}, ReviewUpdate{})
	var ic *IntegrityConflict
	if !errors.As(err, &ic) {
		t.Fatalf("review of unknown record = %T %v", err, err)
	}
}
