package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

// newTestDB opens a file-backed SQLite database unique to the test, with
// foreign keys enforced, and migrates the given models.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano())) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func newFullDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDB(t, domain.All()...)
}

func TestSessionsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := SessionsStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing chat_sessions table")
	}
}

func TestSessionsStats_ZeroRows(t *testing.T) {
	db := newFullDB(t)
	count, maxAt, err := SessionsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestSessionsStats_Success_FilterAndMax(t *testing.T) {
	db := newFullDB(t)

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)   // other user

	for _, s := range []*domain.ChatSession{
		{ID: "s1", UserID: "u1", Title: "a", Status: domain.SessionActive, CreatedAt: t1, UpdatedAt: t1},
		{ID: "s2", UserID: "u1", Title: "b", Status: domain.SessionActive, CreatedAt: t2, UpdatedAt: t2},
		{ID: "s3", UserID: "u2", Title: "x", Status: domain.SessionActive, CreatedAt: t3, UpdatedAt: t3},
	} {
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}

	count, maxAt, err := SessionsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("SessionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxUpdatedAt %v, got %v", t2, maxAt)
	}
}

// Force the second query (SELECT updated_at ...) to fail by renaming the column.
func TestQuestionsStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.ChatSession{}, &domain.Question{}, &domain.Answer{})
	s, err := CreateSession(context.Background(), db, "u1", "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := CreateQuestion(context.Background(), db, &domain.Question{SessionID: s.ID, UserID: "u1", Content: "x"}); err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}
	if err := db.Exec(`ALTER TABLE questions RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}
	_, _, err = QuestionsStats(context.Background(), db, s.ID)
	if err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
	var se *StoreError
	if !asStoreError(err, &se) {
		t.Fatalf("expected *StoreError, got %T", err)
	}
}

func TestMistakesStats_CountsOnlyOwner(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u1", "u2"} {
		if _, err := CreateMistakeIfAbsent(ctx, db, &domain.MistakeRecord{UserID: u, Title: "t", SourceKind: domain.SourceManual}); err != nil {
			t.Fatalf("seed mistake: %v", err)
		}
	}
	count, maxAt, err := MistakesStats(ctx, db, "u1")
	if err != nil || count != 2 || maxAt == nil {
		t.Fatalf("MistakesStats = (%d, %v, %v)", count, maxAt, err)
	}
}
