package learning

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	require.NoError(t, repo.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) Get(_ context.Context, k string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, k string, v []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = v
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.m, k)
	}
	return nil
}

func seedHistory(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	ctx := context.Background()
	math := "math"

	hw := &domain.Homework{Title: "函数练习", Subject: "math", DifficultyLevel: 4}
	require.NoError(t, repo.CreateHomework(ctx, db, hw))
	sub, err := repo.CreateSubmission(ctx, db, userID, hw.ID, []string{"https://img.example.com/1.jpg"})
	require.NoError(t, err)
	require.NoError(t, repo.TransitionSubmission(ctx, db, sub.ID, domain.SubmissionProcessing, domain.SubmissionUploaded))
	require.NoError(t, repo.SaveSubmissionReview(ctx, db, sub.ID, repo.SubmissionReview{
		TotalScore: 50,
		WeakPoints: domain.EncodeBlob([]domain.KnowledgeStat{
			{Name: "函数", ErrorCount: 3, TotalCount: 4},
			{Name: "几何", ErrorCount: 0, TotalCount: 2},
		}),
		ProcessedAt: time.Now().UTC(),
	}))

	sess, err := repo.CreateSession(ctx, db, userID, "", &math)
	require.NoError(t, err)
	for _, content := range []string{"方程怎么解", "这个方程不会"} {
		require.NoError(t, repo.CreateQuestion(ctx, db, &domain.Question{
			SessionID: sess.ID, UserID: userID, Content: content, Subject: &math,
		}))
	}
}

func TestBuild_NewUserGetsDefaults(t *testing.T) {
	b := NewBuilder(newTestDB(t), nil, nil, Options{})
	c := b.Build(context.Background(), "nobody", "", SessionLearning)

	assert.Equal(t, "nobody", c.UserID)
	assert.Empty(t, c.WeakKnowledgePoints)
	assert.NotNil(t, c.WeakKnowledgePoints)
	assert.Equal(t, LevelBeginner, c.ContextSummary.CurrentLevel)
	assert.Equal(t, PaceSlow, c.LearningPreferences.LearningPace)
	assert.Equal(t, MasteryComputed, c.MasterySource)
	assert.Empty(t, c.KnowledgeMastery)
}

func TestBuild_WeakPointsAndSnapshot(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, "u1")
	math := "math"
	require.NoError(t, repo.CreateSnapshot(context.Background(), db, &domain.UserKnowledgeGraphSnapshot{
		UserID: "u1", Subject: &math, SnapshotDate: time.Now().UTC().Add(-24 * time.Hour),
		KnowledgePoints: datatypes.JSON(`[{"name":"函数","mastery":0.3}]`),
	}))

	b := NewBuilder(db, nil, nil, Options{SnapshotMaxAge: 7 * day})
	c := b.Build(context.Background(), "u1", "math", SessionHomework)

	require.Len(t, c.WeakKnowledgePoints, 2)
	assert.Equal(t, "方程", c.WeakKnowledgePoints[0].KnowledgeName)
	assert.Equal(t, 1.0, c.WeakKnowledgePoints[0].ErrorRate)
	assert.Equal(t, "函数", c.WeakKnowledgePoints[1].KnowledgeName)
	assert.InDelta(t, 0.75, c.WeakKnowledgePoints[1].ErrorRate, 1e-9)
	assert.Equal(t, "math", c.WeakKnowledgePoints[1].Subject)

	assert.Equal(t, MasteryFromSnapshot, c.MasterySource)
	assert.Equal(t, map[string]float64{"函数": 0.3}, c.KnowledgeMastery)

	assert.Equal(t, 2, c.ContextSummary.TotalQuestions)
	assert.Equal(t, 10, c.ContextSummary.TotalStudyTimeMin)
	assert.Equal(t, 1, c.ContextSummary.RecentActivityDays)
	assert.Equal(t, "math", c.ContextSummary.DominantSubject)
	assert.Equal(t, map[string]float64{"hard": 1}, c.LearningPreferences.DifficultyPreference)
}

func TestBuild_StaleSnapshotFallsBackToComputation(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, "u1")
	math := "math"
	require.NoError(t, repo.CreateSnapshot(context.Background(), db, &domain.UserKnowledgeGraphSnapshot{
		UserID: "u1", Subject: &math, SnapshotDate: time.Now().UTC().Add(-10 * day),
		KnowledgePoints: datatypes.JSON(`[{"name":"函数","mastery":0.3}]`),
	}))

	c := NewBuilder(db, nil, nil, Options{SnapshotMaxAge: 7 * day}).Build(context.Background(), "u1", "math", SessionLearning)
	assert.Equal(t, MasteryComputed, c.MasterySource)
	assert.Equal(t, 0.25, c.KnowledgeMastery["函数"])
	assert.Equal(t, 1.0, c.KnowledgeMastery["几何"])
	assert.Equal(t, 0.0, c.KnowledgeMastery["方程"])
}

func TestBuild_CachedUntilInvalidated(t *testing.T) {
	db := newTestDB(t)
	seedHistory(t, db, "u1")
	mc := &memCache{m: map[string][]byte{}}
	b := NewBuilder(db, nil, mc, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	first := b.Build(ctx, "u1", "Math", SessionLearning)
	math := "math"
	sess, err := repo.CreateSession(ctx, db, "u1", "", &math)
	require.NoError(t, err)
	require.NoError(t, repo.CreateQuestion(ctx, db, &domain.Question{SessionID: sess.ID, UserID: "u1", Content: "几何怎么学", Subject: &math}))

	second := b.Build(ctx, "u1", "math", SessionLearning)
	assert.Equal(t, first.WeakNames(0), second.WeakNames(0))
	assert.Equal(t, first.ContextSummary, second.ContextSummary)
	assert.True(t, first.GeneratedAt.Equal(second.GeneratedAt), "served from cache")

	b.Invalidate(ctx, "u1", "math")
	third := b.Build(ctx, "u1", "math", SessionLearning)
	assert.Equal(t, 3, third.ContextSummary.TotalQuestions)
}

func TestBuild_StoreFailureDegrades(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	c := NewBuilder(db, nil, nil, Options{}).Build(context.Background(), "u1", "", SessionLearning)
	assert.Empty(t, c.WeakKnowledgePoints)
	assert.Equal(t, DefaultPreferences(), c.LearningPreferences)
	assert.Equal(t, DefaultSummary(), c.ContextSummary)
}
