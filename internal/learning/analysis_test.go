package learning

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return now.Add(-time.Duration(n) * day) }

func TestDecayWeight(t *testing.T) {
	assert.Equal(t, 1.0, DecayWeight(now, now))
	assert.InDelta(t, math.Exp(-1), DecayWeight(now, daysAgo(10)), 1e-9)
	assert.Equal(t, 0.1, DecayWeight(now, daysAgo(30)), "floored at 0.1")
	assert.Equal(t, 1.0, DecayWeight(now, now.Add(time.Hour)), "future clamps to zero days")
	assert.Equal(t, 1.0, DecayWeight(now, now.Add(-23*time.Hour)), "partial days round down")
}

func TestSeverity(t *testing.T) {
	assert.InDelta(t, 0.6*0.8+0.3*0.5+0.1*1, Severity(0.8, 5, 1), 1e-9)
	assert.InDelta(t, 0.6+0.3+0.1, Severity(1, 25, 1), 1e-9, "error volume saturates at 10")
}

func TestWeakPoints_ThresholdOrderingAndPrerequisites(t *testing.T) {
	lex := lexicon.Default()
	ev := []Evidence{
		{Name: "函数", Subject: "math", At: now, Errors: 2, Attempts: 3},
		{Name: "几何", Subject: "math", At: now, Errors: 1, Attempts: 4},
		{Name: "方程", Subject: "math", At: daysAgo(2), Errors: 4, Attempts: 4},
	}
	wps := WeakPoints(ev, now, lex)
	require.Len(t, wps, 2)

	assert.Equal(t, "方程", wps[0].KnowledgeName)
	assert.Equal(t, 1.0, wps[0].ErrorRate)
	assert.Equal(t, 4, wps[0].ErrorCount)
	assert.Equal(t, "函数", wps[1].KnowledgeName)
	assert.InDelta(t, 2.0/3.0, wps[1].ErrorRate, 1e-4)
	assert.Equal(t, []string{"代数", "方程"}, wps[1].PrerequisiteKnowledge)
	assert.Equal(t, KnowledgeID("math", "函数"), wps[1].KnowledgeID)
	require.NotNil(t, wps[1].LastErrorTime)
	assert.True(t, wps[0].SeverityScore > wps[1].SeverityScore)
	assert.Equal(t, []string{}, wps[0].PrerequisiteKnowledge)
}

func TestWeakPoints_DecayFavoursRecentSuccess(t *testing.T) {
	ev := []Evidence{
		{Name: "方程", Subject: "math", At: daysAgo(60), Errors: 3, Attempts: 3},
		{Name: "方程", Subject: "math", At: now, Errors: 0, Attempts: 2},
	}
	assert.Empty(t, WeakPoints(ev, now, lexicon.Default()), "0.6 unweighted but 0.13 decayed")
	assert.InDelta(t, 0.87, ComputedMastery(ev, now)["方程"], 0.01)
}

func TestWeakPoints_CapsAtTwenty(t *testing.T) {
	var ev []Evidence
	for i := 0; i < 25; i++ {
		ev = append(ev, Evidence{Name: fmt.Sprintf("kp-%02d", i), At: now, Errors: i%5 + 1, Attempts: i%5 + 1})
	}
	wps := WeakPoints(ev, now, lexicon.Default())
	assert.Len(t, wps, MaxWeakPoints)
	for i := 1; i < len(wps); i++ {
		assert.GreaterOrEqual(t, wps[i-1].SeverityScore, wps[i].SeverityScore)
	}
}

func TestPaceAndLevelBoundaries(t *testing.T) {
	cases := []struct {
		total int
		pace  string
		focus int
		level string
	}{
		{0, PaceSlow, 20, LevelBeginner},
		{9, PaceSlow, 20, LevelBeginner},
		{10, PaceMedium, 30, LevelBeginner},
		{21, PaceMedium, 30, LevelIntermediate},
		{50, PaceMedium, 30, LevelIntermediate},
		{51, PaceFast, 45, LevelIntermediate},
		{100, PaceFast, 45, LevelIntermediate},
		{101, PaceFast, 45, LevelAdvanced},
	}
	for _, c := range cases {
		pace, focus := Pace(c.total)
		assert.Equal(t, c.pace, pace, "pace(%d)", c.total)
		assert.Equal(t, c.focus, focus, "focus(%d)", c.total)
		assert.Equal(t, c.level, Level(c.total), "level(%d)", c.total)
	}
}

func question(subject, content string, at time.Time, images bool) domain.Question {
	q := domain.Question{Content: content, CreatedAt: at, HasImages: images}
	if subject != "" {
		q.Subject = &subject
	}
	return q
}

func TestQuestionEvidence(t *testing.T) {
	lex := lexicon.Default()
	qs := []domain.Question{
		question("math", "这个函数怎么求导？", now, false),
		question("math", "方程的定义", now, false),
		question("physics", "函数是什么", now, false),
		question("", "牛顿定律不懂", now, false),
	}
	ev := QuestionEvidence(qs, "math", lex)
	require.Len(t, ev, 2)
	assert.Equal(t, Evidence{Name: "函数", Subject: "math", At: now, Errors: 1, Attempts: 1}, ev[0])
	assert.Equal(t, 0, ev[1].Errors)

	all := QuestionEvidence(qs, "", lex)
	names := []string{}
	for _, e := range all {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "牛顿定律")
}

func TestBuildPreferencesAndSummary(t *testing.T) {
	qs := []domain.Question{
		question("math", "a", now.Add(-time.Hour), true),
		question("math", "b", daysAgo(1), true),
		question("physics", "c", daysAgo(3), false),
		question("", "d", daysAgo(40), false),
	}
	subs := []domain.HomeworkSubmission{
		{Homework: domain.Homework{DifficultyLevel: 4}},
		{Homework: domain.Homework{DifficultyLevel: 2}},
		{Homework: domain.Homework{DifficultyLevel: 5}},
	}

	p := BuildPreferences(qs, subs, 4)
	assert.Equal(t, PaceSlow, p.LearningPace)
	assert.Equal(t, 20, p.FocusDurationMin)
	assert.InDelta(t, 0.667, p.ActiveSubjects["math"], 1e-3)
	assert.InDelta(t, 0.333, p.ActiveSubjects["physics"], 1e-3)
	assert.Len(t, p.TimePreference, 24)
	assert.Equal(t, 1, p.TimePreference["9"])
	assert.Equal(t, 3, p.TimePreference["10"])
	assert.Equal(t, "visual", p.InteractionPreference)
	assert.InDelta(t, 0.667, p.DifficultyPreference["hard"], 1e-3)

	s := BuildSummary(qs, 4, p.ActiveSubjects, now)
	assert.Equal(t, 20, s.TotalStudyTimeMin)
	assert.Equal(t, 3, s.RecentActivityDays)
	assert.Equal(t, 2, s.LearningStreakDays)
	assert.Equal(t, "math", s.DominantSubject)
	assert.Equal(t, LevelBeginner, s.CurrentLevel)
}

func TestBuildPreferences_Empty(t *testing.T) {
	p := BuildPreferences(nil, nil, 0)
	assert.Empty(t, p.ActiveSubjects)
	assert.Equal(t, map[string]float64{"medium": 1}, p.DifficultyPreference)
	assert.Equal(t, "text", p.InteractionPreference)

	s := BuildSummary(nil, 0, nil, now)
	assert.Equal(t, Summary{CurrentLevel: LevelBeginner}, s)
}

func TestRecentErrors_HomeworkOnly(t *testing.T) {
	ms := []domain.MistakeRecord{
		{ID: "1", Title: "qa", SourceKind: domain.SourceQA},
		{ID: "2", Title: "hw", SourceKind: domain.SourceHomework, KnowledgePoints: []domain.MistakeKnowledgePoint{{KnowledgePoint: "方程"}}},
	}
	assert.Len(t, RecentErrors(ms, SessionLearning, 0), 2)
	hw := RecentErrors(ms, SessionHomework, 0)
	require.Len(t, hw, 1)
	assert.Equal(t, []string{"方程"}, hw[0].KnowledgePoints)
	assert.Len(t, RecentErrors(ms, SessionLearning, 1), 1)
}
