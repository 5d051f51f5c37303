// Package learning derives a student's personalization context from durable
// history: weak knowledge points, learning preferences, a summary of recent
// activity, and knowledge mastery.
package learning

import (
	"time"

	"github.com/google/uuid"
)

// SessionType selects what the context is built for.
type SessionType string

const (
	SessionLearning SessionType = "learning"
	SessionHomework SessionType = "homework"
)

// ParseSessionType defaults to SessionLearning.
func ParseSessionType(s string) SessionType {
	if SessionType(s) == SessionHomework {
		return SessionHomework
	}
	return SessionLearning
}

// Pace buckets.
const (
	PaceSlow   = "slow"
	PaceMedium = "medium"
	PaceFast   = "fast"
)

// Level buckets.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// WeakPoint is a knowledge point whose decayed error rate is at least
// WeakThreshold.
type WeakPoint struct {
	KnowledgeID           string     `json:"knowledge_id"`
	KnowledgeName         string     `json:"knowledge_name"`
	Subject               string     `json:"subject"`
	ErrorRate             float64    `json:"error_rate"`
	ErrorCount            int        `json:"error_count"`
	TotalCount            int        `json:"total_count"`
	LastErrorTime         *time.Time `json:"last_error_time,omitempty"`
	SeverityScore         float64    `json:"severity_score"`
	PrerequisiteKnowledge []string   `json:"prerequisite_knowledge"`
}

type Preferences struct {
	ActiveSubjects        map[string]float64 `json:"active_subjects"`
	DifficultyPreference  map[string]float64 `json:"difficulty_preference"`
	TimePreference        map[string]int     `json:"time_preference"`
	InteractionPreference string             `json:"interaction_preference"`
	LearningPace          string             `json:"learning_pace"`
	FocusDurationMin      int                `json:"focus_duration_min"`
}

type Summary struct {
	TotalQuestions     int    `json:"total_questions"`
	TotalStudyTimeMin  int    `json:"total_study_time_min"`
	RecentActivityDays int    `json:"recent_activity_days"`
	DominantSubject    string `json:"dominant_subject"`
	CurrentLevel       string `json:"current_level"`
	LearningStreakDays int    `json:"learning_streak_days"`
}

// RecentError is one mistake-book entry from the last 30 days.
type RecentError struct {
	MistakeID       string    `json:"mistake_id"`
	Title           string    `json:"title"`
	Subject         string    `json:"subject,omitempty"`
	Source          string    `json:"source"`
	KnowledgePoints []string  `json:"knowledge_points,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type StudyPatterns struct {
	PeakHour                 int     `json:"peak_hour"`
	QuestionsLast7Days       int     `json:"questions_last_7_days"`
	AvgQuestionsPerActiveDay float64 `json:"avg_questions_per_active_day"`
	ImageQuestionRatio       float64 `json:"image_question_ratio"`
}

// Context is the personalization context handed to the prompt composer.
type Context struct {
	UserID              string             `json:"user_id"`
	Subject             string             `json:"subject,omitempty"`
	SessionType         SessionType        `json:"session_type"`
	GeneratedAt         time.Time          `json:"generated_at"`
	WeakKnowledgePoints []WeakPoint        `json:"weak_knowledge_points"`
	LearningPreferences Preferences        `json:"learning_preferences"`
	ContextSummary      Summary            `json:"context_summary"`
	KnowledgeMastery    map[string]float64 `json:"knowledge_mastery"`
	MasterySource       string             `json:"mastery_source"`
	RecentErrors        []RecentError      `json:"recent_errors"`
	StudyPatterns       StudyPatterns      `json:"study_patterns"`
}

// WeakNames returns the names of the first n weak points.
func (c *Context) WeakNames(n int) []string {
	if c == nil {
		return nil
	}
	var out []string
	for i, w := range c.WeakKnowledgePoints {
		if n > 0 && i >= n {
			break
		}
		out = append(out, w.KnowledgeName)
	}
	return out
}

var knowledgeNS = uuid.MustParse("6f1c3f0e-8d0a-4f5e-9b7a-2c4d1e0f9a11")

// KnowledgeID is stable for a (subject, name) pair.
func KnowledgeID(subject, name string) string {
	return uuid.NewSHA1(knowledgeNS, []byte(subject+"/"+name)).String()
}

// DefaultPreferences is used when preference inputs cannot be loaded.
func DefaultPreferences() Preferences {
	return Preferences{
		ActiveSubjects:        map[string]float64{},
		DifficultyPreference:  map[string]float64{"medium": 1},
		TimePreference:        emptyHours(),
		InteractionPreference: "text",
		LearningPace:          PaceMedium,
		FocusDurationMin:      30,
	}
}

// DefaultSummary is used when summary inputs cannot be loaded.
func DefaultSummary() Summary {
	return Summary{CurrentLevel: LevelBeginner}
}
