// Package domain defines the persistence models of the tutoring backend:
// users, chat sessions with their question/answer turns, homework
// submissions, mistake records with their review history, and knowledge
// snapshots. These types are mapped with GORM and shared by the repository
// and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultSessionTitle is the placeholder title of a fresh session. Only a
// session still carrying exactly this title is eligible for auto-titling.
const DefaultSessionTitle = "新对话"

// User is a learner (or, rarely, a teacher/parent/admin) account.
//
// Fields:
//   - Phone: unique login phone; never rewritten by external-account binding.
//   - PasswordHash: "salt:pbkdf2" for new accounts, bcrypt for legacy ones.
//   - OpenID / UnionID: optional external account pair (unique when present).
type User struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	Phone        *string    `json:"phone,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	DisplayName  string     `json:"display_name"  gorm:"type:varchar(64);not null;default:''"`
	Role         UserRole   `json:"role"          gorm:"type:varchar(16);not null;default:'student'"`
	GradeLevel   GradeLevel `json:"grade_level"   gorm:"type:varchar(16);not null;default:'other'"`
	PasswordHash string     `json:"-"             gorm:"type:varchar(255);not null;default:''"`
	IsActive     bool       `json:"is_active"     gorm:"not null;default:true"`
	IsVerified   bool       `json:"is_verified"   gorm:"not null;default:false"`
	LoginCount   int        `json:"login_count"   gorm:"not null;default:0"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	OpenID       *string    `json:"-"             gorm:"type:varchar(64);uniqueIndex"`
	UnionID      *string    `json:"-"             gorm:"type:varchar(64);index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// ChatSession is a user-scoped container of tutoring turns.
//
// QuestionCount and TotalTokens are only ever changed through a single
// "SET x = COALESCE(x,0)+?" statement (see repo.IncrementSessionCounters).
type ChatSession struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID         string         `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_sessions,priority:1"`
	Title          string         `json:"title"           gorm:"type:varchar(255);not null;default:'新对话'"`
	Subject        *string        `json:"subject,omitempty" gorm:"type:varchar(32);index"`
	Status         SessionStatus  `json:"status"          gorm:"type:varchar(16);not null;default:'active';index"`
	QuestionCount  int64          `json:"question_count"  gorm:"not null;default:0"`
	TotalTokens    int64          `json:"total_tokens"    gorm:"not null;default:0"`
	ContextEnabled bool           `json:"context_enabled" gorm:"not null;default:true"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_user_sessions,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// Question is the user half of a turn. HasImages is true iff ImageURLs holds
// a non-empty JSON array.
type Question struct {
	ID               string         `json:"id"               gorm:"type:char(36);primaryKey"`
	SessionID        string         `json:"session_id"       gorm:"type:char(36);not null;index:idx_session_questions,priority:1"`
	UserID           string         `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	Content          string         `json:"content"          gorm:"type:text;not null"`
	QuestionType     QuestionType   `json:"question_type"    gorm:"type:varchar(32);not null;default:'general_inquiry'"`
	Subject          *string        `json:"subject,omitempty" gorm:"type:varchar(32);index"`
	Topic            *string        `json:"topic,omitempty"  gorm:"type:varchar(128)"`
	DifficultyLevel  *int           `json:"difficulty_level,omitempty" gorm:"check:difficulty_level IS NULL OR (difficulty_level BETWEEN 1 AND 5)"`
	HasImages        bool           `json:"has_images"       gorm:"not null;default:false"`
	ImageURLs        datatypes.JSON `json:"image_urls"`
	ContextData      datatypes.JSON `json:"context_data,omitempty"`
	IsProcessed      bool           `json:"is_processed"     gorm:"not null;default:false"`
	ProcessingTimeMs int64          `json:"processing_time_ms" gorm:"not null;default:0"`
	CreatedAt        time.Time      `json:"created_at"       gorm:"index:idx_session_questions,priority:2"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// Session owns the question; questions are cascade-deleted with it.
	Session ChatSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// Answer is loaded on demand for history views and is cascade-deleted
	// with the question.
	Answer *Answer `json:"answer,omitempty" gorm:"foreignKey:QuestionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Question.
func (Question) TableName() string { return "questions" }

// Answer is the assistant half of a turn. At most one Answer exists per
// Question (unique index on question_id).
type Answer struct {
	ID                 string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	QuestionID         string         `json:"question_id"        gorm:"type:char(36);not null;uniqueIndex"`
	Content            string         `json:"content"            gorm:"type:text;not null"`
	ModelName          string         `json:"model_name"         gorm:"type:varchar(128);not null;default:''"`
	TokensUsed         int            `json:"tokens_used"        gorm:"not null;default:0"`
	GenerationTimeMs   int64          `json:"generation_time_ms" gorm:"not null;default:0"`
	ConfidenceScore    *int           `json:"confidence_score,omitempty" gorm:"check:confidence_score IS NULL OR (confidence_score BETWEEN 0 AND 100)"`
	FeedbackRating     *int           `json:"feedback_rating,omitempty"  gorm:"check:feedback_rating IS NULL OR (feedback_rating BETWEEN 1 AND 5)"`
	IsHelpful          *bool          `json:"is_helpful,omitempty"`
	FeedbackText       *string        `json:"feedback_text,omitempty"    gorm:"type:text"`
	FeedbackAt         *time.Time     `json:"feedback_at,omitempty"`
	RelatedTopics      datatypes.JSON `json:"related_topics,omitempty"`
	SuggestedQuestions datatypes.JSON `json:"suggested_questions,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Answer.
func (Answer) TableName() string { return "answers" }

// Homework is an assignment template that submissions reference.
type Homework struct {
	ID              string     `json:"id"               gorm:"type:char(36);primaryKey"`
	Title           string     `json:"title"            gorm:"type:varchar(255);not null"`
	Subject         string     `json:"subject"          gorm:"type:varchar(32);not null;default:''"`
	GradeLevel      GradeLevel `json:"grade_level"      gorm:"type:varchar(16);not null;default:'other'"`
	DifficultyLevel int        `json:"difficulty_level" gorm:"not null;default:3"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Homework.
func (Homework) TableName() string { return "homework" }

// HomeworkSubmission is one student's upload of a homework.
//
// Lifecycle: uploaded → processing → reviewed; any state → failed on a
// terminal error; reviewed → archived by policy.
type HomeworkSubmission struct {
	ID                     string           `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID                 string           `json:"user_id"     gorm:"type:varchar(64);not null;index"`
	HomeworkID             string           `json:"homework_id" gorm:"type:char(36);not null;index"`
	Images                 datatypes.JSON   `json:"images"`
	Status                 SubmissionStatus `json:"status"      gorm:"type:varchar(16);not null;default:'uploaded';index"`
	TotalScore             *float64         `json:"total_score,omitempty"`
	AccuracyRate           *float64         `json:"accuracy_rate,omitempty"`
	AIReviewData           datatypes.JSON   `json:"ai_review_data,omitempty"`
	WeakKnowledgePoints    datatypes.JSON   `json:"weak_knowledge_points,omitempty"`
	ImprovementSuggestions datatypes.JSON   `json:"improvement_suggestions,omitempty"`
	ErrorMessage           *string          `json:"error_message,omitempty" gorm:"type:text"`
	ProcessedAt            *time.Time       `json:"processed_at,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`

	Homework Homework        `json:"-" gorm:"foreignKey:HomeworkID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Pages    []HomeworkImage `json:"pages,omitempty" gorm:"foreignKey:SubmissionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for HomeworkSubmission.
func (HomeworkSubmission) TableName() string { return "homework_submissions" }

// HomeworkImage is one page of a submission together with its OCR outcome.
type HomeworkImage struct {
	ID               string    `json:"id"             gorm:"type:char(36);primaryKey"`
	SubmissionID     string    `json:"submission_id"  gorm:"type:char(36);not null;index"`
	Position         int       `json:"position"       gorm:"not null;default:0"`
	URL              string    `json:"url"            gorm:"type:text;not null"`
	OCRText          string    `json:"ocr_text"       gorm:"type:text;not null;default:''"`
	OCRConfidence    *float64  `json:"ocr_confidence,omitempty"`
	OCRKind          string    `json:"ocr_kind"       gorm:"type:varchar(16);not null;default:''"`
	OCRError         *string   `json:"ocr_error,omitempty" gorm:"type:text"`
	ProcessingTimeMs int64     `json:"processing_time_ms" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for HomeworkImage.
func (HomeworkImage) TableName() string { return "homework_images" }

// MistakeRecord is an entry in a student's mistake book.
//
// MasteryLevel is always the rolling-window mastery over the latest five
// reviews; IsMastered implies MasteryLevel >= 0.9 and ConsecutiveCorrect >= 3.
// The unique index on (user_id, source_kind, source_id, question_number)
// keeps re-corrections of the same source from duplicating records.
type MistakeRecord struct {
	ID                 string         `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID             string         `json:"user_id"        gorm:"type:varchar(64);not null;index;uniqueIndex:ux_mistake_source,priority:1"`
	Subject            *string        `json:"subject,omitempty" gorm:"type:varchar(32);index"`
	Title              string         `json:"title"          gorm:"type:varchar(255);not null"`
	SourceKind         SourceKind     `json:"source_kind"    gorm:"type:varchar(16);not null;uniqueIndex:ux_mistake_source,priority:2"`
	SourceID           *string        `json:"source_id,omitempty" gorm:"type:char(36);uniqueIndex:ux_mistake_source,priority:3"`
	QuestionNumber     int            `json:"question_number" gorm:"not null;default:0;uniqueIndex:ux_mistake_source,priority:4"`
	OCRText            *string        `json:"ocr_text,omitempty" gorm:"type:text"`
	AIFeedback         datatypes.JSON `json:"ai_feedback,omitempty"`
	ReviewCount        int            `json:"review_count"   gorm:"not null;default:0;check:review_count >= 0"`
	MasteryLevel       float64        `json:"mastery_level"  gorm:"not null;default:0"`
	ConsecutiveCorrect int            `json:"consecutive_correct" gorm:"not null;default:0;check:consecutive_correct >= 0"`
	NextReviewAt       *time.Time     `json:"next_review_at,omitempty" gorm:"index"`
	LastReviewedAt     *time.Time     `json:"last_reviewed_at,omitempty"`
	IsMastered         bool           `json:"is_mastered"    gorm:"not null;default:false;index"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	KnowledgePoints []MistakeKnowledgePoint `json:"knowledge_points,omitempty" gorm:"foreignKey:MistakeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MistakeRecord.
func (MistakeRecord) TableName() string { return "mistake_records" }

// MistakeReview is an append-only review outcome of a mistake record.
type MistakeReview struct {
	ID           string       `json:"id"            gorm:"type:char(36);primaryKey"`
	MistakeID    string       `json:"mistake_id"    gorm:"type:char(36);not null;index:idx_mistake_reviews,priority:1"`
	ReviewDate   time.Time    `json:"review_date"   gorm:"not null;index:idx_mistake_reviews,priority:2"`
	ReviewResult ReviewResult `json:"review_result" gorm:"type:varchar(16);not null"`
	MasteryAfter float64      `json:"mastery_after" gorm:"not null;default:0"`
	IntervalDays int          `json:"interval_days" gorm:"not null;default:1"`
	CreatedAt    time.Time    `json:"created_at"`

	Mistake *MistakeRecord `json:"-" gorm:"foreignKey:MistakeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MistakeReview.
func (MistakeReview) TableName() string { return "mistake_reviews" }

// MistakeKnowledgePoint links a mistake record to a knowledge-point name.
type MistakeKnowledgePoint struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	MistakeID      string    `json:"mistake_id"      gorm:"type:char(36);not null;uniqueIndex:ux_mistake_kp,priority:1"`
	KnowledgePoint string    `json:"knowledge_point" gorm:"type:varchar(128);not null;uniqueIndex:ux_mistake_kp,priority:2;index"`
	Relevance      float64   `json:"relevance"       gorm:"not null;default:0.7"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for MistakeKnowledgePoint.
func (MistakeKnowledgePoint) TableName() string { return "mistake_knowledge_points" }

// UserKnowledgeGraphSnapshot is a periodically refreshed summary of a user's
// knowledge mastery. KnowledgePoints holds a JSON array of {name, mastery}.
type UserKnowledgeGraphSnapshot struct {
	ID              string         `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID          string         `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_snapshots,priority:1"`
	SnapshotDate    time.Time      `json:"snapshot_date" gorm:"not null;index:idx_user_snapshots,priority:2"`
	Subject         *string        `json:"subject,omitempty" gorm:"type:varchar(32)"`
	PeriodType      string         `json:"period_type"   gorm:"type:varchar(16);not null;default:'weekly'"`
	KnowledgePoints datatypes.JSON `json:"knowledge_points,omitempty"`
	GraphData       datatypes.JSON `json:"graph_data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName returns the database table name for UserKnowledgeGraphSnapshot.
func (UserKnowledgeGraphSnapshot) TableName() string { return "user_knowledge_graph_snapshots" }

// All lists every persisted model, in dependency order, for migrations.
func All() []any {
	return []any{
		&User{},
		&ChatSession{},
		&Question{},
		&Answer{},
		&Homework{},
		&HomeworkSubmission{},
		&HomeworkImage{},
		&MistakeRecord{},
		&MistakeReview{},
		&MistakeKnowledgePoint{},
		&UserKnowledgeGraphSnapshot{},
		&Idempotency{},
	}
}
