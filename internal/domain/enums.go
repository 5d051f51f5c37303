package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Enumerations are persisted as their string value. Unknown values read back
// from the store (or received from an upstream model) degrade to the "other"
// sentinel of the enum instead of failing the read.

// Other is the shared sentinel value for every enum in this package.
const Other = "other"

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleParent  UserRole = "parent"
	RoleAdmin   UserRole = "admin"
	RoleOther   UserRole = Other
)

type GradeLevel string

const (
	GradePrimary1 GradeLevel = "primary_1"
	GradePrimary2 GradeLevel = "primary_2"
	GradePrimary3 GradeLevel = "primary_3"
	GradePrimary4 GradeLevel = "primary_4"
	GradePrimary5 GradeLevel = "primary_5"
	GradePrimary6 GradeLevel = "primary_6"
	GradeJunior1  GradeLevel = "junior_1"
	GradeJunior2  GradeLevel = "junior_2"
	GradeJunior3  GradeLevel = "junior_3"
	GradeSenior1  GradeLevel = "senior_1"
	GradeSenior2  GradeLevel = "senior_2"
	GradeSenior3  GradeLevel = "senior_3"
	GradeOther    GradeLevel = Other
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionClosed   SessionStatus = "closed"
	SessionArchived SessionStatus = "archived"
	SessionOther    SessionStatus = Other
)

// CanTransition reports whether a session may move from s to next.
// Allowed: active→closed, active→archived, closed→archived.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch next {
	case SessionClosed:
		return s == SessionActive
	case SessionArchived:
		return s == SessionActive || s == SessionClosed
	}
	return false
}

type QuestionType string

const (
	QuestionConcept        QuestionType = "concept"
	QuestionProblemSolving QuestionType = "problem_solving"
	QuestionStudyGuidance  QuestionType = "study_guidance"
	QuestionHomeworkHelp   QuestionType = "homework_help"
	QuestionExamPrep       QuestionType = "exam_preparation"
	QuestionGeneralInquiry QuestionType = "general_inquiry"
	QuestionOther          QuestionType = Other
)

type SourceKind string

const (
	SourceHomework SourceKind = "homework"
	SourceQA       SourceKind = "qa"
	SourceManual   SourceKind = "manual"
	SourceOther    SourceKind = Other
)

type ReviewResult string

const (
	ReviewCorrect   ReviewResult = "correct"
	ReviewPartial   ReviewResult = "partial"
	ReviewIncorrect ReviewResult = "incorrect"
	ReviewOther     ReviewResult = Other
)

type SubmissionStatus string

const (
	SubmissionUploaded   SubmissionStatus = "uploaded"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionReviewed   SubmissionStatus = "reviewed"
	SubmissionFailed     SubmissionStatus = "failed"
	SubmissionArchived   SubmissionStatus = "archived"
	SubmissionOther      SubmissionStatus = Other
)

// ItemType is the per-question type reported in a correction result.
type ItemType string

const (
	ItemChoice      ItemType = "choice"
	ItemFill        ItemType = "fill"
	ItemSolve       ItemType = "solve"
	ItemShortAnswer ItemType = "short_answer"
	ItemOther       ItemType = Other
)

// ErrorType classifies a wrong correction item.
type ErrorType string

const (
	ErrorCalculation ErrorType = "calculation"
	ErrorConcept     ErrorType = "concept"
	ErrorCareless    ErrorType = "careless"
	ErrorUnit        ErrorType = "unit"
	ErrorLogic       ErrorType = "logic"
	ErrorOther       ErrorType = Other
)

var (
	userRoles = set(RoleStudent, RoleTeacher, RoleParent, RoleAdmin)
	grades    = set(GradePrimary1, GradePrimary2, GradePrimary3, GradePrimary4, GradePrimary5, GradePrimary6,
		GradeJunior1, GradeJunior2, GradeJunior3, GradeSenior1, GradeSenior2, GradeSenior3)
	sessionStatuses    = set(SessionActive, SessionClosed, SessionArchived)
	questionTypes      = set(QuestionConcept, QuestionProblemSolving, QuestionStudyGuidance, QuestionHomeworkHelp, QuestionExamPrep, QuestionGeneralInquiry)
	sourceKinds        = set(SourceHomework, SourceQA, SourceManual)
	reviewResults      = set(ReviewCorrect, ReviewPartial, ReviewIncorrect)
	submissionStatuses = set(SubmissionUploaded, SubmissionProcessing, SubmissionReviewed, SubmissionFailed, SubmissionArchived)
	itemTypes          = set(ItemChoice, ItemFill, ItemSolve, ItemShortAnswer)
	errorTypes         = set(ErrorCalculation, ErrorConcept, ErrorCareless, ErrorUnit, ErrorLogic)
)

func set[T ~string](vs ...T) map[T]struct{} {
	m := make(map[T]struct{}, len(vs)+1)
	for _, v := range vs {
		m[v] = struct{}{}
	}
	m[T(Other)] = struct{}{}
	return m
}

// parseEnum normalizes raw and reports whether it is a known member (the
// sentinel counts as known). Unknown input yields the sentinel.
func parseEnum[T ~string](raw string, known map[T]struct{}) (T, bool) {
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := known[v]; ok {
		return v, true
	}
	return T(Other), false
}

func scanEnum[T ~string](dst *T, value any, known map[T]struct{}) error {
	var raw string
	switch v := value.(type) {
	case nil:
		raw = ""
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into enum", value)
	}
	*dst, _ = parseEnum(raw, known)
	return nil
}

func ParseUserRole(s string) (UserRole, bool)             { return parseEnum(s, userRoles) }
func ParseGradeLevel(s string) (GradeLevel, bool)         { return parseEnum(s, grades) }
func ParseSessionStatus(s string) (SessionStatus, bool)   { return parseEnum(s, sessionStatuses) }
func ParseQuestionType(s string) (QuestionType, bool)     { return parseEnum(s, questionTypes) }
func ParseSourceKind(s string) (SourceKind, bool)         { return parseEnum(s, sourceKinds) }
func ParseReviewResult(s string) (ReviewResult, bool)     { return parseEnum(s, reviewResults) }
func ParseSubmissionStatus(s string) (SubmissionStatus, bool) {
	return parseEnum(s, submissionStatuses)
}
func ParseItemType(s string) (ItemType, bool)   { return parseEnum(s, itemTypes) }
func ParseErrorType(s string) (ErrorType, bool) { return parseEnum(s, errorTypes) }

func (e *UserRole) Scan(v any) error         { return scanEnum(e, v, userRoles) }
func (e *GradeLevel) Scan(v any) error       { return scanEnum(e, v, grades) }
func (e *SessionStatus) Scan(v any) error    { return scanEnum(e, v, sessionStatuses) }
func (e *QuestionType) Scan(v any) error     { return scanEnum(e, v, questionTypes) }
func (e *SourceKind) Scan(v any) error       { return scanEnum(e, v, sourceKinds) }
func (e *ReviewResult) Scan(v any) error     { return scanEnum(e, v, reviewResults) }
func (e *SubmissionStatus) Scan(v any) error { return scanEnum(e, v, submissionStatuses) }

func (e UserRole) Value() (driver.Value, error)         { return string(e), nil }
func (e GradeLevel) Value() (driver.Value, error)       { return string(e), nil }
func (e SessionStatus) Value() (driver.Value, error)    { return string(e), nil }
func (e QuestionType) Value() (driver.Value, error)     { return string(e), nil }
func (e SourceKind) Value() (driver.Value, error)       { return string(e), nil }
func (e ReviewResult) Value() (driver.Value, error)     { return string(e), nil }
func (e SubmissionStatus) Value() (driver.Value, error) { return string(e), nil }
