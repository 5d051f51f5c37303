package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Relevance defaults for knowledge points attached to a correction item.
const (
	DefaultRelevance    = 0.7
	NameOnlyRelevance   = 0.6
	MaxKnowledgePoints  = 3
	MaxSuggestionsSaved = 5
)

// CorrectionResult is the structured output of a homework correction.
type CorrectionResult struct {
	TotalQuestions  int              `json:"total_questions"`
	UnansweredCount int              `json:"unanswered_count"`
	ErrorCount      int              `json:"error_count"`
	OverallScore    float64          `json:"overall_score"`
	Summary         string           `json:"summary"`
	Corrections     []CorrectionItem `json:"corrections"`
	ConfidenceScore float64          `json:"confidence_score"`
	ModelVersion    string           `json:"model_version"`
	Suggestions     []string         `json:"improvement_suggestions,omitempty"`
}

// CorrectionItem is one graded question of a CorrectionResult.
type CorrectionItem struct {
	QuestionNumber  int                 `json:"question_number"`
	QuestionType    ItemType            `json:"question_type"`
	StudentAnswer   *string             `json:"student_answer"`
	CorrectAnswer   string              `json:"correct_answer"`
	IsUnanswered    bool                `json:"is_unanswered"`
	ErrorType       *ErrorType          `json:"error_type"`
	Score           float64             `json:"score"`
	Comment         string              `json:"comment"`
	KnowledgePoints []KnowledgePointRef `json:"knowledge_points"`
}

// KnowledgePointRef is either a bare name or {name, relevance}. A bare name
// keeps its form when re-encoded.
type KnowledgePointRef struct {
	Name      string
	Relevance float64
	NameOnly  bool
}

func (k KnowledgePointRef) MarshalJSON() ([]byte, error) {
	if k.NameOnly {
		return json.Marshal(k.Name)
	}
	return json.Marshal(struct {
		Name      string  `json:"name"`
		Relevance float64 `json:"relevance"`
	}{k.Name, k.Relevance})
}

func (k *KnowledgePointRef) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*k = KnowledgePointRef{Name: strings.TrimSpace(name), Relevance: NameOnlyRelevance, NameOnly: true}
		return nil
	}
	var obj struct {
		Name      string   `json:"name"`
		Relevance *float64 `json:"relevance"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("knowledge point: %w", err)
	}
	rel := DefaultRelevance
	if obj.Relevance != nil {
		rel = *obj.Relevance
	}
	*k = KnowledgePointRef{Name: strings.TrimSpace(obj.Name), Relevance: rel}
	return nil
}

func (t *ItemType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t, _ = ParseItemType(s)
	return nil
}

func (t *ErrorType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t, _ = ParseErrorType(s)
	return nil
}

// InvariantError lists every rule a correction result broke.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	return "correction invariants violated: " + strings.Join(e.Violations, "; ")
}

// ErrInvariant matches any *InvariantError via errors.Is.
var ErrInvariant = errors.New("correction invariant")

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// Validate checks the cross-field rules of a correction result.
func (r CorrectionResult) Validate() error {
	var v []string
	add := func(format string, args ...any) { v = append(v, fmt.Sprintf(format, args...)) }

	if r.TotalQuestions < 0 {
		add("total_questions < 0")
	}
	if len(r.Corrections) != r.TotalQuestions {
		add("corrections has %d items, total_questions is %d", len(r.Corrections), r.TotalQuestions)
	}
	unanswered, errs := 0, 0
	for i, it := range r.Corrections {
		if it.IsUnanswered {
			unanswered++
		}
		if it.ErrorType != nil {
			errs++
		}
		if err := it.validate(r.TotalQuestions); err != nil {
			add("item %d: %v", i+1, err)
		}
	}
	if r.UnansweredCount != unanswered {
		add("unanswered_count %d != %d unanswered items", r.UnansweredCount, unanswered)
	}
	if r.ErrorCount != errs {
		add("error_count %d != %d items with error_type", r.ErrorCount, errs)
	}
	if bad(r.OverallScore) || r.OverallScore < 0 || r.OverallScore > 100 {
		add("overall_score out of [0,100]")
	}
	if bad(r.ConfidenceScore) || r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		add("confidence_score out of [0,1]")
	}
	if len(v) > 0 {
		return &InvariantError{Violations: v}
	}
	return nil
}

// validate checks one item; total <= 0 skips the question_number bound.
func (it CorrectionItem) validate(total int) error {
	switch {
	case it.QuestionNumber < 1:
		return errors.New("question_number < 1")
	case total > 0 && it.QuestionNumber > total:
		return errors.New("question_number exceeds total_questions")
	case bad(it.Score) || it.Score < 0 || it.Score > 100:
		return errors.New("score out of [0,100]")
	case it.IsUnanswered && it.Score != 0:
		return errors.New("unanswered item must score 0")
	case !it.IsUnanswered && it.ErrorType == nil && it.Score <= 0:
		return errors.New("correct item must score above 0")
	case len(it.KnowledgePoints) > MaxKnowledgePoints:
		return errors.New("more than 3 knowledge points")
	}
	for _, kp := range it.KnowledgePoints {
		if kp.Name == "" {
			return errors.New("empty knowledge point name")
		}
	}
	return nil
}

func bad(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }

// NeedsMistake reports whether the item should become a mistake record.
func (it CorrectionItem) NeedsMistake() bool {
	return it.IsUnanswered || it.ErrorType != nil
}

// Normalize clears student_answer on unanswered items.
func (r *CorrectionResult) Normalize() {
	for i := range r.Corrections {
		if r.Corrections[i].IsUnanswered {
			r.Corrections[i].StudentAnswer = nil
		}
	}
}

// Accuracy is (total - errors - unanswered) / total. ok is false when the
// result has no questions.
func (r CorrectionResult) Accuracy() (float64, bool) {
	if r.TotalQuestions <= 0 {
		return 0, false
	}
	right := r.TotalQuestions - r.ErrorCount - r.UnansweredCount
	if right < 0 {
		right = 0
	}
	return float64(right) / float64(r.TotalQuestions), true
}

// KnowledgeStats aggregates knowledge points across items in order of first
// appearance. An item counts as an error when it needs a mistake record.
func (r CorrectionResult) KnowledgeStats() []KnowledgeStat {
	idx := map[string]int{}
	var out []KnowledgeStat
	for _, it := range r.Corrections {
		for _, kp := range it.KnowledgePoints {
			i, ok := idx[kp.Name]
			if !ok {
				i = len(out)
				idx[kp.Name] = i
				out = append(out, KnowledgeStat{Name: kp.Name})
			}
			out[i].TotalCount++
			if it.NeedsMistake() {
				out[i].ErrorCount++
			}
		}
	}
	return out
}

// TopSuggestions returns up to n non-empty suggestions.
func (r CorrectionResult) TopSuggestions(n int) []string {
	out := make([]string, 0, n)
	for _, s := range r.Suggestions {
		if s = strings.TrimSpace(s); s != "" && len(out) < n {
			out = append(out, s)
		}
	}
	return out
}
