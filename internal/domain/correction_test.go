package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const sampleCorrection = `{
  "total_questions": 3,
  "unanswered_count": 1,
  "error_count": 1,
  "overall_score": 40,
  "summary": "基础还需巩固",
  "corrections": [
    {"question_number": 1, "question_type": "choice", "student_answer": "A", "correct_answer": "A",
     "is_unanswered": false, "error_type": null, "score": 100, "comment": "正确", "knowledge_points": ["函数"]},
    {"question_number": 2, "question_type": "solve", "student_answer": "x=3", "correct_answer": "x=2",
     "is_unanswered": false, "error_type": "calculation", "score": 20, "comment": "移项时符号出错",
     "knowledge_points": [{"name": "方程", "relevance": 0.9}, "代数"]},
    {"question_number": 3, "question_type": "essay", "student_answer": null, "correct_answer": "12",
     "is_unanswered": true, "error_type": null, "score": 0, "comment": "未作答", "knowledge_points": [{"name": "几何"}]}
  ],
  "confidence_score": 0.85,
  "model_version": "m-1"
}`

func TestCorrection_ParseValidateAndDerive(t *testing.T) {
	var r CorrectionResult
	if err := json.Unmarshal([]byte(sampleCorrection), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Corrections[2].QuestionType != ItemOther {
		t.Fatalf("unknown question_type = %q; want other", r.Corrections[2].QuestionType)
	}
	kps := r.Corrections[1].KnowledgePoints
	if kps[0].Relevance != 0.9 || kps[1].Relevance != NameOnlyRelevance || !kps[1].NameOnly {
		t.Fatalf("knowledge points = %+v", kps)
	}
	if r.Corrections[2].KnowledgePoints[0].Relevance != DefaultRelevance {
		t.Fatalf("object without relevance should default to %v", DefaultRelevance)
	}

	acc, ok := r.Accuracy()
	if !ok || acc < 0.333 || acc > 0.334 {
		t.Fatalf("Accuracy() = %v, %v", acc, ok)
	}

	var need []int
	for _, it := range r.Corrections {
		if it.NeedsMistake() {
			need = append(need, it.QuestionNumber)
		}
	}
	if !reflect.DeepEqual(need, []int{2, 3}) {
		t.Fatalf("NeedsMistake items = %v", need)
	}

	stats := r.KnowledgeStats()
	want := []KnowledgeStat{
		{Name: "函数", ErrorCount: 0, TotalCount: 1},
		{Name: "方程", ErrorCount: 1, TotalCount: 1},
		{Name: "代数", ErrorCount: 1, TotalCount: 1},
		{Name: "几何", ErrorCount: 1, TotalCount: 1},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Fatalf("KnowledgeStats() = %+v", stats)
	}
}

func TestCorrection_RoundTrip(t *testing.T) {
	var r CorrectionResult
	if err := json.Unmarshal([]byte(sampleCorrection), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again CorrectionResult
	if err := json.Unmarshal(b, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if !reflect.DeepEqual(r, again) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", r, again)
	}
}

func TestCorrection_Violations(t *testing.T) {
	calc := ErrorCalculation
	ans := "5"
	base := func() CorrectionResult {
		return CorrectionResult{
			TotalQuestions: 1,
			OverallScore:   100,
			Corrections: []CorrectionItem{{
				QuestionNumber: 1, StudentAnswer: &ans, Score: 100,
				KnowledgePoints: []KnowledgePointRef{{Name: "函数", Relevance: 0.7}},
			}},
		}
	}

	cases := map[string]func(*CorrectionResult){
		"length mismatch":      func(r *CorrectionResult) { r.TotalQuestions = 2 },
		"unanswered count":     func(r *CorrectionResult) { r.UnansweredCount = 1 },
		"error count":          func(r *CorrectionResult) { r.Corrections[0].ErrorType = &calc },
		"unanswered scored":    func(r *CorrectionResult) { r.Corrections[0].IsUnanswered = true; r.UnansweredCount = 1 },
		"correct with zero":    func(r *CorrectionResult) { r.Corrections[0].Score = 0 },
		"score out of range":   func(r *CorrectionResult) { r.OverallScore = 120 },
		"too many knowledge":   func(r *CorrectionResult) { r.Corrections[0].KnowledgePoints = make([]KnowledgePointRef, 4) },
		"question number zero": func(r *CorrectionResult) { r.Corrections[0].QuestionNumber = 0 },
	}
	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("base should validate: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := base()
			mutate(&r)
			err := r.Validate()
			if !errors.Is(err, ErrInvariant) {
				t.Fatalf("Validate() = %v; want ErrInvariant", err)
			}
		})
	}
}

func TestCorrection_EmptyResult(t *testing.T) {
	r := CorrectionResult{Corrections: []CorrectionItem{}}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := r.Accuracy(); ok {
		t.Fatalf("Accuracy() ok for empty result")
	}
	if len(r.KnowledgeStats()) != 0 {
		t.Fatalf("expected no stats")
	}
}

func TestCorrection_NormalizeAndSuggestions(t *testing.T) {
	ans := "abc"
	r := CorrectionResult{
		Corrections: []CorrectionItem{{IsUnanswered: true, StudentAnswer: &ans}},
		Suggestions: []string{" 多练习 ", "", "a", "b", "c", "d", "e"},
	}
	r.Normalize()
	if r.Corrections[0].StudentAnswer != nil {
		t.Fatalf("unanswered item kept its student_answer")
	}
	got := r.TopSuggestions(MaxSuggestionsSaved)
	if !reflect.DeepEqual(got, []string{"多练习", "a", "b", "c", "d"}) {
		t.Fatalf("TopSuggestions = %v", got)
	}
}

func TestParseEnums(t *testing.T) {
	if v, ok := ParseReviewResult(" Correct "); !ok || v != ReviewCorrect {
		t.Fatalf("ParseReviewResult = %q, %v", v, ok)
	}
	if v, ok := ParseReviewResult("maybe"); ok || v != ReviewOther {
		t.Fatalf("ParseReviewResult(unknown) = %q, %v", v, ok)
	}
	if v, _ := ParseQuestionType("homework_help"); v != QuestionHomeworkHelp {
		t.Fatalf("ParseQuestionType = %q", v)
	}
}
