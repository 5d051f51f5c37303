package domain

import (
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strings"

	"gorm.io/datatypes"
)

// JSON columns are stored as text and parsed once at the boundary into the
// typed shapes below. A blob that fails to parse or validate is reported as
// absent (ok == false); callers log and carry on without it.

// KnowledgeStat aggregates per-knowledge-point counts of one submission.
type KnowledgeStat struct {
	Name       string `json:"name"`
	ErrorCount int    `json:"error_count"`
	TotalCount int    `json:"total_count"`
}

// MasteryPoint is one {name, mastery} entry of a knowledge snapshot.
type MasteryPoint struct {
	Name    string  `json:"name"`
	Mastery float64 `json:"mastery"`
}

// QuestionContext is the context_data blob stored on a Question.
type QuestionContext struct {
	Scenario        string   `json:"scenario"`
	UsedContext     bool     `json:"used_context"`
	WeakPoints      []string `json:"weak_points,omitempty"`
	ReferenceHits   int      `json:"reference_hits,omitempty"`
	StreamCompleted bool     `json:"stream_completed"`
	Error           string   `json:"error,omitempty"`
}

var errEmptyBlob = errors.New("empty blob")

// EncodeBlob marshals v into a JSON column value. Marshal failures (only
// possible for unsupported types) produce a SQL NULL.
func EncodeBlob(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// DecodeBlob parses raw into T and applies validate when non-nil.
func DecodeBlob[T any](raw datatypes.JSON, validate func(T) error) (T, error) {
	var out T
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return out, errEmptyBlob
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return out, err
	}
	if validate != nil {
		if err := validate(out); err != nil {
			var zero T
			return zero, err
		}
	}
	return out, nil
}

// ValidateImageURLs accepts only absolute http(s) URLs.
func ValidateImageURLs(urls []string) error {
	for _, u := range urls {
		p, err := url.Parse(u)
		if err != nil || (p.Scheme != "http" && p.Scheme != "https") || p.Host == "" {
			return errors.New("image url must be an absolute http(s) URL")
		}
	}
	return nil
}

func validateStats(stats []KnowledgeStat) error {
	for _, s := range stats {
		if strings.TrimSpace(s.Name) == "" || s.ErrorCount < 0 || s.TotalCount < s.ErrorCount {
			return errors.New("invalid knowledge stat")
		}
	}
	return nil
}

func validateMastery(points []MasteryPoint) error {
	for _, p := range points {
		if strings.TrimSpace(p.Name) == "" || math.IsNaN(p.Mastery) || p.Mastery < 0 || p.Mastery > 1 {
			return errors.New("invalid mastery point")
		}
	}
	return nil
}

func validateSuggestions(list []string) error {
	for _, s := range list {
		if strings.TrimSpace(s) == "" {
			return errors.New("empty suggestion")
		}
	}
	return nil
}

// URLs returns the question's image URLs, or nil when the blob is absent or invalid.
func (q *Question) URLs() []string {
	urls, err := DecodeBlob(q.ImageURLs, ValidateImageURLs)
	if err != nil {
		return nil
	}
	return urls
}

// Context returns the parsed context_data blob.
func (q *Question) Context() (QuestionContext, bool) {
	c, err := DecodeBlob[QuestionContext](q.ContextData, nil)
	return c, err == nil
}

// ImageList returns the submission's image URLs.
func (s *HomeworkSubmission) ImageList() []string {
	urls, err := DecodeBlob(s.Images, ValidateImageURLs)
	if err != nil {
		return nil
	}
	return urls
}

// ReviewData returns the stored correction result when it is present and
// still satisfies the correction invariants.
func (s *HomeworkSubmission) ReviewData() (*CorrectionResult, bool) {
	r, err := DecodeBlob(s.AIReviewData, func(r CorrectionResult) error { return r.Validate() })
	if err != nil {
		return nil, false
	}
	return &r, true
}

// KnowledgeStats returns the aggregated weak_knowledge_points blob.
func (s *HomeworkSubmission) KnowledgeStats() ([]KnowledgeStat, bool) {
	st, err := DecodeBlob(s.WeakKnowledgePoints, validateStats)
	return st, err == nil
}

// Suggestions returns the improvement_suggestions blob.
func (s *HomeworkSubmission) Suggestions() ([]string, bool) {
	list, err := DecodeBlob(s.ImprovementSuggestions, validateSuggestions)
	return list, err == nil
}

// Feedback returns the correction item stored as ai_feedback.
func (m *MistakeRecord) Feedback() (*CorrectionItem, bool) {
	it, err := DecodeBlob(m.AIFeedback, func(it CorrectionItem) error { return it.validate(0) })
	if err != nil {
		return nil, false
	}
	return &it, true
}

// Mastery returns the snapshot's {name: mastery} map. The knowledge_points
// column is preferred; graph_data is accepted when it carries a "nodes"
// array of the same shape.
func (s *UserKnowledgeGraphSnapshot) Mastery() (map[string]float64, bool) {
	points, err := DecodeBlob(s.KnowledgePoints, validateMastery)
	if err != nil {
		g, gerr := DecodeBlob[struct {
			Nodes []MasteryPoint `json:"nodes"`
		}](s.GraphData, nil)
		if gerr != nil || validateMastery(g.Nodes) != nil || len(g.Nodes) == 0 {
			return nil, false
		}
		points = g.Nodes
	}
	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[p.Name] = p.Mastery
	}
	return out, true
}
