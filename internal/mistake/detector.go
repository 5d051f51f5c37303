// Package mistake decides whether an ordinary tutoring turn belongs in the
// student's mistake book.
//
// Three strategies vote independently and a fourth combines the votes. The
// answer-intent strategy is kept in the vote list but abstains until it
// stops firing on ordinary explanations.
package mistake

import (
	"strings"

	"github.com/rivo/uniseg"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
	"github.com/tbourn/homework-tutor-backend/internal/prompt"
)

// Strategy names reported on votes.
const (
	StrategyKeyword  = "keyword"
	StrategyAnswer   = "answer_intent"
	StrategyImage    = "image"
	StrategyCombined = "combined"
)

// Vote thresholds.
const (
	HighConfidence   = 0.9
	MediumConfidence = 0.7
	ImageConfidence  = 0.75
	ImageMaxConf     = 0.84 // below SingleVoteMin: a photo alone never decides
	ImageMaxRunes    = 15
	SingleVoteMin    = 0.85
	JointVoteMin     = 0.75
	abstain          = 0.5
)

// Vote is one strategy's opinion. IsMistake is nil when the strategy abstains.
type Vote struct {
	Strategy    string  `json:"strategy"`
	IsMistake   *bool   `json:"is_mistake"`
	Confidence  float64 `json:"confidence"`
	MistakeType string  `json:"mistake_type,omitempty"`
	Reason      string  `json:"reason"`
}

// Yes reports a positive vote.
func (v Vote) Yes() bool { return v.IsMistake != nil && *v.IsMistake }

// Input is the turn being classified.
type Input struct {
	Content   string
	ImageURLs []string
	Answer    string
}

// Decision is the combined verdict with the votes that produced it.
type Decision struct {
	IsMistake   bool    `json:"is_mistake"`
	Confidence  float64 `json:"confidence"`
	MistakeType string  `json:"mistake_type,omitempty"`
	Reason      string  `json:"reason"`
	Votes       []Vote  `json:"votes"`
}

// Detector is safe for concurrent use.
type Detector struct {
	lex *lexicon.Lexicon
}

// NewDetector uses lex for keywords; nil selects the embedded dictionaries.
func NewDetector(lex *lexicon.Lexicon) *Detector {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Detector{lex: lex}
}

func yes() *bool { t := true; return &t }
func no() *bool  { f := false; return &f }

// Keyword matches the high and medium keyword lists. A medium keyword only
// counts when a second medium keyword or an image accompanies it.
func (d *Detector) Keyword(in Input) Vote {
	text := lexicon.Normalize(in.Content)
	if hit := lexicon.Matches(text, d.lex.MistakeKeywords.High); len(hit) > 0 {
		return Vote{Strategy: StrategyKeyword, IsMistake: yes(), Confidence: HighConfidence,
			MistakeType: "help_seeking", Reason: "high-confidence keyword: " + hit[0]}
	}
	medium := lexicon.Matches(text, d.lex.MistakeKeywords.Medium)
	switch {
	case len(medium) >= 2:
		return Vote{Strategy: StrategyKeyword, IsMistake: yes(), Confidence: MediumConfidence,
			MistakeType: "method_unclear", Reason: "medium keywords: " + strings.Join(medium, ",")}
	case len(medium) == 1 && len(in.ImageURLs) > 0:
		return Vote{Strategy: StrategyKeyword, IsMistake: yes(), Confidence: MediumConfidence,
			MistakeType: "method_unclear", Reason: "medium keyword with image: " + medium[0]}
	case len(medium) == 1:
		return Vote{Strategy: StrategyKeyword, IsMistake: no(), Confidence: 0.3, Reason: "lone medium keyword: " + medium[0]}
	}
	return Vote{Strategy: StrategyKeyword, IsMistake: no(), Confidence: 0.1, Reason: "no mistake keyword"}
}

// AnswerIntent always abstains. Worked-solution markers such as "解:" show
// up in plain explanations too often to count as evidence.
func (d *Detector) AnswerIntent(Input) Vote {
	return Vote{Strategy: StrategyAnswer, Confidence: abstain, Reason: "disabled"}
}

// Image votes for terse questions sent with a photo. Shorter text raises the
// confidence from 0.75 up to 0.85. Without images it abstains.
func (d *Detector) Image(in Input) Vote {
	if len(in.ImageURLs) == 0 {
		return Vote{Strategy: StrategyImage, Reason: "no images"}
	}
	n := uniseg.GraphemeClusterCount(strings.TrimSpace(in.Content))
	if n >= ImageMaxRunes {
		return Vote{Strategy: StrategyImage, IsMistake: no(), Confidence: 0.3, Reason: "image with a detailed question"}
	}
	conf := min(ImageMaxConf, ImageConfidence+0.01*float64(ImageMaxRunes-n))
	return Vote{Strategy: StrategyImage, IsMistake: yes(), Confidence: conf,
		MistakeType: "photo_question", Reason: "image with a short question"}
}

// Combine accepts when one vote reaches SingleVoteMin, or when at least two
// votes are positive with a mean confidence of JointVoteMin.
func Combine(votes []Vote) Decision {
	d := Decision{Votes: votes, Reason: "insufficient evidence"}
	var (
		best     *Vote
		positive []Vote
		sum      float64
	)
	for i := range votes {
		v := votes[i]
		if !v.Yes() {
			continue
		}
		positive = append(positive, v)
		sum += v.Confidence
		if best == nil || v.Confidence > best.Confidence {
			best = &votes[i]
		}
	}
	if best == nil {
		return d
	}
	if best.Confidence >= SingleVoteMin {
		d.IsMistake, d.Confidence, d.MistakeType, d.Reason = true, best.Confidence, best.MistakeType, best.Reason
		return d
	}
	mean := sum / float64(len(positive))
	if len(positive) >= 2 && mean >= JointVoteMin {
		d.IsMistake, d.Confidence, d.MistakeType = true, mean, best.MistakeType
		d.Reason = StrategyCombined + ": " + best.Reason
		return d
	}
	d.Confidence = best.Confidence
	return d
}

// Detect runs every strategy and combines the votes.
func (d *Detector) Detect(in Input) Decision {
	return Combine([]Vote{d.Keyword(in), d.AnswerIntent(in), d.Image(in)})
}

// TitleChars bounds the question preview used as a mistake title.
const TitleChars = 30

// Record builds the qa mistake for a question flagged by Detect. The answer
// is kept as the reference solution, trimmed for storage.
func (d *Detector) Record(q *domain.Question, answer string, dec Decision) *domain.MistakeRecord {
	subject := ""
	if q.Subject != nil {
		subject = *q.Subject
	}
	item := domain.CorrectionItem{
		QuestionNumber: 1,
		QuestionType:   domain.ItemOther,
		CorrectAnswer:  prompt.Truncate(answer, 2000),
		ErrorType:      errType(dec.MistakeType),
		Comment:        dec.Reason,
	}
	id := q.ID
	m := &domain.MistakeRecord{
		UserID:     q.UserID,
		Title:      prompt.Truncate(strings.TrimSpace(q.Content), TitleChars),
		SourceKind: domain.SourceQA,
		SourceID:   &id,
		Subject:    q.Subject,
	}
	seen := map[string]bool{}
	for _, kp := range d.lex.KnowledgePoints(subject, q.Content) {
		if seen[kp.Name] || len(item.KnowledgePoints) >= domain.MaxKnowledgePoints {
			continue
		}
		seen[kp.Name] = true
		item.KnowledgePoints = append(item.KnowledgePoints, domain.KnowledgePointRef{Name: kp.Name, Relevance: domain.DefaultRelevance})
		m.KnowledgePoints = append(m.KnowledgePoints, domain.MistakeKnowledgePoint{KnowledgePoint: kp.Name, Relevance: domain.DefaultRelevance})
		if m.Subject == nil && kp.Subject != "" {
			s := kp.Subject
			m.Subject = &s
		}
	}
	m.AIFeedback = domain.EncodeBlob(item)
	return m
}

func errType(mistakeType string) *domain.ErrorType {
	t := domain.ErrorOther
	if mistakeType == "method_unclear" || mistakeType == "help_seeking" {
		t = domain.ErrorConcept
	}
	return &t
}
