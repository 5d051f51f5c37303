package correction

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// TitleChars is the comment prefix length used for mistake titles.
const TitleChars = 30

// Source identifies where a correction came from.
type Source struct {
	UserID  string
	Subject string
	Kind    domain.SourceKind
	ID      string
	OCRText string
}

// Title is the first TitleChars grapheme clusters of the comment plus "...",
// or "第N题" when the comment is blank.
func Title(it domain.CorrectionItem) string {
	c := strings.TrimSpace(it.Comment)
	if c == "" {
		return fmt.Sprintf("第%d题", it.QuestionNumber)
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(c)
	for i := 0; i < TitleChars && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String() + "..."
}

// Mistakes plans one record per unanswered or wrong item. Records start with
// zero mastery and no reviews; de-duplication happens at insert time on
// (user, source kind, source id, question number).
func Mistakes(src Source, r *domain.CorrectionResult) []*domain.MistakeRecord {
	var out []*domain.MistakeRecord
	for _, it := range r.Corrections {
		if !it.NeedsMistake() {
			continue
		}
		m := &domain.MistakeRecord{
			UserID:         src.UserID,
			Title:          Title(it),
			SourceKind:     src.Kind,
			QuestionNumber: it.QuestionNumber,
			AIFeedback:     domain.EncodeBlob(it),
		}
		if src.Subject != "" {
			subj := src.Subject
			m.Subject = &subj
		}
		if src.ID != "" {
			id := src.ID
			m.SourceID = &id
		}
		if t := strings.TrimSpace(src.OCRText); t != "" {
			m.OCRText = &t
		}
		seen := map[string]bool{}
		for _, kp := range it.KnowledgePoints {
			if kp.Name == "" || seen[kp.Name] {
				continue
			}
			seen[kp.Name] = true
			m.KnowledgePoints = append(m.KnowledgePoints, domain.MistakeKnowledgePoint{
				KnowledgePoint: kp.Name,
				Relevance:      kp.Relevance,
			})
		}
		out = append(out, m)
	}
	return out
}

// Suggestions lists up to five improvement bullets: comments of incorrect
// items first, then the model's own suggestions, without repeats.
func Suggestions(r *domain.CorrectionResult) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] || len(out) >= domain.MaxSuggestionsSaved {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, it := range r.Corrections {
		if it.NeedsMistake() && strings.TrimSpace(it.Comment) != "" {
			add(fmt.Sprintf("第%d题：%s", it.QuestionNumber, strings.TrimSpace(it.Comment)))
		}
	}
	for _, s := range r.TopSuggestions(domain.MaxSuggestionsSaved) {
		add(s)
	}
	return out
}

// Review builds the submission update for a parsed result.
func Review(r *domain.CorrectionResult, at time.Time) repo.SubmissionReview {
	rev := repo.SubmissionReview{
		TotalScore:  r.OverallScore,
		ReviewData:  domain.EncodeBlob(r),
		Suggestions: domain.EncodeBlob(Suggestions(r)),
		ProcessedAt: at.UTC(),
	}
	if acc, ok := r.Accuracy(); ok {
		rev.AccuracyRate = &acc
	}
	stats := r.KnowledgeStats()
	if stats == nil {
		stats = []domain.KnowledgeStat{}
	}
	rev.WeakPoints = domain.EncodeBlob(stats)
	return rev
}

var errorTypeNames = map[domain.ErrorType]string{
	domain.ErrorCalculation: "计算错误",
	domain.ErrorConcept:     "概念错误",
	domain.ErrorCareless:    "粗心",
	domain.ErrorUnit:        "单位错误",
	domain.ErrorLogic:       "逻辑错误",
	domain.ErrorOther:       "其他错误",
}

// Render formats a result as readable Markdown for a chat answer.
func Render(r *domain.CorrectionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**批改结果**：共 %d 题，答错 %d 题，未作答 %d 题，得分 %.0f 分。\n",
		r.TotalQuestions, r.ErrorCount, r.UnansweredCount, r.OverallScore)
	if s := strings.TrimSpace(r.Summary); s != "" {
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if len(r.Corrections) > 0 {
		b.WriteString("\n")
	}
	for _, it := range r.Corrections {
		var status string
		switch {
		case it.IsUnanswered:
			status = "未作答"
		case it.ErrorType != nil:
			status = "❌ " + errorTypeNames[*it.ErrorType]
		default:
			status = "✅ 正确"
		}
		fmt.Fprintf(&b, "%d. %s（%.0f 分）", it.QuestionNumber, status, it.Score)
		if it.NeedsMistake() && it.CorrectAnswer != "" {
			fmt.Fprintf(&b, "，正确答案：%s", it.CorrectAnswer)
		}
		if c := strings.TrimSpace(it.Comment); c != "" {
			b.WriteString("。")
			b.WriteString(c)
		}
		b.WriteString("\n")
	}
	if sug := Suggestions(r); len(sug) > 0 {
		b.WriteString("\n**改进建议**\n")
		for _, s := range sug {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}
