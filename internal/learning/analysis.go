package learning

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
)

const (
	day = 24 * time.Hour

	// HistoryWindow bounds the weak-point walk.
	HistoryWindow = 90 * day
	// ActivityWindow bounds recent_activity_days and recent errors.
	ActivityWindow = 30 * day

	WeakThreshold      = 0.6
	MaxWeakPoints      = 20
	MinutesPerQuestion = 5

	decayRate = 0.1
	minWeight = 0.1
)

// DecayWeight is max(0.1, exp(-0.1 * whole days between t and now)).
func DecayWeight(now, t time.Time) float64 {
	days := math.Floor(now.UTC().Sub(t.UTC()).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return math.Max(minWeight, math.Exp(-decayRate*days))
}

// Severity combines error rate, error volume and recency into [0, 1].
func Severity(errorRate float64, errorCount int, lastWeight float64) float64 {
	return 0.6*errorRate + 0.3*math.Min(float64(errorCount)/10, 1) + 0.1*lastWeight
}

// Evidence is one observation of a knowledge point.
type Evidence struct {
	Name     string
	Subject  string
	At       time.Time
	Errors   int
	Attempts int
}

// SubmissionEvidence turns the knowledge statistics of reviewed submissions
// into evidence. A non-empty subject skips homework of other subjects.
func SubmissionEvidence(subs []domain.HomeworkSubmission, subject string, lex *lexicon.Lexicon) []Evidence {
	var out []Evidence
	for i := range subs {
		s := &subs[i]
		hwSubject := s.Homework.Subject
		if subject != "" && hwSubject != "" && hwSubject != subject {
			continue
		}
		stats, ok := s.KnowledgeStats()
		if !ok {
			continue
		}
		at := s.CreatedAt
		if s.ProcessedAt != nil {
			at = *s.ProcessedAt
		}
		for _, st := range stats {
			subj := lex.SubjectOf(st.Name)
			if subj == "" {
				subj = hwSubject
			}
			if subject != "" && subj != "" && subj != subject {
				continue
			}
			out = append(out, Evidence{Name: st.Name, Subject: subj, At: at, Errors: st.ErrorCount, Attempts: st.TotalCount})
		}
	}
	return out
}

// QuestionEvidence infers knowledge points from question text. Each mention
// is one attempt, and one error when the question asks for help.
func QuestionEvidence(qs []domain.Question, subject string, lex *lexicon.Lexicon) []Evidence {
	var out []Evidence
	for i := range qs {
		q := &qs[i]
		search := subject
		if q.Subject != nil && *q.Subject != "" {
			if subject != "" && *q.Subject != subject {
				continue
			}
			search = *q.Subject
		}
		mentions := lex.KnowledgePoints(search, q.Content)
		if len(mentions) == 0 {
			continue
		}
		errs := 0
		if lex.IsHelpSeeking(q.Content) {
			errs = 1
		}
		for _, m := range mentions {
			out = append(out, Evidence{Name: m.Name, Subject: m.Subject, At: q.CreatedAt, Errors: errs, Attempts: 1})
		}
	}
	return out
}

type tally struct {
	name, subject    string
	errors, attempts int
	wErrors, wAtt    float64
	lastError        *time.Time
}

func (t *tally) errorRate() float64 {
	if t.wAtt > 0 {
		return t.wErrors / t.wAtt
	}
	if t.attempts > 0 {
		return float64(t.errors) / float64(t.attempts)
	}
	return 0
}

func aggregate(evidence []Evidence, now time.Time) []*tally {
	byName := map[string]*tally{}
	var order []*tally
	for _, e := range evidence {
		if e.Name == "" || e.Attempts <= 0 {
			continue
		}
		t, ok := byName[e.Name]
		if !ok {
			t = &tally{name: e.Name, subject: e.Subject}
			byName[e.Name] = t
			order = append(order, t)
		}
		if t.subject == "" {
			t.subject = e.Subject
		}
		w := DecayWeight(now, e.At)
		t.errors += e.Errors
		t.attempts += e.Attempts
		t.wErrors += w * float64(e.Errors)
		t.wAtt += w * float64(e.Attempts)
		if e.Errors > 0 && (t.lastError == nil || e.At.After(*t.lastError)) {
			at := e.At.UTC()
			t.lastError = &at
		}
	}
	return order
}

// WeakPoints keeps points with a decayed error rate of at least
// WeakThreshold and returns the MaxWeakPoints most severe.
func WeakPoints(evidence []Evidence, now time.Time, lex *lexicon.Lexicon) []WeakPoint {
	out := []WeakPoint{}
	for _, t := range aggregate(evidence, now) {
		rate := t.errorRate()
		if rate < WeakThreshold {
			continue
		}
		lastW := 0.0
		if t.lastError != nil {
			lastW = DecayWeight(now, *t.lastError)
		}
		pre := lex.PrerequisitesOf(t.name)
		if pre == nil {
			pre = []string{}
		}
		out = append(out, WeakPoint{
			KnowledgeID:           KnowledgeID(t.subject, t.name),
			KnowledgeName:         t.name,
			Subject:               t.subject,
			ErrorRate:             round(rate, 4),
			ErrorCount:            t.errors,
			TotalCount:            t.attempts,
			LastErrorTime:         t.lastError,
			SeverityScore:         round(Severity(rate, t.errors, lastW), 4),
			PrerequisiteKnowledge: pre,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SeverityScore != out[j].SeverityScore {
			return out[i].SeverityScore > out[j].SeverityScore
		}
		if out[i].ErrorCount != out[j].ErrorCount {
			return out[i].ErrorCount > out[j].ErrorCount
		}
		return out[i].KnowledgeName < out[j].KnowledgeName
	})
	if len(out) > MaxWeakPoints {
		out = out[:MaxWeakPoints]
	}
	return out
}

// ComputedMastery is 1 - decayed error rate for every observed point.
func ComputedMastery(evidence []Evidence, now time.Time) map[string]float64 {
	out := map[string]float64{}
	for _, t := range aggregate(evidence, now) {
		out[t.name] = round(1-t.errorRate(), 2)
	}
	return out
}

func emptyHours() map[string]int {
	m := make(map[string]int, 24)
	for h := 0; h < 24; h++ {
		m[strconv.Itoa(h)] = 0
	}
	return m
}

// Pace maps a question total to a pace bucket and focus duration in minutes.
func Pace(total int) (string, int) {
	switch {
	case total > 50:
		return PaceFast, 45
	case total < 10:
		return PaceSlow, 20
	default:
		return PaceMedium, 30
	}
}

// Level maps a question total to a level bucket.
func Level(total int) string {
	switch {
	case total > 100:
		return LevelAdvanced
	case total > 20:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

func difficultyBucket(level int) string {
	switch {
	case level <= 2:
		return "easy"
	case level >= 4:
		return "hard"
	default:
		return "medium"
	}
}

// BuildPreferences derives preferences from recent questions and reviewed
// submissions. total is the user's all-time question count.
func BuildPreferences(qs []domain.Question, subs []domain.HomeworkSubmission, total int) Preferences {
	p := DefaultPreferences()
	p.LearningPace, p.FocusDurationMin = Pace(total)

	subjects := map[string]int{}
	counted, withImages := 0, 0
	for i := range qs {
		q := &qs[i]
		p.TimePreference[strconv.Itoa(q.CreatedAt.UTC().Hour())]++
		if q.HasImages {
			withImages++
		}
		if q.Subject != nil && *q.Subject != "" {
			subjects[*q.Subject]++
			counted++
		}
	}
	for s, n := range subjects {
		p.ActiveSubjects[s] = round(float64(n)/float64(counted), 3)
	}
	if len(qs) > 0 && withImages*2 >= len(qs) {
		p.InteractionPreference = "visual"
	}

	diff := map[string]int{}
	for i := range subs {
		if lvl := subs[i].Homework.DifficultyLevel; lvl > 0 {
			diff[difficultyBucket(lvl)]++
		}
	}
	if n := sumValues(diff); n > 0 {
		p.DifficultyPreference = map[string]float64{}
		for b, c := range diff {
			p.DifficultyPreference[b] = round(float64(c)/float64(n), 3)
		}
	}
	return p
}

// BuildSummary derives the activity summary. activeSubjects picks the
// dominant subject; ties go to the lexically smaller name.
func BuildSummary(qs []domain.Question, total int, activeSubjects map[string]float64, now time.Time) Summary {
	s := Summary{
		TotalQuestions:    total,
		TotalStudyTimeMin: total * MinutesPerQuestion,
		CurrentLevel:      Level(total),
	}
	days := activeDays(qs)
	cutoff := dateOf(now.Add(-ActivityWindow))
	for d := range days {
		if !d.Before(cutoff) {
			s.RecentActivityDays++
		}
	}
	s.LearningStreakDays = streak(days, now)

	best := -1.0
	for subj, r := range activeSubjects {
		if r > best || (r == best && subj < s.DominantSubject) {
			best, s.DominantSubject = r, subj
		}
	}
	return s
}

// BuildPatterns summarizes when and how the user asks.
func BuildPatterns(qs []domain.Question, now time.Time) StudyPatterns {
	var p StudyPatterns
	if len(qs) == 0 {
		return p
	}
	hours := [24]int{}
	images := 0
	weekAgo := now.Add(-7 * day)
	for i := range qs {
		hours[qs[i].CreatedAt.UTC().Hour()]++
		if qs[i].CreatedAt.After(weekAgo) {
			p.QuestionsLast7Days++
		}
		if qs[i].HasImages {
			images++
		}
	}
	for h := range hours {
		if hours[h] > hours[p.PeakHour] {
			p.PeakHour = h
		}
	}
	if d := len(activeDays(qs)); d > 0 {
		p.AvgQuestionsPerActiveDay = round(float64(len(qs))/float64(d), 2)
	}
	p.ImageQuestionRatio = round(float64(images)/float64(len(qs)), 2)
	return p
}

// RecentErrors lists mistakes newest first. Homework sessions only see
// homework mistakes.
func RecentErrors(ms []domain.MistakeRecord, kind SessionType, limit int) []RecentError {
	out := []RecentError{}
	for i := range ms {
		m := &ms[i]
		if kind == SessionHomework && m.SourceKind != domain.SourceHomework {
			continue
		}
		re := RecentError{MistakeID: m.ID, Title: m.Title, Source: string(m.SourceKind), CreatedAt: m.CreatedAt}
		if m.Subject != nil {
			re.Subject = *m.Subject
		}
		for _, kp := range m.KnowledgePoints {
			re.KnowledgePoints = append(re.KnowledgePoints, kp.KnowledgePoint)
		}
		out = append(out, re)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func activeDays(qs []domain.Question) map[time.Time]struct{} {
	days := map[time.Time]struct{}{}
	for i := range qs {
		days[dateOf(qs[i].CreatedAt)] = struct{}{}
	}
	return days
}

// streak counts consecutive active days ending today, or yesterday when
// there is no activity yet today.
func streak(days map[time.Time]struct{}, now time.Time) int {
	d := dateOf(now)
	if _, ok := days[d]; !ok {
		d = d.AddDate(0, 0, -1)
	}
	n := 0
	for {
		if _, ok := days[d]; !ok {
			return n
		}
		n++
		d = d.AddDate(0, 0, -1)
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sumValues(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}

func normSubject(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
