// Package spacedrep schedules mistake reviews on a fixed interval ladder and
// derives mastery from the most recent review outcomes.
package spacedrep

import (
	"math"
	"time"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

// Intervals is the review ladder in days.
var Intervals = [...]int{1, 2, 4, 7, 15, 30}

// recencyWeights weight the last five reviews, most recent first.
var recencyWeights = [...]float64{0.4, 0.3, 0.15, 0.1, 0.05}

// MinConsecutiveCorrect is the streak required before a record counts as mastered.
const MinConsecutiveCorrect = 3

const day = 24 * time.Hour

// NextReview returns when a record should be reviewed again and the interval used.
//
// reviewCount is the number of reviews before this one. An incorrect result
// drops back to the first rung, partial repeats the current rung and correct
// advances one rung. The rung is then scaled by mastery.
func NextReview(reviewCount int, result domain.ReviewResult, mastery float64, last time.Time) (time.Time, int) {
	if reviewCount < 0 {
		reviewCount = 0
	}
	top := len(Intervals) - 1

	var base int
	switch result {
	case domain.ReviewCorrect:
		base = Intervals[min(reviewCount+1, top)]
	case domain.ReviewPartial:
		base = Intervals[min(reviewCount, top)]
	default:
		base = Intervals[0]
	}

	factor := 1.0
	switch {
	case mastery < 0.5:
		factor = 0.8
	case mastery > 0.8:
		factor = 1.2
	}
	days := int(math.Floor(float64(base) * factor))
	if days < 1 {
		days = 1
	}
	return last.UTC().Add(time.Duration(days) * day), days
}

// Score maps a review outcome to its contribution toward mastery.
func Score(r domain.ReviewResult) float64 {
	switch r {
	case domain.ReviewCorrect:
		return 1.0
	case domain.ReviewPartial:
		return 0.5
	default:
		return 0
	}
}

// Mastery computes the weighted score of up to five reviews given newest first,
// rounded to two decimals. An empty history is 0.
func Mastery(historyDesc []domain.ReviewResult) float64 {
	var sum float64
	for i, r := range historyDesc {
		if i >= len(recencyWeights) {
			break
		}
		sum += recencyWeights[i] * Score(r)
	}
	return math.Round(sum*100) / 100
}

// IsMastered reports whether mastery and the correct streak both clear the bar.
func IsMastered(mastery float64, consecutiveCorrect, minReviews int) bool {
	return mastery >= 0.9 && consecutiveCorrect >= minReviews
}

// State is the scheduling-relevant slice of a MistakeRecord.
type State struct {
	ReviewCount        int
	ConsecutiveCorrect int
	IsMastered         bool
}

// Outcome is the record state after applying one review.
type Outcome struct {
	MasteryLevel       float64
	ConsecutiveCorrect int
	IsMastered         bool
	NextReviewAt       time.Time
	IntervalDays       int
}

// Apply folds a new review into the record state. historyDesc holds the
// previous reviews newest first; the new result is prepended before mastery
// is recomputed. Mastered stays set across correct reviews and is cleared by
// any other result.
func Apply(s State, result domain.ReviewResult, historyDesc []domain.ReviewResult, at time.Time) Outcome {
	hist := make([]domain.ReviewResult, 0, len(recencyWeights))
	hist = append(hist, result)
	for _, r := range historyDesc {
		if len(hist) == cap(hist) {
			break
		}
		hist = append(hist, r)
	}
	m := Mastery(hist)

	streak := 0
	mastered := false
	if result == domain.ReviewCorrect {
		streak = s.ConsecutiveCorrect + 1
		mastered = s.IsMastered || IsMastered(m, streak, MinConsecutiveCorrect)
	}

	next, days := NextReview(s.ReviewCount, result, m, at)
	return Outcome{
		MasteryLevel:       m,
		ConsecutiveCorrect: streak,
		IsMastered:         mastered,
		NextReviewAt:       next,
		IntervalDays:       days,
	}
}
