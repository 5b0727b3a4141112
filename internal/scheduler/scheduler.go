// Package scheduler computes spaced-repetition intervals. Every function here is pure: the
// caller supplies the current time, and nothing performs I/O.
package scheduler

import (
	"math"
	"time"

	"github.com/and161185/cardkeeper/internal/model"
)

const (
	initialEase = 2.5
	minEase     = 1.3

	// MinInterval and MaxInterval bound every scheduled due date regardless of the formula.
	MinInterval = 10 * time.Minute
	MaxInterval = 365 * 24 * time.Hour

	day = 24 * time.Hour
)

// Result is the outcome of scheduling one review.
type Result struct {
	NextReviewDue   time.Time
	RepetitionCount int
	// IntervalDays is the interval actually applied, after clamping.
	IntervalDays float64
	// RawIntervalDays is the formula output before clamping.
	RawIntervalDays float64
}

// Ease derives the ease factor for a rating, starting from the initial ease on every call.
func Ease(rating model.Rating) float64 {
	q := float64(model.Easy - rating)
	ease := initialEase + (0.1 - q*(0.08+q*0.02))
	return math.Max(minEase, ease)
}

// RawInterval returns the unclamped interval in days.
//
//	rep 0 -> 1, rep 1 -> 6, rep 2 -> 6*ease, rep n>=3 -> max(n,6)*ease
//
// The stage value is scaled by intervalModifier and, for Easy, by easyBonus.
func RawInterval(rating model.Rating, repetitionCount int, intervalModifier, easyBonus float64) float64 {
	if intervalModifier < 0 {
		intervalModifier = 0
	}
	ease := Ease(rating)

	var days float64
	switch {
	case repetitionCount <= 0:
		days = 1
	case repetitionCount == 1:
		days = 6
	case repetitionCount == 2:
		days = 6 * ease
	default:
		// 6 keeps rep 3..5 from dropping below the rep 2 stage.
		days = math.Max(float64(repetitionCount), 6) * ease
	}
	days *= intervalModifier

	if rating == model.Easy && easyBonus > 0 {
		days *= easyBonus
	}
	return days
}

// Schedule computes the next due date for a review happening at now.
func Schedule(now time.Time, rating model.Rating, repetitionCount int, intervalModifier, easyBonus float64) Result {
	raw := RawInterval(rating, repetitionCount, intervalModifier, easyBonus)

	interval := MaxInterval
	if ns := raw * float64(day); !math.IsNaN(ns) && ns < float64(MaxInterval) {
		interval = Clamp(time.Duration(ns))
	}

	if repetitionCount < 0 {
		repetitionCount = 0
	}
	return Result{
		NextReviewDue:   now.Add(interval),
		RepetitionCount: repetitionCount + 1,
		IntervalDays:    interval.Hours() / 24,
		RawIntervalDays: raw,
	}
}

// Clamp bounds an interval to [MinInterval, MaxInterval].
func Clamp(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// IsCorrect derives correctness from the rating when the caller did not say: ratings at or above
// the midpoint of the scale (Good, Easy) count as correct.
func IsCorrect(rating model.Rating) bool {
	return rating >= model.Good
}

// AdjustDifficulty moves the difficulty level one step: down for a correct Easy review, up for an
// incorrect or Hard one. The result is always within [1, 5].
func AdjustDifficulty(level int, rating model.Rating, correct bool) int {
	level = clampLevel(level)
	switch {
	case correct && rating == model.Easy:
		level--
	case !correct || rating == model.Hard:
		level++
	}
	return clampLevel(level)
}

func clampLevel(level int) int {
	if level < model.MinDifficultyLevel {
		return model.MinDifficultyLevel
	}
	if level > model.MaxDifficultyLevel {
		return model.MaxDifficultyLevel
	}
	return level
}
