package integrity

import (
	"math"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/model"
)

// Repair resets every offending field of d to a safe default and reports whether anything
// changed. Question and answer text is never touched and no card is removed, so a second call
// with the same now is a no-op. An unreadable document is left alone: the key-only deck decoded
// from it would overwrite whatever the document still holds.
func Repair(d *model.Deck, now time.Time) bool {
	if d.Unreadable {
		return false
	}
	changed := false
	set := func(cond bool, fix func()) {
		if cond {
			fix()
			changed = true
		}
	}

	// values recovered or reset while decoding are persisted by the rewrite
	set(len(d.DecodeIssues) > 0, func() { d.DecodeIssues = nil })
	set(d.CardsMalformed, func() {
		d.Cards = []model.Card{}
		d.CardsMalformed = false
	})
	set(d.CreatedAt.IsZero(), func() { d.CreatedAt = now })
	set(d.UpdatedAt.IsZero(), func() { d.UpdatedAt = d.CreatedAt })
	set(d.TotalReviews < 0, func() { d.TotalReviews = 0 })
	set(d.CorrectReviews < 0, func() { d.CorrectReviews = 0 })
	set(d.CorrectReviews > d.TotalReviews, func() { d.CorrectReviews = d.TotalReviews })
	set(d.IntervalModifier < 0 || math.IsNaN(d.IntervalModifier), func() { d.IntervalModifier = model.DefaultIntervalModifier })
	set(d.EasyBonus < 1 || math.IsNaN(d.EasyBonus), func() { d.EasyBonus = model.DefaultEasyBonus })

	for i := range d.Cards {
		if repairCard(&d.Cards[i], now) {
			changed = true
		}
	}
	return changed
}

func repairCard(c *model.Card, now time.Time) bool {
	changed := false
	set := func(cond bool, fix func()) {
		if cond {
			fix()
			changed = true
		}
	}

	set(c.ID == uuid.Nil, func() { c.ID = uuid.Must(uuid.NewV4()) })
	set(c.DifficultyLevel < model.MinDifficultyLevel || c.DifficultyLevel > model.MaxDifficultyLevel,
		func() { c.DifficultyLevel = model.DefaultDifficultyLevel })
	set(c.RepetitionCount < 0, func() { c.RepetitionCount = 0 })
	set(c.CorrectCount < 0, func() { c.CorrectCount = 0 })
	set(c.IncorrectCount < 0, func() { c.IncorrectCount = 0 })
	set(c.NextReviewDue == nil || !dueOK(*c.NextReviewDue, now), func() {
		t := now
		c.NextReviewDue = &t
	})
	set(c.LastReviewed != nil && !lastReviewedOK(*c.LastReviewed, now), func() {
		t := now
		c.LastReviewed = &t
	})
	return changed
}
