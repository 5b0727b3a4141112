// Package integrity holds the structural and statistical rules for deck documents and the
// field-level repairs that restore them. It performs no I/O.
package integrity

import (
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/model"
)

const (
	// PlausibleWindow bounds how far from now a card timestamp may sit.
	PlausibleWindow = 365 * 24 * time.Hour
	// clockSkew tolerates small clock differences between writers.
	clockSkew = 5 * time.Minute
	// dueSlack lets a due date scheduled at the maximum interval survive a later check.
	dueSlack = 24 * time.Hour

	driftAbsTolerance = 5
	driftRelTolerance = 0.05
)

// Violation is one broken invariant. CardID is uuid.Nil for deck-level fields; CardIndex is -1
// for deck-level fields.
type Violation struct {
	CardID    uuid.UUID
	CardIndex int
	Field     string
	Reason    string
}

func (v Violation) String() string {
	if v.CardIndex < 0 {
		return fmt.Sprintf("deck.%s: %s", v.Field, v.Reason)
	}
	return fmt.Sprintf("card[%d] %s.%s: %s", v.CardIndex, v.CardID, v.Field, v.Reason)
}

// DeckLevel reports whether v concerns the deck rather than one card.
func (v Violation) DeckLevel() bool { return v.CardIndex < 0 }

// ValidateDeck runs every structural check on the deck and its cards.
func ValidateDeck(d *model.Deck, now time.Time) []Violation {
	var out []Violation
	add := func(field, format string, args ...any) {
		out = append(out, Violation{CardIndex: -1, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if d.ID == uuid.Nil {
		add("deckId", "missing")
	}
	if d.OwnerUserID == "" {
		add("ownerUserId", "missing")
	}
	if d.CourseID == "" {
		add("courseId", "missing")
	}
	if d.Title == "" {
		add("title", "missing")
	}
	if d.CreatedAt.IsZero() {
		add("createdAt", "missing")
	}
	if d.UpdatedAt.IsZero() {
		add("updatedAt", "missing")
	}
	if d.TotalReviews < 0 {
		add("totalReviews", "negative (%d)", d.TotalReviews)
	}
	if d.CorrectReviews < 0 {
		add("correctReviews", "negative (%d)", d.CorrectReviews)
	}
	if d.CorrectReviews > d.TotalReviews {
		add("correctReviews", "%d exceeds totalReviews %d", d.CorrectReviews, d.TotalReviews)
	}
	if d.IntervalModifier < 0 || math.IsNaN(d.IntervalModifier) {
		add("intervalModifier", "must be >= 0, got %v", d.IntervalModifier)
	}
	if d.EasyBonus < 1 || math.IsNaN(d.EasyBonus) {
		add("easyBonus", "must be >= 1.0, got %v", d.EasyBonus)
	}
	if d.CardsMalformed {
		add("cards", "not a list")
	}
	for _, issue := range d.DecodeIssues {
		add("document", "%s", issue)
	}

	for i := range d.Cards {
		out = append(out, validateCard(&d.Cards[i], i, now)...)
	}
	return out
}

func validateCard(c *model.Card, idx int, now time.Time) []Violation {
	var out []Violation
	add := func(field, format string, args ...any) {
		out = append(out, Violation{CardID: c.ID, CardIndex: idx, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.ID == uuid.Nil {
		add("cardId", "missing")
	}
	if c.Question == "" {
		add("question", "missing")
	}
	if c.Answer == "" {
		add("answer", "missing")
	}
	if c.DifficultyLevel < model.MinDifficultyLevel || c.DifficultyLevel > model.MaxDifficultyLevel {
		add("difficultyLevel", "%d outside [%d,%d]", c.DifficultyLevel, model.MinDifficultyLevel, model.MaxDifficultyLevel)
	}
	if c.RepetitionCount < 0 {
		add("repetitionCount", "negative (%d)", c.RepetitionCount)
	}
	if c.CorrectCount < 0 {
		add("correctCount", "negative (%d)", c.CorrectCount)
	}
	if c.IncorrectCount < 0 {
		add("incorrectCount", "negative (%d)", c.IncorrectCount)
	}
	if c.NextReviewDue == nil {
		add("nextReviewDue", "missing")
	} else if !dueOK(*c.NextReviewDue, now) {
		add("nextReviewDue", "%s is more than a year ahead", c.NextReviewDue.Format(time.RFC3339))
	}
	if c.LastReviewed != nil && !lastReviewedOK(*c.LastReviewed, now) {
		add("lastReviewed", "%s outside the plausible window", c.LastReviewed.Format(time.RFC3339))
	}
	return out
}

func dueOK(t, now time.Time) bool {
	return !t.After(now.Add(PlausibleWindow + dueSlack))
}

func lastReviewedOK(t, now time.Time) bool {
	return !t.Before(now.Add(-PlausibleWindow)) && !t.After(now.Add(clockSkew))
}

// Blocking keeps the violations a write must not introduce: every deck-level violation and any
// violation on one of the touched cards. Pre-existing problems on untouched cards are left to the
// repairer.
func Blocking(vs []Violation, touched ...uuid.UUID) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.DeckLevel() {
			out = append(out, v)
			continue
		}
		for _, id := range touched {
			if v.CardID == id {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// Strings renders violations for error messages and reports.
func Strings(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}
