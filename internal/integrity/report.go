package integrity

import (
	"fmt"
	"math"
	"time"

	"github.com/and161185/cardkeeper/internal/model"
)

// Check builds an integrity report over the given decks.
func Check(decks []*model.Deck, now time.Time) model.IntegrityReport {
	rep := model.IntegrityReport{
		CheckedAt:      now,
		CorruptedDecks: []model.DeckViolation{},
		InvalidCards:   []model.CardViolation{},
		StatDrift:      []model.StatDrift{},
	}

	for _, d := range decks {
		if d == nil {
			continue
		}
		rep.DecksScanned++
		rep.CardsScanned += len(d.Cards)

		var deckLevel []string
		byCard := map[int]*model.CardViolation{}
		var order []int
		for _, v := range ValidateDeck(d, now) {
			if v.DeckLevel() {
				deckLevel = append(deckLevel, v.String())
				continue
			}
			cv, ok := byCard[v.CardIndex]
			if !ok {
				cv = &model.CardViolation{DeckID: d.ID, CardID: v.CardID}
				byCard[v.CardIndex] = cv
				order = append(order, v.CardIndex)
			}
			cv.Violations = append(cv.Violations, v.String())
		}
		if len(deckLevel) > 0 {
			rep.CorruptedDecks = append(rep.CorruptedDecks, model.DeckViolation{
				DeckID: d.ID, OwnerUserID: d.OwnerUserID, Violations: deckLevel,
			})
		}
		for _, idx := range order {
			rep.InvalidCards = append(rep.InvalidCards, *byCard[idx])
		}

		if drift, ok := statDrift(d); ok {
			rep.StatDrift = append(rep.StatDrift, drift)
		}
	}

	rep.Recommendations = recommendations(&rep)
	return rep
}

// statDrift compares deck counters with the sum of card counters. Deck-level reviews that no card
// accounts for (deleted cards) are expected, so only a gap beyond the tolerance counts.
func statDrift(d *model.Deck) (model.StatDrift, bool) {
	if d.CardsMalformed {
		return model.StatDrift{}, false
	}
	var reviews, correct int
	for i := range d.Cards {
		reviews += d.Cards[i].CorrectCount + d.Cards[i].IncorrectCount
		correct += d.Cards[i].CorrectCount
	}
	tol := Tolerance(d.TotalReviews)
	if abs(d.TotalReviews-reviews) <= tol && abs(d.CorrectReviews-correct) <= tol {
		return model.StatDrift{}, false
	}
	return model.StatDrift{
		DeckID:         d.ID,
		OwnerUserID:    d.OwnerUserID,
		TotalReviews:   d.TotalReviews,
		CardReviewSum:  reviews,
		CorrectReviews: d.CorrectReviews,
		CardCorrectSum: correct,
	}, true
}

// Tolerance is the allowed gap between deck and card counters for a deck with total reviews.
func Tolerance(total int) int {
	rel := int(math.Ceil(float64(total) * driftRelTolerance))
	if rel > driftAbsTolerance {
		return rel
	}
	return driftAbsTolerance
}

func recommendations(r *model.IntegrityReport) []string {
	var out []string
	if n := len(r.CorruptedDecks); n > 0 {
		out = append(out, fmt.Sprintf("%d corrupted decks found; consider running a repair", n))
	}
	if n := len(r.InvalidCards); n > 0 {
		out = append(out, fmt.Sprintf("%d invalid cards found; a repair resets the offending fields", n))
	}
	if n := len(r.StatDrift); n > 0 {
		out = append(out, fmt.Sprintf("%d decks have review counters that diverge from their cards; review recent card deletions", n))
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("All %d decks and %d cards passed the integrity check", r.DecksScanned, r.CardsScanned))
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
