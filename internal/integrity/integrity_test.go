package integrity

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cardkeeper/internal/model"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func validDeck() *model.Deck {
	return &model.Deck{
		ID:               uuid.Must(uuid.NewV4()),
		OwnerUserID:      "user-1",
		CourseID:         "course-1",
		Title:            "Cell biology",
		IntervalModifier: 1,
		EasyBonus:        1.3,
		TotalReviews:     4,
		CorrectReviews:   3,
		CreatedAt:        now.Add(-48 * time.Hour),
		UpdatedAt:        now.Add(-time.Hour),
		Cards: []model.Card{
			{
				ID: uuid.Must(uuid.NewV4()), Question: "What is ATP?", Answer: "Energy currency",
				DifficultyLevel: 3, RepetitionCount: 4, CorrectCount: 3, IncorrectCount: 1,
				LastReviewed: ptr(now.Add(-time.Hour)), NextReviewDue: ptr(now.Add(24 * time.Hour)),
			},
			{
				ID: uuid.Must(uuid.NewV4()), Question: "Mitochondria?", Answer: "Powerhouse",
				DifficultyLevel: 3, NextReviewDue: ptr(now.Add(-time.Hour)),
			},
		},
	}
}

func corruptedDeck() *model.Deck {
	d := validDeck()
	d.TotalReviews = 3
	d.CorrectReviews = 5
	d.IntervalModifier = -1
	d.EasyBonus = 0
	d.UpdatedAt = time.Time{}
	d.Cards[0].DifficultyLevel = 9
	d.Cards[0].CorrectCount = -2
	d.Cards[0].LastReviewed = ptr(now.Add(30 * 24 * time.Hour))
	d.Cards[1].NextReviewDue = nil
	d.Cards[1].ID = uuid.Nil
	d.Cards[1].RepetitionCount = -1
	return d
}

func TestValidateDeck_Clean(t *testing.T) {
	require.Empty(t, ValidateDeck(validDeck(), now))
}

func TestValidateDeck_FindsViolations(t *testing.T) {
	vs := ValidateDeck(corruptedDeck(), now)
	got := Strings(vs)

	assert.Contains(t, got, "deck.correctReviews: 5 exceeds totalReviews 3")
	var fields []string
	for _, v := range vs {
		fields = append(fields, v.Field)
	}
	for _, f := range []string{"intervalModifier", "easyBonus", "updatedAt", "difficultyLevel", "correctCount", "lastReviewed", "nextReviewDue", "cardId", "repetitionCount"} {
		assert.Contains(t, fields, f)
	}
}

func TestValidateDeck_TimestampWindows(t *testing.T) {
	d := validDeck()
	d.Cards[0].NextReviewDue = ptr(now.Add(2 * PlausibleWindow))
	d.Cards[1].LastReviewed = ptr(now.Add(-PlausibleWindow - time.Hour))
	vs := ValidateDeck(d, now)
	require.Len(t, vs, 2)
	require.Equal(t, "nextReviewDue", vs[0].Field)
	require.Equal(t, "lastReviewed", vs[1].Field)

	// Overdue cards are fine.
	d = validDeck()
	d.Cards[0].NextReviewDue = ptr(now.Add(-3 * PlausibleWindow))
	require.Empty(t, ValidateDeck(d, now))
}

func TestValidateDeck_MalformedCards(t *testing.T) {
	d := validDeck()
	d.Cards = nil
	d.CardsMalformed = true
	vs := ValidateDeck(d, now)
	require.Len(t, vs, 1)
	require.Equal(t, "deck.cards: not a list", vs[0].String())
}

func TestBlocking(t *testing.T) {
	d := validDeck()
	d.Cards[0].DifficultyLevel = 0
	d.Cards[1].DifficultyLevel = 0
	d.CorrectReviews = 99
	vs := ValidateDeck(d, now)
	require.Len(t, vs, 3)

	blocking := Blocking(vs, d.Cards[1].ID)
	require.Len(t, blocking, 2)
	require.True(t, blocking[0].DeckLevel())
	require.Equal(t, d.Cards[1].ID, blocking[1].CardID)

	require.Len(t, Blocking(vs), 1)
}

func TestCheck_CleanBill(t *testing.T) {
	rep := Check([]*model.Deck{validDeck(), validDeck()}, now)
	require.True(t, rep.Clean())
	require.Equal(t, 2, rep.DecksScanned)
	require.Equal(t, 4, rep.CardsScanned)
	require.Len(t, rep.Recommendations, 1)
	require.Contains(t, rep.Recommendations[0], "passed")
}

func TestCheck_FlagsCorruptedCounters(t *testing.T) {
	d := validDeck()
	d.TotalReviews = 3
	d.CorrectReviews = 5

	rep := Check([]*model.Deck{d}, now)
	require.False(t, rep.Clean())
	require.Len(t, rep.CorruptedDecks, 1)
	require.Equal(t, d.ID, rep.CorruptedDecks[0].DeckID)
	require.Contains(t, rep.Recommendations[0], "1 corrupted decks")
}

func TestCheck_InvalidCardsGroupedPerCard(t *testing.T) {
	d := validDeck()
	d.Cards[0].DifficultyLevel = 7
	d.Cards[0].IncorrectCount = -1
	d.Cards[0].CorrectCount = 0
	d.CorrectReviews = 0
	d.TotalReviews = 0

	rep := Check([]*model.Deck{d}, now)
	require.Empty(t, rep.CorruptedDecks)
	require.Len(t, rep.InvalidCards, 1)
	require.Equal(t, d.Cards[0].ID, rep.InvalidCards[0].CardID)
	require.Len(t, rep.InvalidCards[0].Violations, 2)
}

func TestCheck_StatDriftTolerance(t *testing.T) {
	d := validDeck()
	d.TotalReviews = 4 + 5
	d.CorrectReviews = 3 + 5
	rep := Check([]*model.Deck{d}, now)
	require.Empty(t, rep.StatDrift, "gap within tolerance")

	d.TotalReviews = 4 + 6
	rep = Check([]*model.Deck{d}, now)
	require.Len(t, rep.StatDrift, 1)
	require.Equal(t, 4, rep.StatDrift[0].CardReviewSum)
	require.Equal(t, 10, rep.StatDrift[0].TotalReviews)
}

func TestTolerance(t *testing.T) {
	require.Equal(t, 5, Tolerance(0))
	require.Equal(t, 5, Tolerance(100))
	require.Equal(t, 50, Tolerance(1000))
}

func TestRepair_CorrectReviewsAboveTotal(t *testing.T) {
	d := validDeck()
	d.TotalReviews = 3
	d.CorrectReviews = 5

	require.True(t, Repair(d, now))
	require.Equal(t, 3, d.CorrectReviews)
	require.Equal(t, 3, d.TotalReviews)
}

func TestRepair_FixesEverythingAndIsIdempotent(t *testing.T) {
	d := corruptedDeck()
	questions := []string{d.Cards[0].Question, d.Cards[1].Question}

	require.True(t, Repair(d, now))
	require.Empty(t, ValidateDeck(d, now))

	require.Equal(t, 3, d.CorrectReviews)
	require.Equal(t, 1.0, d.IntervalModifier)
	require.Equal(t, 1.3, d.EasyBonus)
	require.Equal(t, d.CreatedAt, d.UpdatedAt)
	require.Equal(t, 3, d.Cards[0].DifficultyLevel)
	require.Equal(t, 0, d.Cards[0].CorrectCount)
	require.True(t, d.Cards[0].LastReviewed.Equal(now))
	require.True(t, d.Cards[1].NextReviewDue.Equal(now))
	require.NotEqual(t, uuid.Nil, d.Cards[1].ID)
	require.Equal(t, 0, d.Cards[1].RepetitionCount)
	require.Equal(t, questions, []string{d.Cards[0].Question, d.Cards[1].Question})

	snapshot := d.Clone()
	require.False(t, Repair(d, now))
	require.Equal(t, snapshot, d)

	require.False(t, Repair(d, now.Add(time.Hour)))
}

func TestRepair_MalformedCardsBecomeEmptyList(t *testing.T) {
	d := validDeck()
	d.Cards = nil
	d.CardsMalformed = true

	require.True(t, Repair(d, now))
	require.NotNil(t, d.Cards)
	require.Empty(t, d.Cards)
	require.False(t, d.CardsMalformed)
	require.False(t, Repair(d, now))
}

func TestRepair_CleanDeckUntouched(t *testing.T) {
	d := validDeck()
	before := d.Clone()
	require.False(t, Repair(d, now))
	require.Equal(t, before, d)
}

func TestValidateDeck_DecodeIssuesAreDeckLevel(t *testing.T) {
	d := validDeck()
	d.DecodeIssues = []string{`cards[0].difficultyLevel: stored as string "3", recovered`}

	vs := ValidateDeck(d, now)
	require.Len(t, vs, 1)
	require.True(t, vs[0].DeckLevel())
	require.Equal(t, "document", vs[0].Field)
	require.Len(t, Blocking(vs), 1)

	rep := Check([]*model.Deck{d}, now)
	require.False(t, rep.Clean())
	require.Len(t, rep.CorruptedDecks, 1)
}

func TestRepair_ClearsDecodeIssues(t *testing.T) {
	d := validDeck()
	d.DecodeIssues = []string{"ownerUserId: missing, restored from the storage key"}

	require.True(t, Repair(d, now))
	require.Empty(t, d.DecodeIssues)
	require.Empty(t, ValidateDeck(d, now))
	require.False(t, Repair(d, now))
}

func TestRepair_LeavesUnreadableDocuments(t *testing.T) {
	d := &model.Deck{ID: uuid.Must(uuid.NewV4()), OwnerUserID: "user-1", Cards: []model.Card{}, Unreadable: true,
		DecodeIssues: []string{"document: not a JSON object"}}

	require.False(t, Repair(d, now))
	require.NotEmpty(t, d.DecodeIssues)
	require.NotEmpty(t, ValidateDeck(d, now))
}
