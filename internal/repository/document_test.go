package repository

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cardkeeper/internal/model"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	due := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := &model.Deck{
		ID:          uuid.Must(uuid.NewV4()),
		OwnerUserID: "u1",
		Title:       "t",
		Cards:       []model.Card{{ID: uuid.Must(uuid.NewV4()), Question: "q", Answer: "a", DifficultyLevel: 3, NextReviewDue: &due}},
	}
	raw, err := EncodeDeck(d)
	require.NoError(t, err)

	got := DecodeDeck(raw, d.ID, "u1")
	require.Empty(t, got.DecodeIssues)
	require.False(t, got.CardsMalformed)
	require.Equal(t, d.ID, got.ID)
	require.Len(t, got.Cards, 1)
	require.True(t, got.Cards[0].NextReviewDue.Equal(due))
}

func TestEncodeDeck_NilCardsAsEmptyList(t *testing.T) {
	raw, err := EncodeDeck(&model.Deck{Title: "x"})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"cards":[]`)
}

func TestDecodeDeck_MalformedCards(t *testing.T) {
	for name, doc := range map[string]string{
		"object":  `{"deckId":"7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01","cards":{"a":1}}`,
		"string":  `{"deckId":"7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01","cards":"oops"}`,
		"null":    `{"deckId":"7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01","cards":null}`,
		"missing": `{"deckId":"7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01"}`,
	} {
		t.Run(name, func(t *testing.T) {
			d := DecodeDeck([]byte(doc), uuid.FromStringOrNil("7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01"), "u1")
			require.False(t, d.Unreadable)
			require.True(t, d.CardsMalformed)
			require.NotNil(t, d.Cards)
			require.Empty(t, d.Cards)
		})
	}
}

func TestDecodeDeck_RecoversQuotedScalars(t *testing.T) {
	deckID := uuid.Must(uuid.NewV4())
	d := DecodeDeck([]byte(`{"deckId":"`+deckID.String()+`","ownerUserId":"u1","totalReviews":"4","cards":[{"question":"q","difficultyLevel":"3"}]}`), deckID, "u1")

	require.False(t, d.Unreadable)
	require.Equal(t, 4, d.TotalReviews)
	require.Len(t, d.Cards, 1)
	require.Equal(t, 3, d.Cards[0].DifficultyLevel)
	require.Equal(t, "q", d.Cards[0].Question)
	require.Len(t, d.DecodeIssues, 2)
	require.Contains(t, d.DecodeIssues[0], "totalReviews")
	require.Contains(t, d.DecodeIssues[1], "cards[0].difficultyLevel")
}

func TestDecodeDeck_ResetsUndecodableValues(t *testing.T) {
	d := DecodeDeck([]byte(`{"title":42,"totalReviews":"many","cards":[{"difficultyLevel":"hard"},7]}`), uuid.Must(uuid.NewV4()), "u1")

	require.False(t, d.Unreadable)
	require.Equal(t, "42", d.Title)
	require.Zero(t, d.TotalReviews)
	require.Len(t, d.Cards, 2)
	require.Zero(t, d.Cards[0].DifficultyLevel)
	// title, totalReviews, cards[0].difficultyLevel, cards[1], then both key fields
	require.Len(t, d.DecodeIssues, 6)
}

func TestDecodeDeck_KeyFieldsFromStorageKey(t *testing.T) {
	deckID := uuid.Must(uuid.NewV4())

	d := DecodeDeck([]byte(`{"title":"t","cards":[]}`), deckID, "u1")
	require.Equal(t, deckID, d.ID)
	require.Equal(t, "u1", d.OwnerUserID)
	require.Len(t, d.DecodeIssues, 2)
	require.Contains(t, d.DecodeIssues[1], "ownerUserId: missing")

	d = DecodeDeck([]byte(`{"ownerUserId":"u2","cards":[]}`), deckID, "u1")
	require.Equal(t, "u1", d.OwnerUserID)
	require.Contains(t, d.DecodeIssues, "ownerUserId: differs from the storage key, key wins")
}

func TestDecodeDeck_NotAnObject(t *testing.T) {
	deckID := uuid.Must(uuid.NewV4())
	for _, doc := range []string{`not json`, `null`, `[1,2]`} {
		d := DecodeDeck([]byte(doc), deckID, "u1")
		require.True(t, d.Unreadable, doc)
		require.Equal(t, deckID, d.ID)
		require.Equal(t, "u1", d.OwnerUserID)
		require.Len(t, d.DecodeIssues, 1)
		require.NotNil(t, d.Cards)
	}
}

func TestEncodePatch_OnlySetFields(t *testing.T) {
	total := 4
	raw, err := EncodePatch(model.DeckPatch{TotalReviews: &total})
	require.NoError(t, err)
	require.JSONEq(t, `{"totalReviews":4}`, string(raw))
}

func TestFilter_Matches(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	d := &model.Deck{ID: id, OwnerUserID: "u", CourseID: "c"}
	require.True(t, Filter{}.Matches(d))
	require.True(t, Filter{OwnerUserID: "u", CourseID: "c", DeckID: id}.Matches(d))
	require.False(t, Filter{OwnerUserID: "v"}.Matches(d))
	require.False(t, Filter{CourseID: "x"}.Matches(d))
	require.False(t, Filter{DeckID: uuid.Must(uuid.NewV4())}.Matches(d))
}
