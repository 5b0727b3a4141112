package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestDeckClone_IsDeep(t *testing.T) {
	now := time.Now().UTC()
	avg := 2.5
	d := &Deck{
		ID:    uuid.Must(uuid.NewV4()),
		Title: "bio",
		Cards: []Card{{ID: uuid.Must(uuid.NewV4()), Question: "q", NextReviewDue: &now, AverageThinkingTime: &avg}},
	}

	cp := d.Clone()
	cp.Title = "changed"
	cp.Cards[0].Question = "other"
	*cp.Cards[0].NextReviewDue = now.Add(time.Hour)
	*cp.Cards[0].AverageThinkingTime = 9

	require.Equal(t, "bio", d.Title)
	require.Equal(t, "q", d.Cards[0].Question)
	require.True(t, d.Cards[0].NextReviewDue.Equal(now))
	require.Equal(t, 2.5, *d.Cards[0].AverageThinkingTime)

	var nilDeck *Deck
	require.Nil(t, nilDeck.Clone())
}

func TestCard_IsDue(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	require.True(t, (&Card{}).IsDue(now))
	require.True(t, (&Card{NextReviewDue: &past}).IsDue(now))
	require.True(t, (&Card{NextReviewDue: &now}).IsDue(now))
	require.False(t, (&Card{NextReviewDue: &future}).IsDue(now))
}

func TestDeck_HasDuplicate(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	d := &Deck{Cards: []Card{{ID: id, Question: "What is ATP?", Answer: "Energy currency"}}}

	require.True(t, d.HasDuplicate("  what is atp? ", "ENERGY CURRENCY\r\n", uuid.Nil))
	require.False(t, d.HasDuplicate("What is ADP?", "Energy currency", uuid.Nil))
	require.False(t, d.HasDuplicate("What is ATP?", "Energy currency", id), "a card never duplicates itself")
	require.Equal(t, 0, d.CardIndex(id))
	require.Equal(t, -1, d.CardIndex(uuid.Must(uuid.NewV4())))
}

func TestCard_Accuracy(t *testing.T) {
	require.Zero(t, (&Card{}).Accuracy())
	require.InDelta(t, 0.75, (&Card{CorrectCount: 3, IncorrectCount: 1}).Accuracy(), 1e-9)
}

func TestParseRating(t *testing.T) {
	for in, want := range map[string]Rating{"again": Again, "Hard": Hard, " good ": Good, "4": Easy, "1": Again} {
		got, err := ParseRating(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0", "5", "meh"} {
		_, err := ParseRating(bad)
		require.Error(t, err, bad)
	}
	require.Equal(t, "easy", Easy.String())
	require.False(t, Rating(0).Valid())
}

func TestDeckPatch_Apply(t *testing.T) {
	d := &Deck{Title: "a", TotalReviews: 3, CardsMalformed: true}
	title := "b"
	total := 7
	cards := []Card{}
	DeckPatch{Title: &title, TotalReviews: &total, Cards: &cards}.Apply(d)

	require.Equal(t, "b", d.Title)
	require.Equal(t, 7, d.TotalReviews)
	require.NotNil(t, d.Cards)
	require.False(t, d.CardsMalformed)

	full := FullPatch(&Deck{Title: "x"})
	require.NotNil(t, full.Cards)
	require.Empty(t, *full.Cards)

	id := uuid.Must(uuid.NewV4())
	restored := &Deck{}
	FullPatch(&Deck{ID: id, OwnerUserID: "u1", CourseID: "c1"}).Apply(restored)
	require.Equal(t, id, restored.ID)
	require.Equal(t, "u1", restored.OwnerUserID)
	require.Equal(t, "c1", restored.CourseID)
}

func TestDeck_CloneCopiesDecodeIssues(t *testing.T) {
	d := &Deck{DecodeIssues: []string{"title: not a string, kept its JSON text"}}
	cp := d.Clone()
	cp.DecodeIssues[0] = "changed"
	require.Equal(t, "title: not a string, kept its JSON text", d.DecodeIssues[0])
}

func TestRating_UnmarshalJSON(t *testing.T) {
	var req ReviewRequest
	require.NoError(t, json.Unmarshal([]byte(`{"rating":"good","confidence":4}`), &req))
	require.Equal(t, Good, req.Rating)
	require.Equal(t, 4, *req.Confidence)

	require.NoError(t, json.Unmarshal([]byte(`{"rating":2}`), &req))
	require.Equal(t, Hard, req.Rating)

	// out of range numbers decode; the review path rejects them
	require.NoError(t, json.Unmarshal([]byte(`{"rating":9}`), &req))
	require.False(t, req.Rating.Valid())

	require.Error(t, json.Unmarshal([]byte(`{"rating":"meh"}`), &req))
	require.Error(t, json.Unmarshal([]byte(`{"rating":true}`), &req))
}
