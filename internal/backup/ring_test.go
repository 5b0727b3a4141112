package backup

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cardkeeper/internal/model"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func deck(user string) *model.Deck {
	return &model.Deck{
		ID:          uuid.Must(uuid.NewV4()),
		OwnerUserID: user,
		Title:       "deck",
		Cards:       []model.Card{{ID: uuid.Must(uuid.NewV4()), Question: "q", Answer: "a"}},
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(3)
	d := deck("u1")
	for i := 0; i < 5; i++ {
		r.Add("review", d, t0.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, 3, r.Len())

	h := r.History("u1", uuid.Nil, 10)
	require.Len(t, h, 3)
	require.Equal(t, t0.Add(4*time.Second), h[0].Timestamp)
	require.Equal(t, t0.Add(2*time.Second), h[2].Timestamp)
}

func TestRing_PayloadIsIsolated(t *testing.T) {
	r := NewRing(10)
	d := deck("u1")
	r.Add("review", d, t0)

	d.Title = "changed"
	d.Cards[0].Question = "changed"

	h := r.History("u1", d.ID, 1)
	require.Equal(t, "deck", h[0].Payload.Title)
	require.Equal(t, "q", h[0].Payload.Cards[0].Question)

	h[0].Payload.Title = "mutated by caller"
	again := r.History("u1", d.ID, 1)
	require.Equal(t, "deck", again[0].Payload.Title)
}

func TestRing_HistoryFiltersAndLimits(t *testing.T) {
	r := NewRing(100)
	a, b, other := deck("u1"), deck("u1"), deck("u2")
	for i := 0; i < 60; i++ {
		r.Add("review", a, t0.Add(time.Duration(i)*time.Millisecond))
	}
	r.Add("deleteDeck", b, t0.Add(time.Hour))
	r.Add("review", other, t0.Add(2*time.Hour))

	require.Len(t, r.History("u1", uuid.Nil, 0), DefaultHistoryLimit)
	require.Len(t, r.History("u1", uuid.Nil, 500), MaxHistoryLimit)

	hb := r.History("u1", b.ID, 5)
	require.Len(t, hb, 1)
	require.Equal(t, "deleteDeck", hb[0].Operation)

	require.Empty(t, r.History("u3", uuid.Nil, 5))
	require.Len(t, r.History("u2", uuid.Nil, 5), 1)
}

func TestRing_FindMillisecondPrecision(t *testing.T) {
	r := NewRing(10)
	d := deck("u1")
	at := t0.Add(123*time.Millisecond + 456*time.Microsecond)
	r.Add("review", d, at)

	rec, ok := r.Find("u1", d.ID, t0.Add(123*time.Millisecond))
	require.True(t, ok)
	require.Equal(t, d.ID, rec.DeckID)

	_, ok = r.Find("u1", d.ID, t0.Add(124*time.Millisecond))
	require.False(t, ok)
	_, ok = r.Find("u2", d.ID, at)
	require.False(t, ok)
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, 10, NormalizeLimit(-1))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 50, NormalizeLimit(51))
}
