package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// BackupRecord is an in-memory pre-image of a deck taken before a mutation.
type BackupRecord struct {
	OwnerUserID string    `json:"ownerUserId"`
	DeckID      uuid.UUID `json:"deckId"`
	Operation   string    `json:"operation"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     *Deck     `json:"payload"`
}

// DeckViolation lists the broken invariants of one deck.
type DeckViolation struct {
	DeckID      uuid.UUID `json:"deckId"`
	OwnerUserID string    `json:"ownerUserId"`
	Violations  []string  `json:"violations"`
}

// CardViolation lists the broken invariants of one card.
type CardViolation struct {
	DeckID     uuid.UUID `json:"deckId"`
	CardID     uuid.UUID `json:"cardId"`
	Violations []string  `json:"violations"`
}

// StatDrift reports a deck whose aggregate counters diverge from its cards.
type StatDrift struct {
	DeckID         uuid.UUID `json:"deckId"`
	OwnerUserID    string    `json:"ownerUserId"`
	TotalReviews   int       `json:"totalReviews"`
	CardReviewSum  int       `json:"cardReviewSum"`
	CorrectReviews int       `json:"correctReviews"`
	CardCorrectSum int       `json:"cardCorrectSum"`
}

// IntegrityReport is computed on demand and never stored.
type IntegrityReport struct {
	CheckedAt       time.Time       `json:"checkedAt"`
	DecksScanned    int             `json:"decksScanned"`
	CardsScanned    int             `json:"cardsScanned"`
	CorruptedDecks  []DeckViolation `json:"corruptedDecks"`
	InvalidCards    []CardViolation `json:"invalidCards"`
	StatDrift       []StatDrift     `json:"statDrift"`
	Recommendations []string        `json:"recommendations"`
}

// Clean reports whether nothing was found.
func (r *IntegrityReport) Clean() bool {
	return len(r.CorruptedDecks) == 0 && len(r.InvalidCards) == 0 && len(r.StatDrift) == 0
}

// IssueCount sums every finding.
func (r *IntegrityReport) IssueCount() int {
	return len(r.CorruptedDecks) + len(r.InvalidCards) + len(r.StatDrift)
}
