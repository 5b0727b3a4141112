// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Deck tunables applied when the caller does not provide them.
const (
	DefaultIntervalModifier = 1.0
	DefaultEasyBonus        = 1.3
	DefaultDifficultyLevel  = 3
	MinDifficultyLevel      = 1
	MaxDifficultyLevel      = 5
)

// Deck is one owner's collection of flashcards for a course. It is stored as a single document
// keyed by (ID, OwnerUserID).
type Deck struct {
	ID               uuid.UUID `json:"deckId"`
	OwnerUserID      string    `json:"ownerUserId"`
	CourseID         string    `json:"courseId"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Cards            []Card    `json:"cards"`
	IntervalModifier float64   `json:"intervalModifier"`
	EasyBonus        float64   `json:"easyBonus"`
	TotalReviews     int       `json:"totalReviews"`
	CorrectReviews   int       `json:"correctReviews"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	// CardsMalformed is set by the store when the persisted cards value was not a list.
	CardsMalformed bool `json:"-"`
	// DecodeIssues lists stored values that had to be recovered or reset while decoding.
	DecodeIssues []string `json:"-"`
	// Unreadable marks a document that was not a JSON object; only the key fields are known.
	Unreadable bool `json:"-"`
}

// Card is a single question/answer flashcard with its scheduling state. Cards live inside their
// deck document and have no storage of their own.
type Card struct {
	ID              uuid.UUID  `json:"cardId"`
	Question        string     `json:"question"`
	Answer          string     `json:"answer"`
	ChapterID       string     `json:"chapterId"`
	SectionID       string     `json:"sectionId"`
	DifficultyLevel int        `json:"difficultyLevel"`
	LastReviewed    *time.Time `json:"lastReviewed,omitempty"`
	NextReviewDue   *time.Time `json:"nextReviewDue,omitempty"`
	RepetitionCount int        `json:"repetitionCount"`
	CorrectCount    int        `json:"correctCount"`
	IncorrectCount  int        `json:"incorrectCount"`
	AIGenerated     bool       `json:"aiGenerated,omitempty"`

	AverageThinkingTime *float64 `json:"averageThinkingTime,omitempty"` // seconds
	LastConfidence      *int     `json:"lastConfidence,omitempty"`
}

// CardIndex returns the position of the card with the given id, or -1.
func (d *Deck) CardIndex(id uuid.UUID) int {
	for i := range d.Cards {
		if d.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

// HasDuplicate reports whether another card (not exceptID) has the same normalized question and
// answer.
func (d *Deck) HasDuplicate(question, answer string, exceptID uuid.UUID) bool {
	key := ContentKey(question, answer)
	for i := range d.Cards {
		if d.Cards[i].ID == exceptID && exceptID != uuid.Nil {
			continue
		}
		if ContentKey(d.Cards[i].Question, d.Cards[i].Answer) == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; the copy shares no pointers with d.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	cp := *d
	if d.DecodeIssues != nil {
		cp.DecodeIssues = append([]string(nil), d.DecodeIssues...)
	}
	if d.Cards != nil {
		cp.Cards = make([]Card, len(d.Cards))
		for i := range d.Cards {
			cp.Cards[i] = d.Cards[i].Clone()
		}
	}
	return &cp
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	cp := c
	if c.LastReviewed != nil {
		t := *c.LastReviewed
		cp.LastReviewed = &t
	}
	if c.NextReviewDue != nil {
		t := *c.NextReviewDue
		cp.NextReviewDue = &t
	}
	if c.AverageThinkingTime != nil {
		v := *c.AverageThinkingTime
		cp.AverageThinkingTime = &v
	}
	if c.LastConfidence != nil {
		v := *c.LastConfidence
		cp.LastConfidence = &v
	}
	return cp
}

// IsDue reports whether the card should be reviewed at now. Cards that were never scheduled are
// always due.
func (c *Card) IsDue(now time.Time) bool {
	return c.NextReviewDue == nil || !c.NextReviewDue.After(now)
}

// Accuracy is the share of correct reviews, 0 when the card was never reviewed.
func (c *Card) Accuracy() float64 {
	n := c.CorrectCount + c.IncorrectCount
	if n <= 0 {
		return 0
	}
	return float64(c.CorrectCount) / float64(n)
}

// NormalizeText lowercases, trims and normalizes line endings so that near-identical texts
// compare equal.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ToLower(s)
	return strings.TrimSpace(s)
}

// ContentKey is the duplicate-detection key of a question/answer pair.
func ContentKey(question, answer string) string {
	return NormalizeText(question) + "\n" + NormalizeText(answer)
}

// DeckPatch carries the fields of a partial deck update. Nil fields are left untouched.
type DeckPatch struct {
	DeckID           *uuid.UUID `json:"deckId,omitempty"`
	OwnerUserID      *string    `json:"ownerUserId,omitempty"`
	CourseID         *string    `json:"courseId,omitempty"`
	Title            *string    `json:"title,omitempty"`
	Description      *string    `json:"description,omitempty"`
	Cards            *[]Card    `json:"cards,omitempty"`
	IntervalModifier *float64   `json:"intervalModifier,omitempty"`
	EasyBonus        *float64   `json:"easyBonus,omitempty"`
	TotalReviews     *int       `json:"totalReviews,omitempty"`
	CorrectReviews   *int       `json:"correctReviews,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

// Apply writes the set fields of p into d.
func (p DeckPatch) Apply(d *Deck) {
	if p.DeckID != nil {
		d.ID = *p.DeckID
	}
	if p.OwnerUserID != nil {
		d.OwnerUserID = *p.OwnerUserID
	}
	if p.CourseID != nil {
		d.CourseID = *p.CourseID
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Cards != nil {
		d.Cards = *p.Cards
		d.CardsMalformed = false
	}
	if p.IntervalModifier != nil {
		d.IntervalModifier = *p.IntervalModifier
	}
	if p.EasyBonus != nil {
		d.EasyBonus = *p.EasyBonus
	}
	if p.TotalReviews != nil {
		d.TotalReviews = *p.TotalReviews
	}
	if p.CorrectReviews != nil {
		d.CorrectReviews = *p.CorrectReviews
	}
	if p.CreatedAt != nil {
		d.CreatedAt = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		d.UpdatedAt = *p.UpdatedAt
	}
}

// FullPatch returns a patch that rewrites every stored field of d, the key fields included.
func FullPatch(d *Deck) DeckPatch {
	cards := d.Cards
	if cards == nil {
		cards = []Card{}
	}
	return DeckPatch{
		DeckID:           &d.ID,
		OwnerUserID:      &d.OwnerUserID,
		CourseID:         &d.CourseID,
		Title:            &d.Title,
		Description:      &d.Description,
		Cards:            &cards,
		IntervalModifier: &d.IntervalModifier,
		EasyBonus:        &d.EasyBonus,
		TotalReviews:     &d.TotalReviews,
		CorrectReviews:   &d.CorrectReviews,
		CreatedAt:        &d.CreatedAt,
		UpdatedAt:        &d.UpdatedAt,
	}
}
