package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Rating is the canonical review outcome scale.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is on the scale.
func (r Rating) Valid() bool { return r >= Again && r <= Easy }

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	default:
		return "rating(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRating accepts either the name ("good") or the number ("3").
func ParseRating(s string) (Rating, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "again":
		return Again, nil
	case "hard":
		return Hard, nil
	case "good":
		return Good, nil
	case "easy":
		return Easy, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !Rating(n).Valid() {
		return 0, fmt.Errorf("unknown rating %q", s)
	}
	return Rating(n), nil
}

// UnmarshalJSON accepts a number or a rating name. Range checks are left to the caller.
func (r *Rating) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*r = Rating(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("rating must be a number or a name: %w", err)
	}
	v, err := ParseRating(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ReviewRequest is the wire body of a review submission.
type ReviewRequest struct {
	Rating       Rating   `json:"rating"`
	IsCorrect    *bool    `json:"isCorrect,omitempty"`
	ThinkingTime *float64 `json:"thinkingTime,omitempty"`
	Confidence   *int     `json:"confidence,omitempty"`
}

// Input binds the request to a card and a caller.
func (r ReviewRequest) Input(userID string, deckID, cardID uuid.UUID) ReviewInput {
	return ReviewInput{
		DeckID:       deckID,
		UserID:       userID,
		CardID:       cardID,
		Rating:       r.Rating,
		IsCorrect:    r.IsCorrect,
		ThinkingTime: r.ThinkingTime,
		Confidence:   r.Confidence,
	}
}

// ReviewInput is one review submission. The bounds are checked with go-playground/validator
// before the store is touched.
type ReviewInput struct {
	DeckID       uuid.UUID `json:"deckId"`
	UserID       string    `json:"userId"`
	CardID       uuid.UUID `json:"cardId"`
	Rating       Rating    `json:"rating" validate:"min=1,max=4"`
	IsCorrect    *bool     `json:"isCorrect,omitempty"`
	ThinkingTime *float64  `json:"thinkingTime,omitempty" validate:"omitempty,gte=0,lte=3600"` // seconds
	Confidence   *int      `json:"confidence,omitempty" validate:"omitempty,min=1,max=5"`
}

// ReviewResult is what the caller learns after a review was persisted.
type ReviewResult struct {
	NextReviewDue   time.Time `json:"nextReviewDue"`
	RepetitionCount int       `json:"repetitionCount"`
	DifficultyLevel int       `json:"difficultyLevel"`
	IntervalDays    float64   `json:"intervalDays"`
	Accuracy        float64   `json:"accuracy"`
}

// DueCard is a card enriched with its parent deck's metadata at query time.
type DueCard struct {
	Card
	DeckID    uuid.UUID `json:"deckId"`
	DeckTitle string    `json:"deckTitle"`
	CourseID  string    `json:"courseId"`
}

// DueQuery narrows a due-card lookup.
type DueQuery struct {
	DeckID   uuid.UUID // uuid.Nil means every deck of the user
	CourseID string
	Limit    int
}

// DeckDueCount is one line of the due summary.
type DeckDueCount struct {
	DeckID   uuid.UUID `json:"deckId"`
	Title    string    `json:"title"`
	CourseID string    `json:"courseId"`
	Due      int       `json:"due"`
	Total    int       `json:"total"`
}

// DueSummary aggregates due counts over a user's decks.
type DueSummary struct {
	Decks    []DeckDueCount `json:"decks"`
	TotalDue int            `json:"totalDue"`
}
