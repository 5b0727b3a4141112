package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/scheduler"
)

// ReviewService records card reviews.
type ReviewService interface {
	// SubmitReview schedules the card, updates its statistics and persists the deck. Submitting
	// the same review twice applies it twice.
	SubmitReview(ctx context.Context, in model.ReviewInput) (model.ReviewResult, error)
}

type ReviewServiceImpl struct {
	repo    repository.DeckRepository
	protect *Protector
	log     *zap.Logger
	now     Clock
}

// NewReviewService constructs ReviewService.
func NewReviewService(repo repository.DeckRepository, protect *Protector, log *zap.Logger, now Clock) *ReviewServiceImpl {
	if now == nil {
		now = SystemClock
	}
	return &ReviewServiceImpl{repo: repo, protect: protect, log: logger(log, "review"), now: now}
}

func validateReview(in model.ReviewInput) error {
	if err := requireUser(in.UserID); err != nil {
		return err
	}
	if err := requireID("deckId", in.DeckID); err != nil {
		return err
	}
	if err := requireID("cardId", in.CardID); err != nil {
		return err
	}
	// NaN fails gte and lte, so it is rejected with the range
	return checkStruct(in)
}

// SubmitReview validates the input before touching the store, snapshots the deck, applies the
// scheduler result and writes {cards, totalReviews, correctReviews, updatedAt} once.
func (s *ReviewServiceImpl) SubmitReview(ctx context.Context, in model.ReviewInput) (model.ReviewResult, error) {
	if err := validateReview(in); err != nil {
		return model.ReviewResult{}, err
	}

	d, err := loadOwned(ctx, s.repo, in.DeckID, in.UserID)
	if err != nil {
		return model.ReviewResult{}, err
	}
	idx := d.CardIndex(in.CardID)
	if idx < 0 {
		return model.ReviewResult{}, fmt.Errorf("card %s: %w", in.CardID, errs.ErrNotFound)
	}

	s.protect.Snapshot(OpReview, d)

	now := s.now()
	card := &d.Cards[idx]
	correct := scheduler.IsCorrect(in.Rating)
	if in.IsCorrect != nil {
		correct = *in.IsCorrect
	}

	res := scheduler.Schedule(now, in.Rating, card.RepetitionCount, d.IntervalModifier, d.EasyBonus)
	card.NextReviewDue = &res.NextReviewDue
	card.LastReviewed = ptr(now)
	card.RepetitionCount = res.RepetitionCount
	card.DifficultyLevel = scheduler.AdjustDifficulty(card.DifficultyLevel, in.Rating, correct)
	if correct {
		card.CorrectCount++
		d.CorrectReviews++
	} else {
		card.IncorrectCount++
	}
	d.TotalReviews++
	foldTelemetry(card, in)
	d.UpdatedAt = now

	patch := cardsPatch(d)
	patch.TotalReviews = ptr(d.TotalReviews)
	patch.CorrectReviews = ptr(d.CorrectReviews)
	if err := s.protect.Write(ctx, OpReview, d, patch, card.ID); err != nil {
		return model.ReviewResult{}, err
	}

	s.log.Debug("review recorded",
		zap.String("deck_id", d.ID.String()),
		zap.String("card_id", card.ID.String()),
		zap.Stringer("rating", in.Rating),
		zap.Bool("correct", correct),
		zap.Float64("interval_days", res.IntervalDays))

	return model.ReviewResult{
		NextReviewDue:   res.NextReviewDue,
		RepetitionCount: card.RepetitionCount,
		DifficultyLevel: card.DifficultyLevel,
		IntervalDays:    res.IntervalDays,
		Accuracy:        card.Accuracy(),
	}, nil
}

// foldTelemetry keeps averageThinkingTime as a running mean over the card's answered reviews.
func foldTelemetry(c *model.Card, in model.ReviewInput) {
	if in.ThinkingTime != nil {
		n := c.CorrectCount + c.IncorrectCount
		t := *in.ThinkingTime
		if c.AverageThinkingTime == nil || n <= 1 {
			c.AverageThinkingTime = ptr(t)
		} else {
			avg := *c.AverageThinkingTime
			c.AverageThinkingTime = ptr(avg + (t-avg)/float64(n))
		}
	}
	if in.Confidence != nil {
		c.LastConfidence = ptr(*in.Confidence)
	}
}
