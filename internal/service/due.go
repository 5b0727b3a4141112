package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/retry"
)

const (
	DefaultDueLimit = 20
	MaxDueLimit     = 200
)

// DueService answers "what should I study now".
type DueService interface {
	// GetDueCards returns due cards ordered by due date, never-scheduled cards first.
	GetDueCards(ctx context.Context, userID string, q model.DueQuery) ([]model.DueCard, error)
	// DueSummary counts due cards per deck of the user.
	DueSummary(ctx context.Context, userID string) (model.DueSummary, error)
}

type DueServiceImpl struct {
	repo repository.DeckRepository
	log  *zap.Logger
	now  Clock
}

// NewDueService constructs DueService.
func NewDueService(repo repository.DeckRepository, log *zap.Logger, now Clock) *DueServiceImpl {
	if now == nil {
		now = SystemClock
	}
	return &DueServiceImpl{repo: repo, log: logger(log, "due"), now: now}
}

// NormalizeDueLimit applies the default for non-positive limits and the upper cap.
func NormalizeDueLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultDueLimit
	case limit > MaxDueLimit:
		return MaxDueLimit
	}
	return limit
}

func (s *DueServiceImpl) decks(ctx context.Context, userID string, q model.DueQuery) ([]*model.Deck, error) {
	if q.DeckID == uuid.Nil {
		decks, err := retry.Read(ctx, func(ctx context.Context) ([]*model.Deck, error) {
			return s.repo.Scan(ctx, repository.Filter{OwnerUserID: userID, CourseID: q.CourseID})
		})
		if err != nil {
			return nil, fmt.Errorf("scan decks: %w", err)
		}
		return decks, nil
	}

	// a deck of another owner is reported as missing here
	d, err := retry.Read(ctx, func(ctx context.Context) (*model.Deck, error) {
		return s.repo.Get(ctx, q.DeckID, userID)
	})
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("deck %s: %w", q.DeckID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load deck %s: %w", q.DeckID, err)
	}
	return []*model.Deck{d}, nil
}

func (s *DueServiceImpl) GetDueCards(ctx context.Context, userID string, q model.DueQuery) ([]model.DueCard, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, errs.Validation("limit must not be negative")
	}
	limit := NormalizeDueLimit(q.Limit)

	decks, err := s.decks(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var due []model.DueCard
	for _, d := range decks {
		for i := range d.Cards {
			c := &d.Cards[i]
			if !c.IsDue(now) {
				continue
			}
			due = append(due, model.DueCard{Card: c.Clone(), DeckID: d.ID, DeckTitle: d.Title, CourseID: d.CourseID})
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextReviewDue, due[j].NextReviewDue
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	if due == nil {
		due = []model.DueCard{}
	}
	return due, nil
}

func (s *DueServiceImpl) DueSummary(ctx context.Context, userID string) (model.DueSummary, error) {
	if err := requireUser(userID); err != nil {
		return model.DueSummary{}, err
	}
	decks, err := s.decks(ctx, userID, model.DueQuery{})
	if err != nil {
		return model.DueSummary{}, err
	}

	now := s.now()
	out := model.DueSummary{Decks: make([]model.DeckDueCount, 0, len(decks))}
	for _, d := range decks {
		line := model.DeckDueCount{DeckID: d.ID, Title: d.Title, CourseID: d.CourseID, Total: len(d.Cards)}
		for i := range d.Cards {
			if d.Cards[i].IsDue(now) {
				line.Due++
			}
		}
		out.TotalDue += line.Due
		out.Decks = append(out.Decks, line)
	}
	return out, nil
}
