// Package service implements the deck, review, due-card, integrity and backup use cases on top of
// a repository.DeckRepository.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/retry"
)

// Clock returns the current time. Services take it as a dependency so tests can pin it.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// loadOwned is loadStored for callers that read or rewrite deck content. A document that is not a
// JSON object fails with an IntegrityError until it is deleted or restored.
func loadOwned(ctx context.Context, repo repository.DeckRepository, deckID uuid.UUID, userID string) (*model.Deck, error) {
	d, err := loadStored(ctx, repo, deckID, userID)
	if err != nil {
		return nil, err
	}
	if d.Unreadable {
		return nil, fmt.Errorf("deck %s: %w", deckID, &errs.IntegrityError{Violations: d.DecodeIssues})
	}
	return d, nil
}

// loadStored reads a deck with retries. A deck that exists under another owner is reported as
// ErrForbidden so the caller can tell it apart from a missing one.
func loadStored(ctx context.Context, repo repository.DeckRepository, deckID uuid.UUID, userID string) (*model.Deck, error) {
	d, err := retry.Read(ctx, func(ctx context.Context) (*model.Deck, error) {
		return repo.Get(ctx, deckID, userID)
	})
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("load deck %s: %w", deckID, err)
	}

	others, scanErr := retry.Read(ctx, func(ctx context.Context) ([]*model.Deck, error) {
		return repo.Scan(ctx, repository.Filter{DeckID: deckID})
	})
	if scanErr == nil && len(others) > 0 {
		return nil, fmt.Errorf("deck %s: %w", deckID, errs.ErrForbidden)
	}
	return nil, fmt.Errorf("deck %s: %w", deckID, errs.ErrNotFound)
}

func requireUser(userID string) error {
	if userID == "" {
		return errs.Validation("userId is required")
	}
	return nil
}

func requireID(name string, id uuid.UUID) error {
	if id == uuid.Nil {
		return errs.Validation("%s is required", name)
	}
	return nil
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func ptr[T any](v T) *T { return &v }

func cardsPatch(d *model.Deck) model.DeckPatch {
	cards := d.Cards
	if cards == nil {
		cards = []model.Card{}
	}
	return model.DeckPatch{Cards: &cards, UpdatedAt: ptr(d.UpdatedAt)}
}

func logger(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(name)
}
