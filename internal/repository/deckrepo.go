// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/model"
)

// Filter narrows a deck scan. Zero fields do not filter.
type Filter struct {
	OwnerUserID string
	CourseID    string
	DeckID      uuid.UUID
}

// Matches reports whether d passes the filter.
func (f Filter) Matches(d *model.Deck) bool {
	if f.OwnerUserID != "" && d.OwnerUserID != f.OwnerUserID {
		return false
	}
	if f.CourseID != "" && d.CourseID != f.CourseID {
		return false
	}
	if f.DeckID != uuid.Nil && d.ID != f.DeckID {
		return false
	}
	return true
}

// DeckRepository stores one document per (deck, owner). It offers no transactions: an update is
// a single last-writer-wins write of the patched fields.
type DeckRepository interface {
	// Get loads a deck. Returns errs.ErrNotFound when no document exists for the key.
	Get(ctx context.Context, deckID uuid.UUID, userID string) (*model.Deck, error)
	// Scan returns every deck matching the filter. Owner and deck id come from the storage key;
	// damaged documents are returned with DecodeIssues set rather than dropped.
	Scan(ctx context.Context, f Filter) ([]*model.Deck, error)
	// Create inserts a new deck document.
	Create(ctx context.Context, d *model.Deck) error
	// Update writes the set fields of patch. Returns errs.ErrNotFound when the key is absent.
	Update(ctx context.Context, deckID uuid.UUID, userID string, patch model.DeckPatch) error
	// Delete removes a deck. Returns errs.ErrNotFound when the key is absent.
	Delete(ctx context.Context, deckID uuid.UUID, userID string) error
}
