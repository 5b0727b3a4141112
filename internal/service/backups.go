package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
)

// BackupService exposes the in-memory pre-images. Restoring returns the payload only; writing it
// back is up to the caller.
type BackupService interface {
	GetBackupHistory(ctx context.Context, userID string, deckID uuid.UUID, limit int) ([]model.BackupRecord, error)
	RestoreFromBackup(ctx context.Context, userID string, deckID uuid.UUID, at time.Time) (*model.Deck, error)
}

type BackupServiceImpl struct {
	ring *backup.Ring
}

// NewBackupService constructs BackupService over the protector's ring.
func NewBackupService(ring *backup.Ring) *BackupServiceImpl { return &BackupServiceImpl{ring: ring} }

// GetBackupHistory lists the user's records newest first; uuid.Nil selects every deck.
func (s *BackupServiceImpl) GetBackupHistory(_ context.Context, userID string, deckID uuid.UUID, limit int) ([]model.BackupRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, errs.Validation("limit must not be negative")
	}
	return s.ring.History(userID, deckID, limit), nil
}

func (s *BackupServiceImpl) RestoreFromBackup(_ context.Context, userID string, deckID uuid.UUID, at time.Time) (*model.Deck, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := requireID("deckId", deckID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, errs.Validation("timestamp is required")
	}
	rec, ok := s.ring.Find(userID, deckID, at)
	if !ok {
		return nil, fmt.Errorf("backup of deck %s at %s: %w", deckID, at.UTC().Format(time.RFC3339Nano), errs.ErrNotFound)
	}
	return rec.Payload, nil
}
