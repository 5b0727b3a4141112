package service

import (
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/background"
	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/generate"
	"github.com/and161185/cardkeeper/internal/repository"
)

// Services bundles what the transports call.
type Services struct {
	Decks     DeckService
	Due       DueService
	Reviews   ReviewService
	Integrity IntegrityService
	Backups   BackupService
}

// NewServices wires every service over one store, one backup ring and one background queue.
// queue may be nil, in which case post-write checks are skipped.
func NewServices(repo repository.DeckRepository, ring *backup.Ring, queue *background.Queue, gen *generate.Generator, log *zap.Logger, now Clock) Services {
	if now == nil {
		now = SystemClock
	}
	protect := NewProtector(repo, ring, queue, log, now)
	return Services{
		Decks:     NewDeckService(repo, protect, gen, log, now),
		Due:       NewDueService(repo, log, now),
		Reviews:   NewReviewService(repo, protect, log, now),
		Integrity: NewIntegrityService(repo, protect, log, now),
		Backups:   NewBackupService(ring),
	}
}
