package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/background"
	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/integrity"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/retry"
)

// Backup operation names.
const (
	OpReview         = "review"
	OpUpdateSettings = "updateDeckSettings"
	OpDeleteDeck     = "deleteDeck"
	OpAddCard        = "addCard"
	OpUpdateCard     = "updateCard"
	OpDeleteCard     = "deleteCard"
	OpImportCards    = "importCards"
	OpGenerateCards  = "generateCards"
	OpRepair         = "repair"
)

// Protector wraps every deck write: pre-image snapshot, invariant validation, one store update
// and best-effort post-write checks on the background queue.
type Protector struct {
	repo  repository.DeckRepository
	ring  *backup.Ring
	queue *background.Queue
	log   *zap.Logger
	now   Clock
}

// NewProtector wires the write guard. queue may be nil, which disables post-write checks.
func NewProtector(repo repository.DeckRepository, ring *backup.Ring, queue *background.Queue, log *zap.Logger, now Clock) *Protector {
	if ring == nil {
		ring = backup.NewRing(backup.DefaultCapacity)
	}
	if now == nil {
		now = SystemClock
	}
	return &Protector{repo: repo, ring: ring, queue: queue, log: logger(log, "protector"), now: now}
}

// Ring exposes the backup buffer to the backup service.
func (p *Protector) Ring() *backup.Ring { return p.ring }

// Snapshot records a deep copy of d before operation mutates it.
func (p *Protector) Snapshot(operation string, d *model.Deck) model.BackupRecord {
	return p.ring.Add(operation, d, p.now())
}

// Validate rejects a mutated deck that breaks a deck-level invariant or an invariant of one of
// the touched cards.
func (p *Protector) Validate(d *model.Deck, now time.Time, touched ...uuid.UUID) error {
	vs := integrity.Blocking(integrity.ValidateDeck(d, now), touched...)
	if len(vs) == 0 {
		return nil
	}
	return &errs.IntegrityError{Violations: integrity.Strings(vs)}
}

// Write validates d, persists patch with a single update and schedules the post-write checks.
// Writes are never retried.
func (p *Protector) Write(ctx context.Context, operation string, d *model.Deck, patch model.DeckPatch, touched ...uuid.UUID) error {
	if err := p.Validate(d, p.now(), touched...); err != nil {
		p.log.Warn("write aborted by validation",
			zap.String("operation", operation),
			zap.String("deck_id", d.ID.String()),
			zap.Error(err))
		return err
	}
	if err := p.repo.Update(ctx, d.ID, d.OwnerUserID, patch); err != nil {
		return fmt.Errorf("%s: update deck %s: %w", operation, d.ID, err)
	}
	p.AfterWrite(operation, d, touched...)
	return nil
}

// AfterWrite enqueues a read-back verification of want and an integrity check of the owner's
// decks. Both only log.
func (p *Protector) AfterWrite(operation string, want *model.Deck, touched ...uuid.UUID) {
	if p.queue == nil {
		return
	}
	want = want.Clone()
	p.queue.Submit(background.Job{
		Name: "verify:" + operation,
		Run: func(ctx context.Context) error {
			return p.verify(ctx, want, touched)
		},
	})
	p.ScheduleCheck(want.OwnerUserID)
}

// ScheduleCheck enqueues an integrity check of one user's decks. Checks for the same user
// coalesce.
func (p *Protector) ScheduleCheck(userID string) {
	if p.queue == nil {
		return
	}
	p.queue.Submit(background.Job{
		Name: "integrity-check",
		Key:  "integrity:" + userID,
		Run: func(ctx context.Context) error {
			return p.check(ctx, userID)
		},
	})
}

func (p *Protector) verify(ctx context.Context, want *model.Deck, touched []uuid.UUID) error {
	got, err := retry.Read(ctx, func(ctx context.Context) (*model.Deck, error) {
		return p.repo.Get(ctx, want.ID, want.OwnerUserID)
	})
	if err != nil {
		return fmt.Errorf("verify deck %s: %w", want.ID, err)
	}
	if diffs := compare(want, got, touched); len(diffs) > 0 {
		p.log.Warn("post-write verification mismatch",
			zap.String("deck_id", want.ID.String()),
			zap.String("owner_user_id", want.OwnerUserID),
			zap.Strings("differences", diffs))
	}
	return nil
}

func (p *Protector) check(ctx context.Context, userID string) error {
	decks, err := retry.Read(ctx, func(ctx context.Context) ([]*model.Deck, error) {
		return p.repo.Scan(ctx, repository.Filter{OwnerUserID: userID})
	})
	if err != nil {
		return fmt.Errorf("integrity check for %s: %w", userID, err)
	}
	report := integrity.Check(decks, p.now())
	if !report.Clean() {
		p.log.Warn("integrity issues detected",
			zap.String("owner_user_id", userID),
			zap.Int("corrupted_decks", len(report.CorruptedDecks)),
			zap.Int("invalid_cards", len(report.InvalidCards)),
			zap.Int("stat_drift", len(report.StatDrift)))
	}
	return nil
}

// compare lists what the store lost from a write: aggregate counters, card count and the state
// of every touched card.
func compare(want, got *model.Deck, touched []uuid.UUID) []string {
	var diffs []string
	if want.TotalReviews != got.TotalReviews {
		diffs = append(diffs, fmt.Sprintf("totalReviews: want %d, got %d", want.TotalReviews, got.TotalReviews))
	}
	if want.CorrectReviews != got.CorrectReviews {
		diffs = append(diffs, fmt.Sprintf("correctReviews: want %d, got %d", want.CorrectReviews, got.CorrectReviews))
	}
	if len(want.Cards) != len(got.Cards) {
		diffs = append(diffs, fmt.Sprintf("cards: want %d, got %d", len(want.Cards), len(got.Cards)))
	}
	for _, id := range touched {
		wi, gi := want.CardIndex(id), got.CardIndex(id)
		switch {
		case wi < 0 && gi < 0:
		case wi < 0 || gi < 0:
			diffs = append(diffs, fmt.Sprintf("card %s: present=%t, stored=%t", id, wi >= 0, gi >= 0))
		default:
			w, g := want.Cards[wi], got.Cards[gi]
			if w.RepetitionCount != g.RepetitionCount {
				diffs = append(diffs, fmt.Sprintf("card %s repetitionCount: want %d, got %d", id, w.RepetitionCount, g.RepetitionCount))
			}
			if !sameTime(w.NextReviewDue, g.NextReviewDue) {
				diffs = append(diffs, fmt.Sprintf("card %s nextReviewDue differs", id))
			}
		}
	}
	return diffs
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
