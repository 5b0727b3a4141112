package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/cardkeeper/internal/backup"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/repository/memstore"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// flakyRepo wraps the in-memory store, injects queued errors and counts calls.
type flakyRepo struct {
	*memstore.Store

	mu        sync.Mutex
	getErrs   []error
	scanErrs  []error
	updateErr error
	gets      int
	scans     int
	updates   int
}

var _ repository.DeckRepository = (*flakyRepo)(nil)

func (f *flakyRepo) Get(ctx context.Context, deckID uuid.UUID, userID string) (*model.Deck, error) {
	f.mu.Lock()
	f.gets++
	var err error
	if len(f.getErrs) > 0 {
		err, f.getErrs = f.getErrs[0], f.getErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, deckID, userID)
}

func (f *flakyRepo) Scan(ctx context.Context, flt repository.Filter) ([]*model.Deck, error) {
	f.mu.Lock()
	f.scans++
	var err error
	if len(f.scanErrs) > 0 {
		err, f.scanErrs = f.scanErrs[0], f.scanErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Scan(ctx, flt)
}

func (f *flakyRepo) Update(ctx context.Context, deckID uuid.UUID, userID string, p model.DeckPatch) error {
	f.mu.Lock()
	f.updates++
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Update(ctx, deckID, userID, p)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fixture struct {
	repo    *flakyRepo
	ring    *backup.Ring
	clock   *fakeClock
	protect *Protector
	decks   *DeckServiceImpl
	reviews *ReviewServiceImpl
	due     *DueServiceImpl
	integ   *IntegrityServiceImpl
	backups *BackupServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{
		repo:  &flakyRepo{Store: memstore.New()},
		ring:  backup.NewRing(backup.DefaultCapacity),
		clock: &fakeClock{t: t0},
	}
	f.protect = NewProtector(f.repo, f.ring, nil, log, f.clock.Now)
	f.decks = NewDeckService(f.repo, f.protect, nil, log, f.clock.Now)
	f.reviews = NewReviewService(f.repo, f.protect, log, f.clock.Now)
	f.due = NewDueService(f.repo, log, f.clock.Now)
	f.integ = NewIntegrityService(f.repo, f.protect, log, f.clock.Now)
	f.backups = NewBackupService(f.ring)
	return f
}

func (f *fixture) resetCounters() {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.gets, f.repo.scans, f.repo.updates = 0, 0, 0
}

// seedDeck stores a valid deck with the given cards for user.
func (f *fixture) seedDeck(t *testing.T, user string, cards ...model.Card) *model.Deck {
	t.Helper()
	d := &model.Deck{
		ID:               uuid.Must(uuid.NewV4()),
		OwnerUserID:      user,
		CourseID:         "course-1",
		Title:            "Deck " + user,
		Cards:            cards,
		IntervalModifier: model.DefaultIntervalModifier,
		EasyBonus:        model.DefaultEasyBonus,
		CreatedAt:        t0.Add(-48 * time.Hour),
		UpdatedAt:        t0.Add(-48 * time.Hour),
	}
	for _, c := range cards {
		d.TotalReviews += c.CorrectCount + c.IncorrectCount
		d.CorrectReviews += c.CorrectCount
	}
	require.NoError(t, f.repo.Store.Create(context.Background(), d))
	return d
}

func (f *fixture) load(t *testing.T, d *model.Deck) *model.Deck {
	t.Helper()
	got, err := f.repo.Store.Get(context.Background(), d.ID, d.OwnerUserID)
	require.NoError(t, err)
	return got
}

func newTestCard(q string, due *time.Time) model.Card {
	return model.Card{
		ID:              uuid.Must(uuid.NewV4()),
		Question:        q,
		Answer:          "answer to " + q,
		DifficultyLevel: model.DefaultDifficultyLevel,
		NextReviewDue:   due,
	}
}
