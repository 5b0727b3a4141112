package redisstore

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
)

func TestKeys(t *testing.T) {
	s := New(nil, "", nil)
	id := uuid.FromStringOrNil("7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01")
	require.Equal(t, "cardkeeper:deck:u1:7b4f3b2c-8d5c-4f7e-9a37-3f8a4e2b1c01", s.deckKey("u1", id))
	require.Equal(t, "cardkeeper:owner:u1", s.ownerKey("u1"))
	require.Equal(t, "cardkeeper:decks", s.allKey())

	user, deckID, ok := parseMember(member("u:1", id))
	require.True(t, ok)
	require.Equal(t, "u:1", user)
	require.Equal(t, id, deckID)

	_, _, ok = parseMember("garbage")
	require.False(t, ok)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))
	require.ErrorIs(t, classify(goredis.Nil), errs.ErrNotFound)
	require.True(t, errs.IsTransient(classify(io.EOF)))
	require.True(t, errs.IsTransient(classify(context.DeadlineExceeded)))
	require.True(t, errs.IsTransient(classify(errors.New("LOADING Redis is loading the dataset in memory"))))
	require.False(t, errs.IsTransient(classify(errors.New("WRONGTYPE"))))
}

// TestStore_Integration runs against a real server when CARDKEEPER_TEST_REDIS_ADDR is set.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("CARDKEEPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CARDKEEPER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	defer rdb.Close()

	prefix := "cardkeeper-test-" + uuid.Must(uuid.NewV4()).String()
	s := New(rdb, prefix, zaptest.NewLogger(t))

	now := time.Now().UTC().Truncate(time.Second)
	d := &model.Deck{
		ID: uuid.Must(uuid.NewV4()), OwnerUserID: "u1", CourseID: "c1", Title: "t",
		IntervalModifier: 1, EasyBonus: 1.3, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Create(ctx, d))
	require.ErrorIs(t, s.Create(ctx, d), errs.ErrConflict)

	total := 3
	require.NoError(t, s.Update(ctx, d.ID, "u1", model.DeckPatch{TotalReviews: &total}))
	require.ErrorIs(t, s.Update(ctx, d.ID, "u2", model.DeckPatch{TotalReviews: &total}), errs.ErrNotFound)

	got, err := s.Get(ctx, d.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, got.TotalReviews)

	decks, err := s.Scan(ctx, repository.Filter{DeckID: d.ID})
	require.NoError(t, err)
	require.Len(t, decks, 1)
	require.Equal(t, "u1", decks[0].OwnerUserID)

	decks, err = s.Scan(ctx, repository.Filter{OwnerUserID: "u1", CourseID: "other"})
	require.NoError(t, err)
	require.Empty(t, decks)

	// a hand-written document without ownerUserId and with a quoted counter
	damaged := uuid.Must(uuid.NewV4())
	require.NoError(t, rdb.Set(ctx, s.deckKey("u1", damaged), `{"title":"x","totalReviews":"2","cards":[]}`, 0).Err())
	require.NoError(t, rdb.SAdd(ctx, s.ownerKey("u1"), damaged.String()).Err())
	decks, err = s.Scan(ctx, repository.Filter{OwnerUserID: "u1"})
	require.NoError(t, err)
	require.Len(t, decks, 2)
	for _, got := range decks {
		if got.ID == damaged {
			require.Equal(t, "u1", got.OwnerUserID)
			require.Equal(t, 2, got.TotalReviews)
			require.NotEmpty(t, got.DecodeIssues)
		}
	}

	require.NoError(t, s.Delete(ctx, d.ID, "u1"))
	require.ErrorIs(t, s.Delete(ctx, d.ID, "u1"), errs.ErrNotFound)
}
