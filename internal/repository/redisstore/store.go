// Package redisstore keeps deck documents in Redis. It serves deployments without Postgres and
// local development.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
)

const defaultPrefix = "cardkeeper"

// Store implements repository.DeckRepository. Every deck lives under its own key; set indexes
// per owner and globally make scans possible without SCAN.
type Store struct {
	rdb    goredis.UniversalClient
	log    *zap.Logger
	prefix string
}

var _ repository.DeckRepository = (*Store)(nil)

// Options configures Dial.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Timeout bounds every read and write; zero keeps the client defaults.
	Timeout time.Duration
}

// Dial connects and verifies the connection with PING.
func Dial(ctx context.Context, o Options, log *zap.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, o.Prefix, log), nil
}

// New wraps an existing client. An empty prefix selects the default one.
func New(rdb goredis.UniversalClient, prefix string, log *zap.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, log: log.Named("redisstore"), prefix: prefix}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return classify(s.rdb.Ping(ctx).Err()) }

// Close releases the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) deckKey(userID string, deckID uuid.UUID) string {
	return fmt.Sprintf("%s:deck:%s:%s", s.prefix, userID, deckID)
}

func (s *Store) ownerKey(userID string) string { return fmt.Sprintf("%s:owner:%s", s.prefix, userID) }

func (s *Store) deckOwnerKey(deckID uuid.UUID) string {
	return fmt.Sprintf("%s:deckowner:%s", s.prefix, deckID)
}

func (s *Store) allKey() string { return s.prefix + ":decks" }

// member is the global index entry for a deck.
func member(userID string, deckID uuid.UUID) string { return deckID.String() + "|" + userID }

func parseMember(m string) (string, uuid.UUID, bool) {
	id, user, ok := strings.Cut(m, "|")
	if !ok {
		return "", uuid.Nil, false
	}
	deckID, err := uuid.FromString(id)
	if err != nil {
		return "", uuid.Nil, false
	}
	return user, deckID, true
}

// Get loads one deck.
func (s *Store) Get(ctx context.Context, deckID uuid.UUID, userID string) (*model.Deck, error) {
	raw, err := s.rdb.Get(ctx, s.deckKey(userID, deckID)).Bytes()
	if err != nil {
		return nil, classify(err)
	}
	return repository.DecodeDeck(raw, deckID, userID), nil
}

// deckRef is the key of one deck document.
type deckRef struct {
	userID string
	deckID uuid.UUID
}

// Scan resolves the filter to a key list, then loads the documents with one MGET. Documents are
// decoded against their key, so a damaged document still reaches the caller.
func (s *Store) Scan(ctx context.Context, f repository.Filter) ([]*model.Deck, error) {
	refs, err := s.scanRefs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = s.deckKey(r.userID, r.deckID)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]*model.Deck, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry without document
			continue
		}
		d := repository.DecodeDeck([]byte(str), refs[i].deckID, refs[i].userID)
		if len(d.DecodeIssues) > 0 {
			s.log.Debug("deck document decoded with issues",
				zap.String("key", keys[i]), zap.Strings("issues", d.DecodeIssues))
		}
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) scanRefs(ctx context.Context, f repository.Filter) ([]deckRef, error) {
	switch {
	case f.DeckID != uuid.Nil:
		owner, err := s.rdb.Get(ctx, s.deckOwnerKey(f.DeckID)).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, classify(err)
		}
		if f.OwnerUserID != "" && owner != f.OwnerUserID {
			return nil, nil
		}
		return []deckRef{{userID: owner, deckID: f.DeckID}}, nil

	case f.OwnerUserID != "":
		ids, err := s.rdb.SMembers(ctx, s.ownerKey(f.OwnerUserID)).Result()
		if err != nil {
			return nil, classify(err)
		}
		refs := make([]deckRef, 0, len(ids))
		for _, id := range ids {
			deckID, err := uuid.FromString(id)
			if err != nil {
				continue
			}
			refs = append(refs, deckRef{userID: f.OwnerUserID, deckID: deckID})
		}
		return refs, nil

	default:
		members, err := s.rdb.SMembers(ctx, s.allKey()).Result()
		if err != nil {
			return nil, classify(err)
		}
		refs := make([]deckRef, 0, len(members))
		for _, m := range members {
			user, deckID, ok := parseMember(m)
			if !ok {
				continue
			}
			refs = append(refs, deckRef{userID: user, deckID: deckID})
		}
		return refs, nil
	}
}

// Create stores a new deck. A deck id already owned by anyone is a conflict.
func (s *Store) Create(ctx context.Context, d *model.Deck) error {
	raw, err := repository.EncodeDeck(d)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.deckOwnerKey(d.ID), d.OwnerUserID, 0).Result()
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("deck %s: %w", d.ID, errs.ErrConflict)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.deckKey(d.OwnerUserID, d.ID), raw, 0)
		p.SAdd(ctx, s.ownerKey(d.OwnerUserID), d.ID.String())
		p.SAdd(ctx, s.allKey(), member(d.OwnerUserID, d.ID))
		return nil
	})
	return classify(err)
}

// Update applies the patch to the stored document and writes it back only if the key still exists.
func (s *Store) Update(ctx context.Context, deckID uuid.UUID, userID string, patch model.DeckPatch) error {
	d, err := s.Get(ctx, deckID, userID)
	if err != nil {
		return err
	}
	patch.Apply(d)
	raw, err := repository.EncodeDeck(d)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, s.deckKey(userID, deckID), raw, goredis.KeepTTL).Result()
	if err != nil {
		return classify(err)
	}
	if !ok {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the document and its index entries.
func (s *Store) Delete(ctx context.Context, deckID uuid.UUID, userID string) error {
	var del *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, s.deckKey(userID, deckID))
		p.SRem(ctx, s.ownerKey(userID), deckID.String())
		p.SRem(ctx, s.allKey(), member(userID, deckID))
		return nil
	})
	if err != nil {
		return classify(err)
	}
	if del.Val() == 0 {
		return errs.ErrNotFound
	}
	// the owner index is only dropped when it points at this user
	owner, err := s.rdb.Get(ctx, s.deckOwnerKey(deckID)).Result()
	if err == nil && owner == userID {
		if err = s.rdb.Del(ctx, s.deckOwnerKey(deckID)).Err(); err != nil {
			s.log.Warn("drop deck owner index", zap.String("deck_id", deckID.String()), zap.Error(err))
		}
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return errs.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, goredis.ErrClosed) {
		return errs.Transient(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return errs.Transient(err)
	}
	if strings.HasPrefix(err.Error(), "LOADING") || strings.HasPrefix(err.Error(), "TRYAGAIN") {
		return errs.Transient(err)
	}
	return err
}
