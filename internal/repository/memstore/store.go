// Package memstore is an in-process deck store. Documents are kept encoded so reads behave like
// the persistent backends, including lenient decoding of damaged documents.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
)

type key struct {
	deckID uuid.UUID
	userID string
}

type entry struct {
	raw []byte
	seq uint64
}

// Store implements repository.DeckRepository in memory. A deck id is unique across owners.
type Store struct {
	mu   sync.RWMutex
	docs map[key]entry
	seq  uint64
}

var _ repository.DeckRepository = (*Store)(nil)

// New returns an empty store.
func New() *Store { return &Store{docs: make(map[key]entry)} }

// PutRaw stores a document verbatim, bypassing encoding. Used to seed damaged data.
func (s *Store) PutRaw(deckID uuid.UUID, userID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key{deckID, userID}, raw)
}

func (s *Store) put(k key, raw []byte) {
	e, ok := s.docs[k]
	if !ok {
		s.seq++
		e.seq = s.seq
	}
	e.raw = append([]byte(nil), raw...)
	s.docs[k] = e
}

func (s *Store) Get(_ context.Context, deckID uuid.UUID, userID string) (*model.Deck, error) {
	s.mu.RLock()
	e, ok := s.docs[key{deckID, userID}]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return repository.DecodeDeck(e.raw, deckID, userID), nil
}

type keyed struct {
	key
	entry
}

// Scan returns matching decks in insertion order. Owner and deck id are matched on the key.
func (s *Store) Scan(_ context.Context, f repository.Filter) ([]*model.Deck, error) {
	s.mu.RLock()
	entries := make([]keyed, 0, len(s.docs))
	for k, e := range s.docs {
		if f.OwnerUserID != "" && k.userID != f.OwnerUserID {
			continue
		}
		if f.DeckID != uuid.Nil && k.deckID != f.DeckID {
			continue
		}
		entries = append(entries, keyed{k, e})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*model.Deck, 0, len(entries))
	for _, e := range entries {
		d := repository.DecodeDeck(e.raw, e.deckID, e.userID)
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, d *model.Deck) error {
	raw, err := repository.EncodeDeck(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.docs {
		if k.deckID == d.ID {
			return fmt.Errorf("deck %s: %w", d.ID, errs.ErrConflict)
		}
	}
	s.put(key{d.ID, d.OwnerUserID}, raw)
	return nil
}

func (s *Store) Update(_ context.Context, deckID uuid.UUID, userID string, patch model.DeckPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{deckID, userID}
	e, ok := s.docs[k]
	if !ok {
		return errs.ErrNotFound
	}
	d := repository.DecodeDeck(e.raw, deckID, userID)
	patch.Apply(d)
	raw, err := repository.EncodeDeck(d)
	if err != nil {
		return err
	}
	s.put(k, raw)
	return nil
}

func (s *Store) Delete(_ context.Context, deckID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{deckID, userID}
	if _, ok := s.docs[k]; !ok {
		return errs.ErrNotFound
	}
	delete(s.docs, k)
	return nil
}
