// Package backup keeps recent deck pre-images in a bounded in-memory ring.
package backup

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/model"
)

const (
	DefaultCapacity     = 100
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

// Ring is a fixed-capacity FIFO of backup records shared by all users. When full, the oldest
// record is overwritten. Records are lost on restart.
type Ring struct {
	mu   sync.Mutex
	buf  []model.BackupRecord
	next int
	size int
}

// NewRing returns a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]model.BackupRecord, capacity)}
}

// Add stores a deep copy of the deck as it was before operation.
func (r *Ring) Add(operation string, d *model.Deck, at time.Time) model.BackupRecord {
	rec := model.BackupRecord{
		OwnerUserID: d.OwnerUserID,
		DeckID:      d.ID,
		Operation:   operation,
		Timestamp:   at.UTC(),
		Payload:     d.Clone(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	return rec
}

// Len returns the number of records held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// each visits records newest first until fn returns false.
func (r *Ring) each(fn func(rec model.BackupRecord) bool) {
	for i := 1; i <= r.size; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		if !fn(r.buf[idx]) {
			return
		}
	}
}

// History returns the user's records, newest first. deckID uuid.Nil means every deck. limit is
// normalized to [1, MaxHistoryLimit] with DefaultHistoryLimit for zero or negative values.
func (r *Ring) History(userID string, deckID uuid.UUID, limit int) []model.BackupRecord {
	limit = NormalizeLimit(limit)

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.BackupRecord, 0, limit)
	r.each(func(rec model.BackupRecord) bool {
		if rec.OwnerUserID != userID || (deckID != uuid.Nil && rec.DeckID != deckID) {
			return true
		}
		out = append(out, copyRecord(rec))
		return len(out) < limit
	})
	return out
}

// Find returns the newest record of the deck whose timestamp equals at to the millisecond.
func (r *Ring) Find(userID string, deckID uuid.UUID, at time.Time) (model.BackupRecord, bool) {
	want := at.UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		found model.BackupRecord
		ok    bool
	)
	r.each(func(rec model.BackupRecord) bool {
		if rec.OwnerUserID == userID && rec.DeckID == deckID && rec.Timestamp.UnixMilli() == want {
			found, ok = copyRecord(rec), true
			return false
		}
		return true
	})
	return found, ok
}

// NormalizeLimit applies the history default and cap.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

func copyRecord(rec model.BackupRecord) model.BackupRecord {
	rec.Payload = rec.Payload.Clone()
	return rec
}
