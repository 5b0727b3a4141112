package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
)

// DeckRepo implements repository.DeckRepository on a JSONB document table.
type DeckRepo struct {
	db  *DB
	log *zap.Logger
}

// NewDeckRepo constructs a deck repository.
func NewDeckRepo(db *DB, log *zap.Logger) *DeckRepo {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeckRepo{db: db, log: log}
}

var _ repository.DeckRepository = (*DeckRepo)(nil)

// Get loads one deck by its composite key.
func (r *DeckRepo) Get(ctx context.Context, deckID uuid.UUID, userID string) (*model.Deck, error) {
	ctx, cancel := r.db.callCtx(ctx)
	defer cancel()

	const q = `SELECT doc FROM decks WHERE deck_id=$1 AND owner_user_id=$2`
	var raw []byte
	if err := r.db.Pool.QueryRow(ctx, q, deckID, userID).Scan(&raw); err != nil {
		return nil, classify(err)
	}
	return repository.DecodeDeck(raw, deckID, userID), nil
}

// Scan returns all decks matching f, oldest first.
func (r *DeckRepo) Scan(ctx context.Context, f repository.Filter) ([]*model.Deck, error) {
	ctx, cancel := r.db.callCtx(ctx)
	defer cancel()

	q, args := scanQuery(f)
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*model.Deck
	for rows.Next() {
		var (
			id, owner string
			raw       []byte
		)
		if err = rows.Scan(&id, &owner, &raw); err != nil {
			return nil, classify(err)
		}
		deckID, idErr := uuid.FromString(id)
		if idErr != nil {
			r.log.Warn("deck row with a bad key", zap.String("deck_id", id), zap.Error(idErr))
		}
		d := repository.DecodeDeck(raw, deckID, owner)
		if len(d.DecodeIssues) > 0 {
			r.log.Debug("deck document decoded with issues",
				zap.String("deck_id", id), zap.Strings("issues", d.DecodeIssues))
		}
		out = append(out, d)
	}
	return out, classify(rows.Err())
}

func scanQuery(f repository.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerUserID != "" {
		add("owner_user_id=$%d", f.OwnerUserID)
	}
	if f.CourseID != "" {
		add("course_id=$%d", f.CourseID)
	}
	if f.DeckID != uuid.Nil {
		add("deck_id=$%d", f.DeckID)
	}

	q := `SELECT deck_id::text, owner_user_id, doc FROM decks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	return q + ` ORDER BY created_at, deck_id`, args
}

// Create inserts a new deck document.
func (r *DeckRepo) Create(ctx context.Context, d *model.Deck) error {
	raw, err := repository.EncodeDeck(d)
	if err != nil {
		return err
	}
	ctx, cancel := r.db.callCtx(ctx)
	defer cancel()

	const q = `INSERT INTO decks (deck_id, owner_user_id, course_id, doc, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err = r.db.Pool.Exec(ctx, q, d.ID, d.OwnerUserID, d.CourseID, raw, d.CreatedAt, d.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deck %s: %w", d.ID, errs.ErrConflict)
		}
		return classify(err)
	}
	return nil
}

// Update merges the set patch fields into the stored document.
func (r *DeckRepo) Update(ctx context.Context, deckID uuid.UUID, userID string, patch model.DeckPatch) error {
	raw, err := repository.EncodePatch(patch)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	if patch.UpdatedAt != nil {
		updatedAt = *patch.UpdatedAt
	}
	ctx, cancel := r.db.callCtx(ctx)
	defer cancel()

	const q = `UPDATE decks SET doc = doc || $3::jsonb, updated_at=$4 WHERE deck_id=$1 AND owner_user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, deckID, userID, raw, updatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a deck document.
func (r *DeckRepo) Delete(ctx context.Context, deckID uuid.UUID, userID string) error {
	ctx, cancel := r.db.callCtx(ctx)
	defer cancel()

	const q = `DELETE FROM decks WHERE deck_id=$1 AND owner_user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, deckID, userID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
