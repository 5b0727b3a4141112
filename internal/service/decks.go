package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/generate"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/retry"
)

const (
	maxImportBatch       = 500
	defaultGenerateCount = 10
	defaultAlternatives  = 3
	maxAlternatives      = 10
)

// CreateDeckInput describes a new deck.
type CreateDeckInput struct {
	CourseID         string   `json:"courseId" validate:"notblank,max=128"`
	Title            string   `json:"title" validate:"notblank,max=200"`
	Description      string   `json:"description" validate:"max=2000"`
	IntervalModifier *float64 `json:"intervalModifier" validate:"omitempty,gte=0,lte=10"`
	EasyBonus        *float64 `json:"easyBonus" validate:"omitempty,gte=1,lte=5"`
}

// DeckSettings is a partial update of deck settings.
type DeckSettings struct {
	Title            *string  `json:"title" validate:"omitempty,notblank,max=200"`
	Description      *string  `json:"description" validate:"omitempty,max=2000"`
	IntervalModifier *float64 `json:"intervalModifier" validate:"omitempty,gte=0,lte=10"`
	EasyBonus        *float64 `json:"easyBonus" validate:"omitempty,gte=1,lte=5"`
}

func (s DeckSettings) empty() bool {
	return s.Title == nil && s.Description == nil && s.IntervalModifier == nil && s.EasyBonus == nil
}

// CardInput describes a new card.
type CardInput struct {
	Question        string `json:"question" validate:"notblank,max=4000"`
	Answer          string `json:"answer" validate:"notblank,max=4000"`
	ChapterID       string `json:"chapterId" validate:"max=128"`
	SectionID       string `json:"sectionId" validate:"max=128"`
	DifficultyLevel *int   `json:"difficultyLevel" validate:"omitempty,min=1,max=5"`
}

// CardUpdate is a partial update of card content.
type CardUpdate struct {
	Question        *string `json:"question" validate:"omitempty,notblank,max=4000"`
	Answer          *string `json:"answer" validate:"omitempty,notblank,max=4000"`
	ChapterID       *string `json:"chapterId" validate:"omitempty,max=128"`
	SectionID       *string `json:"sectionId" validate:"omitempty,max=128"`
	DifficultyLevel *int    `json:"difficultyLevel" validate:"omitempty,min=1,max=5"`
}

// GenerateInput is study material to turn into cards.
type GenerateInput struct {
	Content  string `json:"content" validate:"notblank,max=100000"`
	Title    string `json:"title" validate:"max=200"`
	MaxCount int    `json:"maxCount" validate:"gte=0,lte=50"`
}

// ImportResult reports a bulk insert.
type ImportResult struct {
	Added             []model.Card `json:"added"`
	SkippedDuplicates int          `json:"skippedDuplicates"`
}

// DeckService manages decks and their cards.
type DeckService interface {
	CreateDeck(ctx context.Context, userID string, in CreateDeckInput) (*model.Deck, error)
	ListDecks(ctx context.Context, userID, courseID string) ([]*model.Deck, error)
	GetDeck(ctx context.Context, userID string, deckID uuid.UUID) (*model.Deck, error)
	UpdateDeckSettings(ctx context.Context, userID string, deckID uuid.UUID, in DeckSettings) (*model.Deck, error)
	DeleteDeck(ctx context.Context, userID string, deckID uuid.UUID) error

	AddCard(ctx context.Context, userID string, deckID uuid.UUID, in CardInput) (model.Card, error)
	UpdateCard(ctx context.Context, userID string, deckID, cardID uuid.UUID, in CardUpdate) (model.Card, error)
	DeleteCard(ctx context.Context, userID string, deckID, cardID uuid.UUID) error
	ImportCards(ctx context.Context, userID string, deckID uuid.UUID, in []CardInput) (ImportResult, error)
	GenerateCards(ctx context.Context, userID string, deckID uuid.UUID, in GenerateInput) (ImportResult, error)
	// SuggestAlternatives returns unsaved rephrasings of a card.
	SuggestAlternatives(ctx context.Context, userID string, deckID, cardID uuid.UUID, count int) ([]generate.Draft, error)
}

type DeckServiceImpl struct {
	repo    repository.DeckRepository
	protect *Protector
	gen     *generate.Generator
	log     *zap.Logger
	now     Clock
}

// NewDeckService constructs DeckService. gen may be nil, which uses template generation only.
func NewDeckService(repo repository.DeckRepository, protect *Protector, gen *generate.Generator, log *zap.Logger, now Clock) *DeckServiceImpl {
	if gen == nil {
		gen = generate.New(nil, log)
	}
	if now == nil {
		now = SystemClock
	}
	return &DeckServiceImpl{repo: repo, protect: protect, gen: gen, log: logger(log, "decks"), now: now}
}

func (s *DeckServiceImpl) CreateDeck(ctx context.Context, userID string, in CreateDeckInput) (*model.Deck, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	now := s.now()
	d := &model.Deck{
		ID:               newID(),
		OwnerUserID:      userID,
		CourseID:         strings.TrimSpace(in.CourseID),
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Cards:            []model.Card{},
		IntervalModifier: model.DefaultIntervalModifier,
		EasyBonus:        model.DefaultEasyBonus,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.IntervalModifier != nil {
		d.IntervalModifier = *in.IntervalModifier
	}
	if in.EasyBonus != nil {
		d.EasyBonus = *in.EasyBonus
	}
	if err := s.protect.Validate(d, now); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create deck: %w", err)
	}
	s.log.Info("deck created", zap.String("deck_id", d.ID.String()), zap.String("owner_user_id", userID))
	return d, nil
}

func (s *DeckServiceImpl) ListDecks(ctx context.Context, userID, courseID string) ([]*model.Deck, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	decks, err := retry.Read(ctx, func(ctx context.Context) ([]*model.Deck, error) {
		return s.repo.Scan(ctx, repository.Filter{OwnerUserID: userID, CourseID: courseID})
	})
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	out := make([]*model.Deck, 0, len(decks))
	for _, d := range decks {
		if d.Unreadable {
			s.log.Warn("unreadable deck left out of the listing",
				zap.String("deck_id", d.ID.String()), zap.String("owner_user_id", userID))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *DeckServiceImpl) GetDeck(ctx context.Context, userID string, deckID uuid.UUID) (*model.Deck, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return nil, err
	}
	return loadOwned(ctx, s.repo, deckID, userID)
}

func (s *DeckServiceImpl) UpdateDeckSettings(ctx context.Context, userID string, deckID uuid.UUID, in DeckSettings) (*model.Deck, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return nil, err
	}
	if in.empty() {
		return nil, errs.Validation("no settings to update")
	}
	if blank(in.Title) {
		return nil, errs.Validation("title cannot be blank")
	}
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return nil, err
	}
	s.protect.Snapshot(OpUpdateSettings, d)

	d.UpdatedAt = s.now()
	patch := model.DeckPatch{UpdatedAt: ptr(d.UpdatedAt)}
	if in.Title != nil {
		patch.Title = ptr(strings.TrimSpace(*in.Title))
	}
	patch.Description = in.Description
	patch.IntervalModifier = in.IntervalModifier
	patch.EasyBonus = in.EasyBonus
	patch.Apply(d)

	if err := s.protect.Write(ctx, OpUpdateSettings, d, patch); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DeckServiceImpl) DeleteDeck(ctx context.Context, userID string, deckID uuid.UUID) error {
	if err := s.checkKey(userID, deckID); err != nil {
		return err
	}
	// an unreadable deck can still be deleted
	d, err := loadStored(ctx, s.repo, deckID, userID)
	if err != nil {
		return err
	}
	s.protect.Snapshot(OpDeleteDeck, d)
	if err := s.repo.Delete(ctx, deckID, userID); err != nil {
		return fmt.Errorf("delete deck %s: %w", deckID, err)
	}
	s.protect.ScheduleCheck(userID)
	s.log.Info("deck deleted", zap.String("deck_id", deckID.String()), zap.String("owner_user_id", userID))
	return nil
}

func (s *DeckServiceImpl) AddCard(ctx context.Context, userID string, deckID uuid.UUID, in CardInput) (model.Card, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return model.Card{}, err
	}
	if err := checkStruct(in); err != nil {
		return model.Card{}, err
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return model.Card{}, err
	}
	if d.HasDuplicate(in.Question, in.Answer, uuid.Nil) {
		return model.Card{}, fmt.Errorf("a card with the same question and answer already exists: %w", errs.ErrConflict)
	}
	s.protect.Snapshot(OpAddCard, d)

	now := s.now()
	c := newCard(in, now)
	d.Cards = append(d.Cards, c)
	d.CardsMalformed = false
	d.UpdatedAt = now
	if err := s.protect.Write(ctx, OpAddCard, d, cardsPatch(d), c.ID); err != nil {
		return model.Card{}, err
	}
	return c, nil
}

func (s *DeckServiceImpl) UpdateCard(ctx context.Context, userID string, deckID, cardID uuid.UUID, in CardUpdate) (model.Card, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return model.Card{}, err
	}
	if err := requireID("cardId", cardID); err != nil {
		return model.Card{}, err
	}
	if blank(in.Question) || blank(in.Answer) {
		return model.Card{}, errs.Validation("question and answer cannot be blank")
	}
	if err := checkStruct(in); err != nil {
		return model.Card{}, err
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return model.Card{}, err
	}
	idx := d.CardIndex(cardID)
	if idx < 0 {
		return model.Card{}, fmt.Errorf("card %s: %w", cardID, errs.ErrNotFound)
	}

	c := d.Cards[idx].Clone()
	if in.Question != nil {
		c.Question = strings.TrimSpace(*in.Question)
	}
	if in.Answer != nil {
		c.Answer = strings.TrimSpace(*in.Answer)
	}
	if in.ChapterID != nil {
		c.ChapterID = *in.ChapterID
	}
	if in.SectionID != nil {
		c.SectionID = *in.SectionID
	}
	if in.DifficultyLevel != nil {
		c.DifficultyLevel = *in.DifficultyLevel
	}
	if d.HasDuplicate(c.Question, c.Answer, cardID) {
		return model.Card{}, fmt.Errorf("a card with the same question and answer already exists: %w", errs.ErrConflict)
	}

	s.protect.Snapshot(OpUpdateCard, d)
	now := s.now()
	if c.NextReviewDue == nil {
		// never scheduled: keep it due immediately
		c.NextReviewDue = ptr(now)
	}
	d.Cards[idx] = c
	d.UpdatedAt = now
	if err := s.protect.Write(ctx, OpUpdateCard, d, cardsPatch(d), cardID); err != nil {
		return model.Card{}, err
	}
	return c, nil
}

func (s *DeckServiceImpl) DeleteCard(ctx context.Context, userID string, deckID, cardID uuid.UUID) error {
	if err := s.checkKey(userID, deckID); err != nil {
		return err
	}
	if err := requireID("cardId", cardID); err != nil {
		return err
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return err
	}
	idx := d.CardIndex(cardID)
	if idx < 0 {
		return fmt.Errorf("card %s: %w", cardID, errs.ErrNotFound)
	}

	s.protect.Snapshot(OpDeleteCard, d)
	d.Cards = append(d.Cards[:idx:idx], d.Cards[idx+1:]...)
	d.UpdatedAt = s.now()
	return s.protect.Write(ctx, OpDeleteCard, d, cardsPatch(d))
}

func (s *DeckServiceImpl) ImportCards(ctx context.Context, userID string, deckID uuid.UUID, in []CardInput) (ImportResult, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return ImportResult{}, err
	}
	if len(in) == 0 {
		return ImportResult{}, errs.Validation("no cards to import")
	}
	if len(in) > maxImportBatch {
		return ImportResult{}, errs.Validation("too many cards (%d > %d)", len(in), maxImportBatch)
	}
	for i := range in {
		if err := checkStruct(in[i]); err != nil {
			return ImportResult{}, fmt.Errorf("card[%d]: %w", i, err)
		}
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return ImportResult{}, err
	}
	return s.insertCards(ctx, OpImportCards, d, in, false)
}

func (s *DeckServiceImpl) GenerateCards(ctx context.Context, userID string, deckID uuid.UUID, in GenerateInput) (ImportResult, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return ImportResult{}, err
	}
	if err := checkStruct(in); err != nil {
		return ImportResult{}, err
	}
	if in.MaxCount == 0 {
		in.MaxCount = defaultGenerateCount
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return ImportResult{}, err
	}
	title := in.Title
	if title == "" {
		title = d.Title
	}
	drafts := s.gen.FromContent(ctx, in.Content, title, in.MaxCount)
	cards := make([]CardInput, 0, len(drafts))
	for _, dr := range drafts {
		cards = append(cards, CardInput{Question: dr.Question, Answer: dr.Answer})
	}
	return s.insertCards(ctx, OpGenerateCards, d, cards, true)
}

func (s *DeckServiceImpl) SuggestAlternatives(ctx context.Context, userID string, deckID, cardID uuid.UUID, count int) ([]generate.Draft, error) {
	if err := s.checkKey(userID, deckID); err != nil {
		return nil, err
	}
	if err := requireID("cardId", cardID); err != nil {
		return nil, err
	}
	switch {
	case count < 0 || count > maxAlternatives:
		return nil, errs.Validation("count must be between 1 and %d", maxAlternatives)
	case count == 0:
		count = defaultAlternatives
	}

	d, err := loadOwned(ctx, s.repo, deckID, userID)
	if err != nil {
		return nil, err
	}
	idx := d.CardIndex(cardID)
	if idx < 0 {
		return nil, fmt.Errorf("card %s: %w", cardID, errs.ErrNotFound)
	}
	c := d.Cards[idx]
	return s.gen.Alternatives(ctx, c.Question, c.Answer, count), nil
}

// insertCards appends the non-duplicate inputs with a single write. Duplicates of existing cards
// and of earlier inputs are skipped.
func (s *DeckServiceImpl) insertCards(ctx context.Context, op string, d *model.Deck, in []CardInput, aiGenerated bool) (ImportResult, error) {
	res := ImportResult{Added: []model.Card{}}
	now := s.now()
	before := d.Clone()

	var touched []uuid.UUID
	for _, ci := range in {
		if d.HasDuplicate(ci.Question, ci.Answer, uuid.Nil) {
			res.SkippedDuplicates++
			continue
		}
		c := newCard(ci, now)
		c.AIGenerated = aiGenerated
		d.Cards = append(d.Cards, c)
		res.Added = append(res.Added, c)
		touched = append(touched, c.ID)
	}
	if len(res.Added) == 0 {
		return res, nil
	}

	s.protect.Snapshot(op, before)
	d.CardsMalformed = false
	d.UpdatedAt = now
	if err := s.protect.Write(ctx, op, d, cardsPatch(d), touched...); err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func (s *DeckServiceImpl) checkKey(userID string, deckID uuid.UUID) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	return requireID("deckId", deckID)
}

// blank reports a set but empty text field; omitempty lets those through tag validation.
func blank(p *string) bool { return p != nil && strings.TrimSpace(*p) == "" }

func newCard(in CardInput, now time.Time) model.Card {
	level := model.DefaultDifficultyLevel
	if in.DifficultyLevel != nil {
		level = *in.DifficultyLevel
	}
	return model.Card{
		ID:              newID(),
		Question:        strings.TrimSpace(in.Question),
		Answer:          strings.TrimSpace(in.Answer),
		ChapterID:       in.ChapterID,
		SectionID:       in.SectionID,
		DifficultyLevel: level,
		NextReviewDue:   ptr(now),
	}
}
