package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/integrity"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/repository"
	"github.com/and161185/cardkeeper/internal/retry"
)

// RepairResult summarizes a repair pass.
type RepairResult struct {
	DecksScanned int `json:"decksScanned"`
	Repaired     int `json:"repaired"`
	Failed       int `json:"failed"`
	// Skipped counts unreadable documents; they need a restore or a delete.
	Skipped int `json:"skipped"`
}

// IntegrityService checks and repairs stored decks. An empty userID means every user; callers
// decide who may ask for that.
type IntegrityService interface {
	CheckDataIntegrity(ctx context.Context, userID string) (model.IntegrityReport, error)
	RepairDataIntegrity(ctx context.Context, userID string) (RepairResult, error)
}

type IntegrityServiceImpl struct {
	repo    repository.DeckRepository
	protect *Protector
	log     *zap.Logger
	now     Clock
}

// NewIntegrityService constructs IntegrityService.
func NewIntegrityService(repo repository.DeckRepository, protect *Protector, log *zap.Logger, now Clock) *IntegrityServiceImpl {
	if now == nil {
		now = SystemClock
	}
	return &IntegrityServiceImpl{repo: repo, protect: protect, log: logger(log, "integrity"), now: now}
}

func (s *IntegrityServiceImpl) scan(ctx context.Context, userID string) ([]*model.Deck, error) {
	decks, err := retry.Read(ctx, func(ctx context.Context) ([]*model.Deck, error) {
		return s.repo.Scan(ctx, repository.Filter{OwnerUserID: userID})
	})
	if err != nil {
		return nil, fmt.Errorf("scan decks: %w", err)
	}
	return decks, nil
}

func (s *IntegrityServiceImpl) CheckDataIntegrity(ctx context.Context, userID string) (model.IntegrityReport, error) {
	decks, err := s.scan(ctx, userID)
	if err != nil {
		return model.IntegrityReport{}, err
	}
	report := integrity.Check(decks, s.now())
	s.log.Info("integrity check finished",
		zap.String("owner_user_id", userID),
		zap.Int("decks", report.DecksScanned),
		zap.Int("issues", report.IssueCount()))
	return report, nil
}

// RepairDataIntegrity fixes the offending fields of every damaged deck. Each changed deck is
// snapshotted and rewritten in full; clean decks are not written. A failing deck does not stop
// the pass.
func (s *IntegrityServiceImpl) RepairDataIntegrity(ctx context.Context, userID string) (RepairResult, error) {
	decks, err := s.scan(ctx, userID)
	if err != nil {
		return RepairResult{}, err
	}

	res := RepairResult{DecksScanned: len(decks)}
	now := s.now()
	for _, d := range decks {
		if d.Unreadable {
			res.Skipped++
			s.log.Warn("unreadable deck skipped by repair",
				zap.String("deck_id", d.ID.String()),
				zap.String("owner_user_id", d.OwnerUserID),
				zap.Strings("issues", d.DecodeIssues))
			continue
		}
		fixed := d.Clone()
		if !integrity.Repair(fixed, now) {
			continue
		}
		s.protect.Snapshot(OpRepair, d)
		if err := s.repo.Update(ctx, fixed.ID, fixed.OwnerUserID, model.FullPatch(fixed)); err != nil {
			res.Failed++
			s.log.Error("repair write failed",
				zap.String("deck_id", d.ID.String()),
				zap.String("owner_user_id", d.OwnerUserID),
				zap.Error(err))
			continue
		}
		s.protect.AfterWrite(OpRepair, fixed)
		res.Repaired++
	}
	s.log.Info("repair finished",
		zap.String("owner_user_id", userID),
		zap.Int("scanned", res.DecksScanned),
		zap.Int("repaired", res.Repaired),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
