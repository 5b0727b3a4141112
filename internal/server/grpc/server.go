// Package grpcserver exposes the deck services over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cardkeeper/internal/convert"
	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/service"
)

// Server implements CardKeeperServer on top of the service layer.
type Server struct {
	svc service.Services
	log *zap.Logger
}

var _ CardKeeperServer = (*Server)(nil)

// New creates a gRPC server facade.
func New(svc service.Services, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("grpc")}
}

// Register attaches the service to gs and publishes its descriptor for server reflection.
func (s *Server) Register(gs *grpc.Server) {
	if err := registerDescriptor(); err != nil {
		s.log.Warn("service descriptor not registered, reflection cannot describe it", zap.Error(err))
	}
	gs.RegisterService(&ServiceDesc, s)
}

type addCardRequest struct {
	DeckID uuid.UUID         `json:"deckId"`
	Card   service.CardInput `json:"card"`
}

type dueRequest struct {
	DeckID   uuid.UUID `json:"deckId"`
	CourseID string    `json:"courseId"`
	Limit    int       `json:"limit"`
}

type reviewRequest struct {
	DeckID uuid.UUID `json:"deckId"`
	CardID uuid.UUID `json:"cardId"`
	model.ReviewRequest
}

type integrityRequest struct {
	UserID string `json:"userId"`
	All    bool   `json:"all"`
}

type backupRequest struct {
	DeckID    uuid.UUID `json:"deckId"`
	Limit     int       `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

func decode(in *structpb.Struct, dst any) error {
	if err := convert.FromStruct(in, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return nil
}

func (s *Server) encode(v any) (*structpb.Struct, error) {
	out, err := convert.ToStruct(v)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal")
	}
	return out, nil
}

func (s *Server) wrap(key string, v any) (*structpb.Struct, error) {
	out, err := convert.Wrap(key, v)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal")
	}
	return out, nil
}

// CreateDeck creates a deck owned by the caller.
func (s *Server) CreateDeck(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req service.CreateDeckInput
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	d, err := s.svc.Decks.CreateDeck(ctx, id.UserID, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(d)
}

// AddCard appends one card to a deck.
func (s *Server) AddCard(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req addCardRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	c, err := s.svc.Decks.AddCard(ctx, id.UserID, req.DeckID, req.Card)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(c)
}

// GetDueCards returns {"cards": [...]}.
func (s *Server) GetDueCards(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req dueRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	cards, err := s.svc.Due.GetDueCards(ctx, id.UserID, model.DueQuery{
		DeckID:   req.DeckID,
		CourseID: strings.TrimSpace(req.CourseID),
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.wrap("cards", cards)
}

// SubmitReview records one review.
func (s *Server) SubmitReview(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req reviewRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.svc.Reviews.SubmitReview(ctx, req.Input(id.UserID, req.DeckID, req.CardID))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(res)
}

// CheckIntegrity reports on the caller's decks, or on any user's for admins.
func (s *Server) CheckIntegrity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req integrityRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := id.Scope(req.UserID, req.All)
	if err != nil {
		return nil, s.toStatus(err)
	}
	rep, err := s.svc.Integrity.CheckDataIntegrity(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(rep)
}

// RepairIntegrity repairs with the same scoping as CheckIntegrity.
func (s *Server) RepairIntegrity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req integrityRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := id.Scope(req.UserID, req.All)
	if err != nil {
		return nil, s.toStatus(err)
	}
	res, err := s.svc.Integrity.RepairDataIntegrity(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(res)
}

// BackupHistory returns {"records": [...]}, newest first.
func (s *Server) BackupHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req backupRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	recs, err := s.svc.Backups.GetBackupHistory(ctx, id.UserID, req.DeckID, req.Limit)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.wrap("records", recs)
}

// RestoreBackup returns the deck payload captured at timestamp. Nothing is written.
func (s *Server) RestoreBackup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	var req backupRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	d, err := s.svc.Backups.RestoreFromBackup(ctx, id.UserID, req.DeckID, req.Timestamp)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.encode(d)
}

// toStatus maps service errors to gRPC codes. Unknown errors are logged and hidden.
func (s *Server) toStatus(err error) error {
	var ie *errs.IntegrityError
	switch {
	case errors.As(err, &ie):
		return status.Error(codes.FailedPrecondition, ie.Error())
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, errs.ErrDataIntegrity):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}
