package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/auth"
	"github.com/and161185/cardkeeper/internal/errs"
	"github.com/and161185/cardkeeper/internal/model"
	"github.com/and161185/cardkeeper/internal/service"
)

// Handler serves the JSON API.
type Handler struct {
	svc service.Services
	log *zap.Logger
}

// NewHandler builds the handler set.
func NewHandler(svc service.Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type importRequest struct {
	Cards []service.CardInput `json:"cards"`
}

func (h *Handler) identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromContext(c.Request.Context())
	if !ok {
		RespondError(c, h.log, errs.ErrUnauthorized)
	}
	return id, ok
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, h.log, errs.Validation("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param(name))
	if err != nil {
		RespondError(c, h.log, errs.Validation("%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) uuidQuery(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		RespondError(c, h.log, errs.Validation("%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		RespondError(c, h.log, errs.Validation("%s must be an integer", name))
		return 0, false
	}
	return n, true
}

// parseTimestamp accepts RFC 3339 or unix milliseconds.
func parseTimestamp(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errs.Validation("timestamp must be RFC 3339 or unix milliseconds")
	}
	return t, nil
}

// HealthCheck is the liveness probe.
func (h *Handler) HealthCheck(c *gin.Context) {
	RespondOK(c, http.StatusOK, "ok", gin.H{"status": "ok"})
}

func (h *Handler) CreateDeck(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	var in service.CreateDeckInput
	if !h.bind(c, &in) {
		return
	}
	d, err := h.svc.Decks.CreateDeck(c.Request.Context(), id.UserID, in)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusCreated, "deck created", d)
}

func (h *Handler) ListDecks(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	decks, err := h.svc.Decks.ListDecks(c.Request.Context(), id.UserID, c.Query("courseId"))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "decks", decks)
}

func (h *Handler) GetDeck(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	d, err := h.svc.Decks.GetDeck(c.Request.Context(), id.UserID, deckID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "deck", d)
}

func (h *Handler) UpdateDeckSettings(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	var in service.DeckSettings
	if !h.bind(c, &in) {
		return
	}
	d, err := h.svc.Decks.UpdateDeckSettings(c.Request.Context(), id.UserID, deckID, in)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "deck updated", d)
}

func (h *Handler) DeleteDeck(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	if err := h.svc.Decks.DeleteDeck(c.Request.Context(), id.UserID, deckID); err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "deck deleted", nil)
}

func (h *Handler) AddCard(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	var in service.CardInput
	if !h.bind(c, &in) {
		return
	}
	card, err := h.svc.Decks.AddCard(c.Request.Context(), id.UserID, deckID, in)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusCreated, "card added", card)
}

func (h *Handler) ImportCards(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	var in importRequest
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.Decks.ImportCards(c.Request.Context(), id.UserID, deckID, in.Cards)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "cards imported", res)
}

func (h *Handler) GenerateCards(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	var in service.GenerateInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.Decks.GenerateCards(c.Request.Context(), id.UserID, deckID, in)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "cards generated", res)
}

func (h *Handler) UpdateCard(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	cardID, ok := h.uuidParam(c, "cardId")
	if !ok {
		return
	}
	var in service.CardUpdate
	if !h.bind(c, &in) {
		return
	}
	card, err := h.svc.Decks.UpdateCard(c.Request.Context(), id.UserID, deckID, cardID, in)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "card updated", card)
}

func (h *Handler) DeleteCard(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	cardID, ok := h.uuidParam(c, "cardId")
	if !ok {
		return
	}
	if err := h.svc.Decks.DeleteCard(c.Request.Context(), id.UserID, deckID, cardID); err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "card deleted", nil)
}

func (h *Handler) SuggestAlternatives(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	cardID, ok := h.uuidParam(c, "cardId")
	if !ok {
		return
	}
	count, ok := h.intQuery(c, "count")
	if !ok {
		return
	}
	drafts, err := h.svc.Decks.SuggestAlternatives(c.Request.Context(), id.UserID, deckID, cardID, count)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "alternatives", drafts)
}

func (h *Handler) SubmitReview(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	cardID, ok := h.uuidParam(c, "cardId")
	if !ok {
		return
	}
	var in model.ReviewRequest
	if !h.bind(c, &in) {
		return
	}
	res, err := h.svc.Reviews.SubmitReview(c.Request.Context(), in.Input(id.UserID, deckID, cardID))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "review recorded", res)
}

func (h *Handler) DueCards(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidQuery(c, "deckId")
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	cards, err := h.svc.Due.GetDueCards(c.Request.Context(), id.UserID, model.DueQuery{
		DeckID:   deckID,
		CourseID: strings.TrimSpace(c.Query("courseId")),
		Limit:    limit,
	})
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "due cards", cards)
}

func (h *Handler) DueSummary(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	sum, err := h.svc.Due.DueSummary(c.Request.Context(), id.UserID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "due summary", sum)
}

func (h *Handler) scope(c *gin.Context) (string, bool) {
	id, ok := h.identity(c)
	if !ok {
		return "", false
	}
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	userID, err := id.Scope(c.Query("userId"), all)
	if err != nil {
		RespondError(c, h.log, err)
		return "", false
	}
	return userID, true
}

func (h *Handler) IntegrityHealth(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	rep, err := h.svc.Integrity.CheckDataIntegrity(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	msg := "no integrity issues"
	if !rep.Clean() {
		msg = "integrity issues detected"
	}
	RespondOK(c, http.StatusOK, msg, rep)
}

func (h *Handler) IntegrityRepair(c *gin.Context) {
	userID, ok := h.scope(c)
	if !ok {
		return
	}
	res, err := h.svc.Integrity.RepairDataIntegrity(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "repair finished", res)
}

func (h *Handler) BackupHistory(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidQuery(c, "deckId")
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit")
	if !ok {
		return
	}
	recs, err := h.svc.Backups.GetBackupHistory(c.Request.Context(), id.UserID, deckID, limit)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "backup history", recs)
}

func (h *Handler) RestoreBackup(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	deckID, ok := h.uuidParam(c, "deckId")
	if !ok {
		return
	}
	at, err := parseTimestamp(c.Param("timestamp"))
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	d, err := h.svc.Backups.RestoreFromBackup(c.Request.Context(), id.UserID, deckID, at)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	RespondOK(c, http.StatusOK, "backup payload", d)
}
