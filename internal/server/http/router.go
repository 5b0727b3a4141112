// Package httpserver exposes the deck services as a JSON API over gin.
package httpserver

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/and161185/cardkeeper/internal/auth"
	"github.com/and161185/cardkeeper/internal/service"
)

// RouterConfig carries what NewRouter wires.
type RouterConfig struct {
	Services    service.Services
	Verifier    *auth.Verifier
	Log         *zap.Logger
	CORSOrigins []string
	// ServiceName names the otel server spans; empty disables tracing middleware.
	ServiceName string
}

// NewRouter builds the gin engine with every route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error("panic", zap.Any("reason", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(500, Envelope{Message: "internal server error", Error: &APIError{Code: "internal"}})
	}))
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(RequestLogger(log))
	r.Use(CORS(cfg.CORSOrigins))

	h := NewHandler(cfg.Services, log)
	r.GET("/healthcheck", h.HealthCheck)

	api := r.Group("/api")
	api.Use(RequireAuth(cfg.Verifier, log))
	{
		decks := api.Group("/decks")
		decks.POST("", h.CreateDeck)
		decks.GET("", h.ListDecks)
		decks.GET("/:deckId", h.GetDeck)
		decks.PATCH("/:deckId", h.UpdateDeckSettings)
		decks.DELETE("/:deckId", h.DeleteDeck)

		decks.POST("/:deckId/cards", h.AddCard)
		decks.POST("/:deckId/cards/import", h.ImportCards)
		decks.POST("/:deckId/cards/generate", h.GenerateCards)
		decks.PUT("/:deckId/cards/:cardId", h.UpdateCard)
		decks.DELETE("/:deckId/cards/:cardId", h.DeleteCard)
		decks.GET("/:deckId/cards/:cardId/alternatives", h.SuggestAlternatives)
		decks.POST("/:deckId/cards/:cardId/review", h.SubmitReview)

		api.GET("/review/due", h.DueCards)
		api.GET("/review/summary", h.DueSummary)

		api.GET("/integrity/health", h.IntegrityHealth)
		api.POST("/integrity/repair", h.IntegrityRepair)

		api.GET("/backups", h.BackupHistory)
		api.GET("/backups/:deckId/:timestamp", h.RestoreBackup)
	}
	return r
}
