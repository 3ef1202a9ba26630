// Package server is the HTTP side of the product: the Stripe webhook, the
// checkout redirect behind signed links, and a small JSON API used by the
// companion web app. It shares the entitlement gate with the bot.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linecraftx/linecraft-bot/internal/analyzer"
	"github.com/linecraftx/linecraft-bot/internal/auth"
	"github.com/linecraftx/linecraft-bot/internal/billing"
	"github.com/linecraftx/linecraft-bot/internal/entitlement"
	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
)

const accountContextKey = "account"

type Server struct {
	storage  storage.Storage
	gate     *entitlement.Gate
	analyzer analyzer.Analyzer
	billing  *billing.Service
	tokens   *auth.TokenIssuer
	logger   *zap.Logger
}

func New(st storage.Storage, gate *entitlement.Gate, an analyzer.Analyzer, bill *billing.Service, tokens *auth.TokenIssuer, logger *zap.Logger) *Server {
	return &Server{
		storage:  st,
		gate:     gate,
		analyzer: an,
		billing:  bill,
		tokens:   tokens,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.POST("/webhooks/stripe", s.handleStripeWebhook)
	r.GET("/subscribe", s.handleSubscribe)

	api := r.Group("/api", s.authMiddleware())
	{
		api.GET("/account", s.handleGetAccount)
		api.PATCH("/account", s.handleUpdateAccount)
		api.POST("/account/delete", s.handleDeleteAccount)
		api.POST("/generate", s.handleGenerate)
		api.POST("/billing/portal", s.handleBillingPortal)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStripeWebhook verifies the signature and applies the event. A
// non-2xx response makes Stripe redeliver, which ApplyEvent tolerates.
func (s *Server) handleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	event, err := s.billing.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("Rejected webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	if err := s.billing.ApplyEvent(c.Request.Context(), event); err != nil {
		s.logger.Error("Failed to apply billing event",
			zap.Error(err),
			zap.String("event_id", event.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleSubscribe turns a signed upgrade link into a checkout redirect.
func (s *Server) handleSubscribe(c *gin.Context) {
	accountID, err := s.tokens.Validate(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired link"})
		return
	}

	acc, err := s.storage.GetAccountByID(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	url, err := s.billing.CreateCheckoutSession(c.Request.Context(), acc)
	if err != nil {
		s.logger.Error("Failed to create checkout session",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start checkout"})
		return
	}
	c.Redirect(http.StatusSeeOther, url)
}

// authMiddleware resolves the account named by the bearer token.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}

		accountID, err := s.tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		acc, err := s.storage.GetAccountByID(c.Request.Context(), accountID)
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(accountContextKey, acc)
		c.Next()
	}
}

func accountFrom(c *gin.Context) *models.Account {
	return c.MustGet(accountContextKey).(*models.Account)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	acc := accountFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"id":                      acc.ID,
		"first_name":              acc.TelegramFirstName,
		"username":                acc.TelegramUsername,
		"messages_remaining":      acc.MessagesRemaining,
		"messages_total":          acc.MessagesTotal,
		"subscription_status":     acc.SubscriptionStatus,
		"subscription_period_end": acc.SubscriptionPeriodEnd,
		"default_tone":            acc.DefaultTone,
	})
}

type updateAccountRequest struct {
	DefaultTone string `json:"default_tone" binding:"required"`
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	acc := accountFrom(c)

	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.storage.UpdateDefaultTone(c.Request.Context(), acc.ID, req.DefaultTone); err != nil {
		s.logger.Error("Failed to update account",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_tone": req.DefaultTone})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	acc := accountFrom(c)
	if err := s.storage.SoftDeleteAccount(c.Request.Context(), acc.ID); err != nil {
		s.logger.Error("Failed to delete account",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleBillingPortal(c *gin.Context) {
	acc := accountFrom(c)
	url, err := s.billing.CreatePortalSession(c.Request.Context(), acc)
	if err != nil {
		s.logger.Error("Failed to create portal session",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open billing portal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type generateRequest struct {
	Action       models.Action     `json:"action" binding:"required"`
	ImageDataURI string            `json:"image_data_uri"`
	Text         string            `json:"text"`
	RefineType   models.RefineType `json:"refine_type"`
}

type generateResponse struct {
	Solution    *analyzer.Solution    `json:"solution,omitempty"`
	Suggestions []analyzer.Suggestion `json:"suggestions,omitempty"`
	Ideas       []analyzer.DateIdea   `json:"ideas,omitempty"`
}

// handleGenerate is the synchronous web counterpart of the bot pipeline: same
// gate, same capabilities, but the caller waits for the result.
func (s *Server) handleGenerate(c *gin.Context) {
	acc := accountFrom(c)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	decision, err := s.gate.Check(c.Request.Context(), acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !decision.Allowed {
		status := http.StatusPaymentRequired
		if decision.Reason == entitlement.DenyRateLimited {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": string(decision.Reason)})
		return
	}

	input := analyzer.Input{ImageDataURI: req.ImageDataURI, Text: req.Text}
	ctx := c.Request.Context()

	var resp generateResponse
	var usage analyzer.Usage
	switch req.Action {
	case models.ActionAnswerQuestion:
		resp.Solution, usage, err = s.analyzer.SolveQuestion(ctx, input)
	case models.ActionPickupLines, models.ActionConvoStarters, models.ActionConvoReplies:
		resp.Suggestions, usage, err = s.analyzer.GenerateSuggestions(ctx, req.Action, input, req.RefineType)
	case models.ActionDateIdeas:
		resp.Ideas, usage, err = s.analyzer.GenerateDateIdeas(ctx, input, req.RefineType)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}
	if err != nil {
		s.logger.Error("Generation failed",
			zap.Error(err),
			zap.String("account_id", acc.ID),
			zap.String("action", string(req.Action)))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed"})
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.storage.CreateTokenUsage(gctx, &models.TokenUsage{
			AccountID:    acc.ID,
			Model:        usage.Model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TotalTokens:  usage.TotalTokens,
		})
	})
	g.Go(func() error { return s.storage.DecrementMessagesRemaining(gctx, acc.ID) })
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to record usage",
			zap.Error(err),
			zap.String("account_id", acc.ID))
	}

	c.JSON(http.StatusOK, resp)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
