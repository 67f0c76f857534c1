// Package server exposes stored transactions and ingestion over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/categorizer"
	"github.com/ArionMiles/upiledger/pkg/orchestrator"
	"github.com/ArionMiles/upiledger/pkg/report"
	"github.com/ArionMiles/upiledger/pkg/store"
)

// Categorizer labels a single transaction and reports classification failures.
type Categorizer interface {
	CategorizeStrict(ctx context.Context, req categorizer.Request) (api.Category, error)
}

// Ingester runs one fetch and ingest pass against a reader.
type Ingester interface {
	RunOnce(ctx context.Context, reader api.Reader) (*orchestrator.Result, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Store       store.Store
	Categorizer Categorizer
	Ingester    Ingester
	// Reader is used by POST /api/ingest when the request carries no token.
	Reader api.Reader
	// ReaderForToken builds a reader from a bearer access token. Optional.
	ReaderForToken func(ctx context.Context, token string) (api.Reader, error)
}

// Config configures the server.
type Config struct {
	Addr   string
	UserID string
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router. Store is required.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server needs a store")
	}
	if cfg.UserID == "" {
		return nil, errors.New("server needs a user id")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(s.requestLogger(), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	apiGroup.GET("/transactions", s.listTransactions)
	apiGroup.PUT("/transactions/:id/category", s.updateCategory)
	apiGroup.GET("/summary", s.summary)
	apiGroup.POST("/categorize", s.categorize)
	apiGroup.POST("/ingest", s.ingest)

	return router
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) filter(c *gin.Context) (store.Filter, bool) {
	f, err := store.ParseFilter(c.Query("q"), c.Query("period"), c.Query("type"), c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return store.Filter{}, false
	}
	return f, true
}

func (s *Server) listTransactions(c *gin.Context) {
	f, ok := s.filter(c)
	if !ok {
		return
	}

	txns, err := s.deps.Store.List(c.Request.Context(), s.cfg.UserID, f)
	if err != nil {
		s.logger.Error("listing transactions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list transactions"})
		return
	}
	if txns == nil {
		txns = []*api.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

func (s *Server) summary(c *gin.Context) {
	f, ok := s.filter(c)
	if !ok {
		return
	}

	txns, err := s.deps.Store.List(c.Request.Context(), s.cfg.UserID, f)
	if err != nil {
		s.logger.Error("listing transactions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load summary"})
		return
	}

	c.JSON(http.StatusOK, report.Summarize(txns))
}

type categorizeRequest struct {
	Description  string          `json:"description"`
	Counterparty string          `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"`
	Type         api.TxnType     `json:"type"`
}

func (s *Server) categorize(c *gin.Context) {
	if s.deps.Categorizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No classifier configured"})
		return
	}

	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	req.Type = api.TxnType(strings.ToLower(string(req.Type)))
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be credit or debit"})
		return
	}

	category, err := s.deps.Categorizer.CategorizeStrict(c.Request.Context(), categorizer.Request{
		Description:  req.Description,
		Counterparty: req.Counterparty,
		Amount:       req.Amount,
		Type:         req.Type,
	})
	if err != nil {
		s.logger.Error("categorization failed", "counterparty", req.Counterparty, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to categorize transaction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"category": category})
}

func (s *Server) updateCategory(c *gin.Context) {
	var body struct {
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	category, ok := api.ParseCategory(body.Category)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown category %q", body.Category)})
		return
	}

	err := s.deps.Store.UpdateCategory(c.Request.Context(), s.cfg.UserID, c.Param("id"), category)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
	case err != nil:
		s.logger.Error("updating category failed", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update category"})
	default:
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "category": category})
	}
}

type ingestError struct {
	SourceID string              `json:"source_id"`
	Reason   orchestrator.Reason `json:"reason"`
	Message  string              `json:"message"`
}

func (s *Server) ingest(c *gin.Context) {
	if s.deps.Ingester == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingestion is not configured"})
		return
	}
	ctx := c.Request.Context()

	reader := s.deps.Reader
	if token, ok := bearerToken(c.GetHeader("Authorization")); ok && s.deps.ReaderForToken != nil {
		r, err := s.deps.ReaderForToken(ctx, token)
		if err != nil {
			s.logger.Error("creating reader from token failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}
		reader = r
	}
	if reader == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return
	}

	res, err := s.deps.Ingester.RunOnce(ctx, reader)
	if err != nil {
		s.logger.Error("ingestion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest transactions"})
		return
	}

	errs := make([]ingestError, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, ingestError{SourceID: e.SourceID, Reason: e.Reason, Message: e.Err.Error()})
	}
	saved := res.Saved
	if saved == nil {
		saved = []*api.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"saved":        len(res.Saved),
		"skipped":      res.Skipped,
		"errors":       errs,
		"transactions": saved,
	})
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
