package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/treadlog/treadlog/internal/alerts"
	"github.com/treadlog/treadlog/internal/config"
	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/logging"
	"github.com/treadlog/treadlog/internal/lookup"
	"github.com/treadlog/treadlog/internal/metrics"
	"github.com/treadlog/treadlog/internal/models"
	"github.com/treadlog/treadlog/internal/quota"
	"github.com/treadlog/treadlog/internal/store"
)

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	store       store.Store
	engine      *quota.Engine
	lookups     *lookup.Service
	alertSvc    *alerts.Service
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	tlsConfig   config.TLSConfig
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server. A shared metrics instance keeps the
// admission, lookup and HTTP series in one registry; pass nil to create a
// standalone one.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, st store.Store, engine *quota.Engine, lookups *lookup.Service, alertSvc *alerts.Service, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("treadlog")
	}
	logger := logging.NewLogger()

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1000
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 100
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		store:       st,
		engine:      engine,
		lookups:     lookups,
		alertSvc:    alertSvc,
		metrics:     m,
		logger:      logger,
		rateLimiter: rateLimiter,
		tlsConfig:   cfg.TLS,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start).Seconds()
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration,
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	// Admission and usage endpoints - require authentication
	admissionGroup := s.router.Group("")
	admissionGroup.Use(authMiddleware)
	{
		admissionGroup.POST("/admission/check", s.handleAdmissionCheck)
		admissionGroup.POST("/usage/commit", s.handleUsageCommit)
		admissionGroup.GET("/usage/:actor_id/today", s.handleActorUsage)
	}

	// Account management endpoints - require authentication
	accountGroup := s.router.Group("")
	accountGroup.Use(authMiddleware)
	{
		accountGroup.GET("/accounts/:id/pool", s.handleAccountPool)
		accountGroup.PUT("/accounts/:id/subaccounts/:sub_id/limit", s.handleAssignLimit)
	}

	// Metered lookup endpoint - require authentication
	lookupGroup := s.router.Group("")
	lookupGroup.Use(authMiddleware)
	{
		lookupGroup.POST("/lookups", s.handleLookup)
	}
}

// Run starts the HTTP or HTTPS server based on TLS configuration
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.tlsConfig.Enabled {
		return s.RunTLS()
	}

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// RunTLS starts the HTTPS server with TLS configuration
func (s *Server) RunTLS() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	s.logger.Info("starting HTTPS server", "addr", addr, "cert_file", s.tlsConfig.CertFile, "min_version", s.tlsConfig.MinVersion)

	srv, err := NewHTTPSServerWithConfig(addr, s.tlsConfig.CertFile, s.tlsConfig.KeyFile, s.tlsConfig.MinVersion, s.router)
	if err != nil {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	s.httpServer = srv

	return s.httpServer.ListenAndServe()
}

// StartWithServer starts the server with a pre-configured http.Server
func (s *Server) StartWithServer(srv *http.Server) error {
	s.httpServer = srv
	s.logger.Info("starting HTTP server", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	// Stop accepting new connections
	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("shutting down HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err.Error())
				errs <- &errors.ErrServerShutdown{Err: err}
			}
		}()
	}

	// Stop the alert evaluation loop
	if s.alertSvc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.alertSvc.Stop()
		}()
	}

	// Close store connections
	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		if err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"accounts":  len(s.store.ListAccounts()),
	})
}

// AdmissionCheckRequest asks whether an actor may perform a lookup now.
type AdmissionCheckRequest struct {
	ActorID     string `json:"actor_id" binding:"required"`
	ResourceKey string `json:"resource_key,omitempty"`
}

// handleAdmissionCheck evaluates quota for an actor without charging usage
func (s *Server) handleAdmissionCheck(c *gin.Context) {
	var req AdmissionCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, ok := s.engine.ResolveActor(req.ActorID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}

	decision, err := s.engine.Admit(c.Request.Context(), actor, req.ResourceKey)
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "admission check failed",
			"actor_id", req.ActorID,
			"error", err.Error(),
		)
		s.metrics.RecordError("admission_error", "/admission/check", "POST")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// UsageCommitRequest records one unit of completed metered work.
type UsageCommitRequest struct {
	ActorID     string `json:"actor_id" binding:"required"`
	ResourceKey string `json:"resource_key,omitempty"`
	ReasonTag   string `json:"reason_tag,omitempty"`
}

// UsageCommitResponse returns the persisted ledger event.
type UsageCommitResponse struct {
	EventID   string    `json:"event_id"`
	ActorID   string    `json:"actor_id"`
	BilledTo  string    `json:"billed_to_account_id"`
	ReasonTag string    `json:"reason_tag"`
	CreatedAt time.Time `json:"created_at"`
}

// handleUsageCommit appends a usage event to the ledger
func (s *Server) handleUsageCommit(c *gin.Context) {
	var req UsageCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, ok := s.engine.ResolveActor(req.ActorID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}

	ev, err := s.engine.CommitUsage(c.Request.Context(), actor, req.ResourceKey, req.ReasonTag)
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "usage commit failed",
			"actor_id", req.ActorID,
			"error", err.Error(),
		)
		s.metrics.RecordError("commit_error", "/usage/commit", "POST")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, UsageCommitResponse{
		EventID:   ev.ID,
		ActorID:   ev.ActorID,
		BilledTo:  ev.BilledToAccountID,
		ReasonTag: ev.ReasonTag,
		CreatedAt: ev.CreatedAt,
	})
}

// handleActorUsage returns today's consumption snapshot for an actor
func (s *Server) handleActorUsage(c *gin.Context) {
	actorID := c.Param("actor_id")

	snap, err := s.engine.ActorUsage(c.Request.Context(), actorID)
	if err != nil {
		if err == quota.ErrActorNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleAccountPool returns pool usage and allocation for an account
func (s *Server) handleAccountPool(c *gin.Context) {
	accountID := c.Param("id")

	status, err := s.engine.AccountPool(c.Request.Context(), accountID)
	if err != nil {
		if err == quota.ErrActorNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// AssignLimitRequest sets a sub-account's personal daily limit.
type AssignLimitRequest struct {
	Limit int `json:"limit"`
}

// AssignLimitResponse reports the applied limit after pool clamping.
type AssignLimitResponse struct {
	Requested int  `json:"requested"`
	Applied   int  `json:"applied"`
	Clamped   bool `json:"clamped"`
}

// handleAssignLimit assigns a personal limit, clamped to pool headroom
func (s *Server) handleAssignLimit(c *gin.Context) {
	accountID := c.Param("id")
	subID := c.Param("sub_id")

	var req AssignLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.AssignPersonalLimit(c.Request.Context(), accountID, subID, req.Limit)
	if err != nil {
		if err == quota.ErrActorNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "account or sub-account not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if result.Clamped {
		s.logger.WarnWithContext(c.Request.Context(), "personal limit clamped to pool headroom",
			"account_id", accountID,
			"sub_account_id", subID,
			"requested", result.Requested,
			"applied", result.Applied,
		)
	}

	c.JSON(http.StatusOK, AssignLimitResponse{
		Requested: result.Requested,
		Applied:   result.Applied,
		Clamped:   result.Clamped,
	})
}

// LookupRequest performs a metered vehicle lookup.
type LookupRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	VRM     string `json:"vrm" binding:"required"`
}

// LookupResponse carries the vehicle data and the admission outcome.
type LookupResponse struct {
	Vehicle   *models.Vehicle           `json:"vehicle,omitempty"`
	Decision  *models.AdmissionDecision `json:"decision,omitempty"`
	FromCache bool                      `json:"from_cache"`
	Charged   bool                      `json:"charged"`
}

// handleLookup performs a quota-gated vehicle lookup
func (s *Server) handleLookup(c *gin.Context) {
	if s.lookups == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lookup provider is not configured"})
		return
	}

	var req LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.lookups.Lookup(c.Request.Context(), req.ActorID, req.VRM)
	if err != nil {
		s.respondLookupError(c, result, err)
		return
	}

	c.JSON(http.StatusOK, LookupResponse{
		Vehicle:   result.Vehicle,
		Decision:  result.Decision,
		FromCache: result.FromCache,
		Charged:   result.Charged,
	})
}

// respondLookupError maps lookup failures to HTTP statuses. Denials carry
// the full decision so clients can render usage counters.
func (s *Server) respondLookupError(c *gin.Context, result *lookup.Result, err error) {
	var decision *models.AdmissionDecision
	if result != nil {
		decision = result.Decision
	}

	switch e := err.(type) {
	case *errors.ErrActorInactive:
		c.JSON(http.StatusForbidden, gin.H{"error": e.Error(), "decision": decision})
	case *errors.ErrQuotaExceeded:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": e.Error(), "decision": decision})
	case *errors.ErrLookupFailed:
		s.metrics.RecordError("lookup_error", "/lookups", "POST")
		c.JSON(http.StatusBadGateway, gin.H{"error": e.Error()})
	default:
		if err == quota.ErrActorNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
