package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/assignment"
	"github.com/aimerfeng/CourseChain/internal/config"
	"github.com/aimerfeng/CourseChain/internal/database"
	apierrors "github.com/aimerfeng/CourseChain/internal/errors"
	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/marketplace"
	"github.com/aimerfeng/CourseChain/internal/middleware"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/ratelimit"
	"github.com/aimerfeng/CourseChain/internal/reward"
	"github.com/gin-gonic/gin"
)

// Ledgers bundles the components served by the API
type Ledgers struct {
	Market      *marketplace.Market
	Rewards     *reward.Ledger
	Assignments *assignment.Manager
	Events      *events.Recorder
}

// HealthChecker is an optional dependency probed by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EventArchive reads events mirrored to durable storage
type EventArchive interface {
	RecentEvents(ctx context.Context, limit int) ([]database.ArchivedEvent, error)
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	ledgers          Ledgers
	checks           map[string]HealthChecker
	limiter          ratelimit.Limiter
	archive          EventArchive
	jwtAuthenticator *middleware.JWTAuthenticator
}

// Option customizes an APIServer
type Option func(*APIServer)

// WithRateLimiter throttles mutating authenticated routes
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(s *APIServer) { s.limiter = l }
}

// WithEventArchive serves archived events to admins
func WithEventArchive(a EventArchive) Option {
	return func(s *APIServer) { s.archive = a }
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, ledgers Ledgers, opts ...Option) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		ledgers:          ledgers,
		checks:           make(map[string]HealthChecker),
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.setupRoutes()
	return srv
}

// AddHealthCheck registers a dependency reported by /health
func (s *APIServer) AddHealthCheck(name string, hc HealthChecker) {
	s.checks[name] = hc
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// protected returns the handlers every authenticated route runs first
func (s *APIServer) protected() []gin.HandlerFunc {
	handlers := []gin.HandlerFunc{s.jwtAuthenticator.JWTAuth()}
	if s.limiter != nil {
		handlers = append(handlers, ratelimit.Middleware(s.limiter))
	}
	return handlers
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	marketGate := s.ledgers.Market.Gate()

	v1 := s.router.Group("/api/v1")
	{
		// Wallet sign-in lives outside this service; development builds
		// can mint tokens directly.
		if s.config.Server.Env == "development" {
			v1.POST("/auth/token", s.handleIssueToken)
		}

		// Public reads
		v1.GET("/courses", s.handleListCourses)
		v1.GET("/courses/:id", s.handleGetCourse)
		v1.GET("/courses/:id/assignments", s.handleListAssignments)
		v1.GET("/rewards/balance/:address", s.handleRewardBalance)
		v1.GET("/rewards/supply", s.handleRewardSupply)
		v1.GET("/rewards/rates", s.handleRewardRates)
	}

	authed := v1.Group("", s.protected()...)
	{
		authed.GET("/auth/me", s.handleWhoAmI)

		authed.POST("/courses", s.handleCreateCourse)
		authed.PUT("/courses/:id", s.handleUpdateCourse)
		authed.DELETE("/courses/:id", s.handleDelistCourse)
		authed.GET("/courses/:id/purchase", s.handleGetPurchase)
		authed.POST("/courses/:id/purchase", s.handlePurchaseCourse)
		authed.POST("/courses/:id/complete", s.handleCompleteCourse)
		authed.POST("/courses/:id/refund-request", s.handleRequestRefund)
		authed.GET("/purchases", s.handleListPurchases)

		authed.GET("/creators/me/courses", s.handleCreatorCourses)
		authed.GET("/creators/me/balance", s.handleCreatorBalance)
		authed.POST("/creators/me/withdraw", s.handleCreatorWithdraw)

		authed.POST("/rewards/burn", s.handleBurn)
		authed.POST("/rewards/transfer", s.handleTransfer)

		authed.POST("/assignments", s.handleCreateAssignment)
		authed.GET("/assignments/:id", s.handleGetAssignment)
		authed.POST("/assignments/:id/submit", s.handleSubmitAssignment)
		authed.POST("/assignments/:id/grade", s.handleGradeAssignment)
		authed.GET("/assignments/:id/submissions/:student", s.handleGetSubmission)
	}

	refunds := authed.Group("/refunds")
	refunds.Use(middleware.RequireRole(marketGate, access.RoleRefundManager))
	{
		refunds.GET("", s.handlePendingRefunds)
		refunds.POST("/:buyer/:id", s.handleProcessRefund)
	}

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireAdmin(marketGate))
	{
		admin.GET("/platform", s.handlePlatformStats)
		admin.PUT("/fee", s.handleChangeFee)
		admin.PUT("/treasury", s.handleSetTreasury)
		admin.POST("/withdraw", s.handleOwnerWithdraw)
		admin.PUT("/rates", s.handleUpdateRates)
		admin.GET("/events", s.handleListEvents)
		if s.archive != nil {
			admin.GET("/events/archive", s.handleArchivedEvents)
		}
		admin.POST("/gates/:ledger/pause", s.handlePause)
		admin.POST("/gates/:ledger/unpause", s.handleUnpause)
		admin.POST("/gates/:ledger/roles", s.handleGrantRole)
		admin.DELETE("/gates/:ledger/roles", s.handleRevokeRole)
	}
}

// healthCheck reports liveness plus the state of optional dependencies
func (s *APIServer) healthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	deps := gin.H{}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, hc := range s.checks {
		if err := hc.Health(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":       status,
		"service":      "api",
		"market_pause": s.ledgers.Market.Gate().IsPaused(),
		"dependencies": deps,
	})
}

type issueTokenRequest struct {
	Address string `json:"address" binding:"required"`
}

// handleIssueToken mints an access token for an address (development only)
func (s *APIServer) handleIssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	addr, err := models.ParseAddress(req.Address)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	token, err := s.jwtAuthenticator.IssueToken(addr)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.config.JWT.AccessTokenExpiry.Seconds()),
	})
}

// handleWhoAmI echoes the caller's verified token claims
func (s *APIServer) handleWhoAmI(c *gin.Context) {
	claims := middleware.GetClaimsFromContext(c)
	if claims == nil {
		respondError(c, apierrors.ErrUnauthorizedError)
		return
	}

	resp := gin.H{"address": claims.Address}
	if claims.IssuedAt != nil {
		resp["issued_at"] = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Time.UTC()
	}
	c.JSON(http.StatusOK, resp)
}

// gateFor resolves the :ledger path segment
func (s *APIServer) gateFor(c *gin.Context) (*access.Gate, bool) {
	switch c.Param("ledger") {
	case marketplace.Source:
		return s.ledgers.Market.Gate(), true
	case reward.Source:
		return s.ledgers.Rewards.Gate(), true
	}
	respondError(c, apierrors.ErrNotFoundError.WithMessage("Unknown ledger: "+c.Param("ledger")))
	return nil, false
}

// uintParam parses a numeric path parameter
func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid "+name+": must be a positive integer"))
		return 0, false
	}
	return v, true
}

// addressParam parses an address path parameter
func addressParam(c *gin.Context, name string) (models.Address, bool) {
	addr, err := models.ParseAddress(c.Param(name))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid "+name+": "+err.Error()))
		return "", false
	}
	return addr, true
}

// respondLedgerError maps a ledger error onto the API error envelope.
// Unclassified errors are infrastructure failures and are logged.
func respondLedgerError(c *gin.Context, err error) {
	if stderrors.Is(err, marketplace.ErrCourseNotFound) {
		respondError(c, apierrors.ErrCourseNotFoundError)
		return
	}
	apiErr := apierrors.FromLedgerError(err)
	if apierrors.IsServerError(apiErr) {
		logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", c.FullPath())
	}
	respondError(c, apiErr)
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	reqID := middleware.GetRequestIDFromContext(c)
	corrID := middleware.GetCorrelationIDFromContext(c)
	if corrID == "" {
		corrID = reqID
	}

	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(
		err,
		reqID,
		corrID,
		c.Request.URL.Path,
		c.Request.Method,
	))
}

// rewardResponse is the client view of a best-effort reward
type rewardResponse struct {
	Key    models.RewardKey    `json:"key"`
	Minted bool                `json:"minted"`
	Grant  *models.RewardGrant `json:"grant,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func toRewardResponse(o *models.RewardOutcome) *rewardResponse {
	if o == nil {
		return nil
	}
	resp := &rewardResponse{Key: o.Key, Minted: o.Minted(), Grant: o.Grant}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}
