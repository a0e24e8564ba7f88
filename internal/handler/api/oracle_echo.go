package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	models "QuorumFeed/internal/domain/models"
	drepo "QuorumFeed/internal/domain/repository"
	"QuorumFeed/internal/repository"
	icache "QuorumFeed/internal/service/cache"
	"QuorumFeed/internal/service/metrics"
	"QuorumFeed/internal/service/ratelimit"
	"QuorumFeed/internal/usecase"
	xhttp "QuorumFeed/pkg/http"
	xlogger "QuorumFeed/pkg/logger"
	"QuorumFeed/pkg/util"

	"github.com/labstack/echo/v4"
)

// OracleHandler implements the Echo-based query and submission surface.
type OracleHandler struct {
	logger   *xlogger.Logger
	agg      *usecase.PriceAggregator
	engine   *usecase.ConsensusEngine
	registry *usecase.NodeRegistry
	store    *repository.FeedStore
	archive  drepo.FeedArchive
	cache    icache.BytesCache
	rl       *ratelimit.Limiter
}

func NewOracleHandler(
	logger *xlogger.Logger,
	agg *usecase.PriceAggregator,
	engine *usecase.ConsensusEngine,
	registry *usecase.NodeRegistry,
	store *repository.FeedStore,
) *OracleHandler {
	metrics.Register()
	return &OracleHandler{
		logger:   logger,
		agg:      agg,
		engine:   engine,
		registry: registry,
		store:    store,
		rl:       ratelimit.New(),
	}
}

// SetCache injects a read cache for the hot query endpoints.
func (h *OracleHandler) SetCache(c icache.BytesCache) { h.cache = c }

// SetArchive enables the durable history endpoint.
func (h *OracleHandler) SetArchive(a drepo.FeedArchive) { h.archive = a }

func (h *OracleHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/feeds/:symbol", h.GetFeed)
	g.GET("/feeds/:symbol/history", h.GetFeedHistory)
	g.GET("/feeds/:feedId/consensus", h.GetConsensus)
	g.POST("/feeds/:feedId/submit", h.SubmitFeed)
	g.GET("/nodes", h.ListNodes)
	g.POST("/nodes", h.RegisterNode)
	g.GET("/nodes/:address/health", h.NodeHealth)
	g.POST("/nodes/:address/stake", h.UpdateStake)
	g.PUT("/nodes/:address/autostaking", h.SetAutoStaking)
	g.GET("/stats", h.GetStats)
}

// appErrorFor maps domain sentinels onto the HTTP error envelope.
func appErrorFor(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NewAppError("ERR_NOT_FOUND", "", err.Error(), http.StatusNotFound).WithError(err)
	case errors.Is(err, models.ErrAlreadyRegistered):
		return xhttp.NewAppError("ERR_ALREADY_REGISTERED", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, models.ErrOperationInProgress):
		return xhttp.NewAppError("ERR_OPERATION_IN_PROGRESS", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, models.ErrInsufficientStake):
		return xhttp.NewAppError("ERR_INSUFFICIENT_STAKE", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrMissingProof):
		return xhttp.NewAppError("ERR_MISSING_PROOF", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrDataMismatch):
		return xhttp.NewAppError("ERR_DATA_MISMATCH", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrNotEnoughEntries):
		return xhttp.NewAppError("ERR_NOT_ENOUGH_ENTRIES", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errors.Is(err, models.ErrVerificationFailed):
		return xhttp.NewAppError("ERR_VERIFICATION_FAILED", "", err.Error(), http.StatusBadGateway).WithError(err)
	case errors.Is(err, models.ErrNoDataAvailable):
		return xhttp.NewAppError("ERR_NO_DATA", "", err.Error(), http.StatusServiceUnavailable).WithError(err)
	case errors.Is(err, models.ErrTimeout):
		return xhttp.NewAppError("ERR_TIMEOUT", "", err.Error(), http.StatusGatewayTimeout).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}

func observe(endpoint string, start time.Time) {
	metrics.QueryLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *OracleHandler) GetFeed(c echo.Context) error {
	defer observe("feed", time.Now())
	symbol := c.Param("symbol")

	cacheKey := "feed:" + symbol
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err == nil && ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	feed := h.store.GetPriceFeed(symbol)
	if feed == nil {
		// Cold start for a tracked symbol: fetch on demand once.
		var err error
		feed, err = h.agg.FetchAggregatedPrice(c.Request().Context(), symbol)
		if err != nil {
			metrics.QueryErrors.WithLabelValues("feed").Inc()
			h.logger.Error("feed fetch error", xlogger.String("symbol", symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, appErrorFor(err))
		}
	}

	if h.cache != nil {
		envelope := xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: feed}
		if b, err := json.Marshal(envelope); err == nil {
			_ = h.cache.SetBytes(cacheKey, b, 5*time.Second)
		}
	}
	return xhttp.SuccessResponse(c, feed)
}

// GetFeedHistory serves archived prices when ClickHouse is wired and falls
// back to the in-memory ring buffer otherwise.
func (h *OracleHandler) GetFeedHistory(c echo.Context) error {
	defer observe("history", time.Now())
	symbol := c.Param("symbol")

	now := time.Now()
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), now)
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	from, to = util.AlignRange(from, to, time.Second)

	if h.archive == nil {
		history := h.store.PriceHistory(symbol)
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
		return xhttp.ListResponse(c, history, int64(len(history)))
	}

	feeds, err := h.archive.QueryPrices(c.Request().Context(), symbol, from, to, limit)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("history").Inc()
		h.logger.Error("history query error", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.ListResponse(c, feeds, int64(len(feeds)))
}

func (h *OracleHandler) GetConsensus(c echo.Context) error {
	defer observe("consensus", time.Now())
	feedID := c.Param("feedId")

	res, err := h.engine.VerifyConsensus(c.Request().Context(), feedID)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("consensus").Inc()
		h.logger.Error("consensus error", xlogger.String("feed_id", feedID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OracleHandler) SubmitFeed(c echo.Context) error {
	defer observe("submit", time.Now())
	feedID := c.Param("feedId")

	if !h.rl.Allow(c.RealIP()+":submit", 10, 5) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	req := &models.SubmitFeedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	entry, err := h.engine.SubmitFeedEntry(c.Request().Context(), feedID, req.Data, req.NodeAddress, req.Signature)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("submit").Inc()
		h.logger.Warn("submission rejected",
			xlogger.String("feed_id", feedID),
			xlogger.String("node", req.NodeAddress),
			xlogger.Error(err),
		)
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.CreatedResponse(c, entry)
}

func (h *OracleHandler) ListNodes(c echo.Context) error {
	defer observe("nodes", time.Now())
	nodes := h.registry.List()
	return xhttp.ListResponse(c, nodes, int64(len(nodes)))
}

func (h *OracleHandler) RegisterNode(c echo.Context) error {
	defer observe("register", time.Now())

	req := &models.RegisterNodeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	node, err := h.registry.Register(req.Address, models.NodeMetadata{
		Name:         req.Name,
		URL:          req.URL,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		metrics.QueryErrors.WithLabelValues("register").Inc()
		h.logger.Warn("registration rejected", xlogger.String("address", req.Address), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.CreatedResponse(c, node)
}

func (h *OracleHandler) NodeHealth(c echo.Context) error {
	defer observe("health", time.Now())
	address := c.Param("address")

	report, err := h.registry.HealthReport(address)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("health").Inc()
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *OracleHandler) UpdateStake(c echo.Context) error {
	defer observe("stake", time.Now())
	address := c.Param("address")

	req := &models.UpdateStakeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	node, err := h.registry.UpdateStake(c.Request().Context(), address, req.Signature, req.Pool)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("stake").Inc()
		h.logger.Warn("stake update rejected", xlogger.String("address", address), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.SuccessResponse(c, node)
}

func (h *OracleHandler) SetAutoStaking(c echo.Context) error {
	defer observe("autostaking", time.Now())
	address := c.Param("address")

	req := &models.AutoStakingRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	cfg := models.AutoStakingConfig{
		Enabled:      req.Enabled,
		Threshold:    req.Threshold,
		AutoCompound: true,
		Pool:         req.Pool,
		Unstake: models.UnstakeConditions{
			MinAPY:           req.MinAPY,
			MaxStakeDuration: time.Duration(req.MaxStakeDays * 24 * float64(time.Hour)),
			Emergency:        req.EmergencyUnstake,
		},
	}
	if req.AutoCompound != nil {
		cfg.AutoCompound = *req.AutoCompound
	}

	node, err := h.registry.SetAutoStaking(address, cfg)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("autostaking").Inc()
		return xhttp.AppErrorResponse(c, appErrorFor(err))
	}
	return xhttp.SuccessResponse(c, node)
}

func (h *OracleHandler) GetStats(c echo.Context) error {
	defer observe("stats", time.Now())

	cacheKey := "stats"
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err == nil && ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	total, failed := h.agg.RequestCounters()
	stats := h.registry.Stats(h.store.PriceFeedCount(), h.store.CustomFeedCount(), total, failed)

	if h.cache != nil {
		envelope := xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: stats}
		if b, err := json.Marshal(envelope); err == nil {
			_ = h.cache.SetBytes(cacheKey, b, 5*time.Second)
		}
	}
	return xhttp.SuccessResponse(c, stats)
}
