package api

import (
	"encoding/json"
	"time"

	models "NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	domsvc "NarraTrade/internal/domain/service"
	"NarraTrade/internal/service/resilience"
	"NarraTrade/internal/usecase"
	pkgcache "NarraTrade/pkg/cache"
	xhttp "NarraTrade/pkg/http"
	xlogger "NarraTrade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PipelineEchoHandler exposes the decision pipeline over HTTP: latest
// predictions, portfolio views, manual cycle triggers, scheduler controls,
// and breaker status.
type PipelineEchoHandler struct {
	logger    *xlogger.Logger
	engine    *usecase.PredictionEngine
	scheduler *usecase.RebalanceScheduler
	snapshots domsvc.SnapshotSource
	res       *resilience.Client
	cache     pkgcache.Service
	intents   drepo.IntentStore
	predTTL   time.Duration
}

func NewPipelineEchoHandler(
	logger *xlogger.Logger,
	engine *usecase.PredictionEngine,
	scheduler *usecase.RebalanceScheduler,
	snapshots domsvc.SnapshotSource,
	res *resilience.Client,
	cache pkgcache.Service,
	intents drepo.IntentStore,
) *PipelineEchoHandler {
	return &PipelineEchoHandler{
		logger:    logger,
		engine:    engine,
		scheduler: scheduler,
		snapshots: snapshots,
		res:       res,
		cache:     cache,
		intents:   intents,
		predTTL:   15 * time.Second,
	}
}

func (h *PipelineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/prediction", h.Prediction)
	g.GET("/portfolio", h.Portfolio)
	g.POST("/rebalance/:owner", h.Rebalance)
	g.POST("/scheduler", h.SchedulerControl)
	g.GET("/scheduler", h.SchedulerStatus)
	g.GET("/breakers", h.Breakers)
	g.GET("/model", h.Model)
	g.GET("/intents/:owner", h.Intents)
}

func (h *PipelineEchoHandler) Prediction(c echo.Context) error {
	req := &models.PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	cacheKey := pkgcache.GenerateKey("prediction", req.Asset)
	if h.cache != nil {
		var raw string
		if err := h.cache.Get(ctx, cacheKey, &raw); err == nil {
			var cached models.Prediction
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return xhttp.SuccessResponse(c, cached)
			}
		}
	}

	pred, err := h.engine.Predict(ctx, req.Asset, nil)
	if err != nil {
		h.logger.Error("prediction usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if h.cache != nil {
		if b, err := json.Marshal(pred); err == nil {
			_ = h.cache.Set(ctx, cacheKey, string(b), h.predTTL)
		}
	}
	return xhttp.SuccessResponse(c, pred)
}

func (h *PipelineEchoHandler) Portfolio(c echo.Context) error {
	req := &models.PortfolioRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.snapshots.Fetch(c.Request().Context(), req.Owner)
	if err != nil {
		h.logger.Error("portfolio fetch error", xlogger.String("owner", req.Owner), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	type positionView struct {
		Asset    string  `json:"asset"`
		Balance  float64 `json:"balance"`
		ValueUSD float64 `json:"value_usd"`
		Weight   float64 `json:"weight"`
	}
	out := struct {
		Owner         string         `json:"owner"`
		AsOf          time.Time      `json:"as_of"`
		TotalValueUSD float64        `json:"total_value_usd"`
		Positions     []positionView `json:"positions"`
	}{Owner: snap.Owner, AsOf: snap.AsOf, TotalValueUSD: snap.TotalValueUSD}
	for _, p := range snap.Positions {
		out.Positions = append(out.Positions, positionView{
			Asset:    p.Asset,
			Balance:  p.Balance,
			ValueUSD: p.ValueUSD,
			Weight:   snap.Weight(p.Asset),
		})
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *PipelineEchoHandler) Rebalance(c echo.Context) error {
	req := &models.RebalanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	result := h.scheduler.RunCycle(c.Request().Context(), req.Owner)
	return xhttp.SuccessResponse(c, result)
}

func (h *PipelineEchoHandler) SchedulerControl(c echo.Context) error {
	req := &models.SchedulerControlRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	switch req.Action {
	case "start":
		h.scheduler.Start(c.Request().Context())
	case "stop":
		h.scheduler.Stop()
	}
	return xhttp.SuccessResponse(c, h.scheduler.Status())
}

func (h *PipelineEchoHandler) SchedulerStatus(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.scheduler.Status())
}

func (h *PipelineEchoHandler) Breakers(c echo.Context) error {
	type breakerView struct {
		Service string `json:"service"`
		State   string `json:"state"`
	}
	out := make([]breakerView, 0)
	for _, svc := range h.res.Services() {
		out = append(out, breakerView{Service: svc, State: h.res.BreakerState(svc).String()})
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *PipelineEchoHandler) Intents(c echo.Context) error {
	req := &models.RebalanceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.intents == nil {
		return xhttp.NotFoundResponse(c, map[string]string{"error": "intent history not configured"})
	}

	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 50)
	history, err := h.intents.History(c.Request().Context(), req.Owner, limit)
	if err != nil {
		h.logger.Error("intent history error", xlogger.String("owner", req.Owner), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, history)
}

func (h *PipelineEchoHandler) Model(c echo.Context) error {
	req := &models.PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	meta, ok := h.engine.ActiveModel(req.Asset)
	if !ok {
		return xhttp.SuccessResponse(c, map[string]interface{}{
			"asset":   req.Asset,
			"trained": false,
			"samples": h.engine.SampleCount(req.Asset),
		})
	}
	return xhttp.SuccessResponse(c, meta)
}
