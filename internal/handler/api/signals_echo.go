package api

import (
	"time"

	models "NarraTrade/internal/domain/models"
	drepo "NarraTrade/internal/domain/repository"
	mid "NarraTrade/internal/middleware"
	"NarraTrade/internal/usecase"
	xhttp "NarraTrade/pkg/http"
	xlogger "NarraTrade/pkg/logger"

	"github.com/labstack/echo/v4"
)

// SignalsEchoHandler accepts scored signal items over HTTP, for sources that
// cannot reach the Kafka topic or the stream.
type SignalsEchoHandler struct {
	logger  *xlogger.Logger
	pipe    *mid.IngestPipeline
	agg     *usecase.SignalAggregator
	buckets drepo.BucketStore
}

func NewSignalsEchoHandler(logger *xlogger.Logger, pipe *mid.IngestPipeline, agg *usecase.SignalAggregator, buckets drepo.BucketStore) *SignalsEchoHandler {
	return &SignalsEchoHandler{logger: logger, pipe: pipe, agg: agg, buckets: buckets}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/signals", h.Ingest)
	g.GET("/buckets/latest", h.LatestBucket)
	g.GET("/buckets/range", h.BucketRange)
}

func (h *SignalsEchoHandler) Ingest(c echo.Context) error {
	req := &models.SignalItemRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	item := req.ToSignalItem()
	if h.pipe != nil {
		if err := h.pipe.Process(c.Request().Context(), item); err != nil {
			h.logger.Warn("signal ingest rejected", xlogger.String("asset", item.Asset), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, err)
		}
	} else {
		h.agg.Ingest(item)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "accepted"})
}

func (h *SignalsEchoHandler) LatestBucket(c echo.Context) error {
	req := &models.PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	bucket := h.agg.Latest(req.Asset)
	if bucket == nil {
		return xhttp.NotFoundResponse(c, map[string]string{"asset": req.Asset})
	}
	return xhttp.SuccessResponse(c, bucket)
}

func (h *SignalsEchoHandler) BucketRange(c echo.Context) error {
	req := &models.PredictionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.buckets == nil {
		return xhttp.NotFoundResponse(c, map[string]string{"error": "bucket history not configured"})
	}

	now := time.Now().UTC()
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), now)
	out, err := h.buckets.Range(c.Request().Context(), req.Asset, from, to)
	if err != nil {
		h.logger.Error("bucket range error", xlogger.String("asset", req.Asset), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, out)
}
