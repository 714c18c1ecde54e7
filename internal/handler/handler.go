package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/dto"
	"github.com/BarkinBalci/telemetry-pipeline/internal/service"
)

// maxBodyBytes bounds a single telemetry payload
const maxBodyBytes = 64 << 10

type Handler struct {
	telemetryService service.TelemetryServicer
	router           *gin.Engine
	log              *zap.Logger
}

func NewHandler(telemetryService service.TelemetryServicer, log *zap.Logger) *Handler {
	h := &Handler{
		telemetryService: telemetryService,
		router:           gin.Default(),
		log:              log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/telemetry/:storeCode", h.publishTelemetry)
	h.router.GET("/readings/stats", h.getReadingStats)
	h.router.GET("/readings/latest", h.getLatestReadings)
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// publishTelemetry handles POST /telemetry/:storeCode
func (h *Handler) publishTelemetry(c *gin.Context) {
	storeCode := c.Param("storeCode")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		h.respondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}
	if len(body) > maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "payload too large",
		})
		return
	}

	response, err := h.telemetryService.PublishTelemetry(c.Request.Context(), storeCode, body)
	if err != nil {
		h.log.Warn("Telemetry not accepted",
			zap.String("store_code", storeCode),
			zap.Error(err))
		h.respondServiceError(c, err)
		return
	}

	h.log.Info("Telemetry accepted",
		zap.String("store_code", response.StoreCode),
		zap.Strings("metrics", response.Metrics))

	c.JSON(http.StatusAccepted, response)
}

// getReadingStats handles GET /readings/stats
func (h *Handler) getReadingStats(c *gin.Context) {
	var req dto.GetReadingStatsRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid reading stats request", zap.Error(err))
		h.respondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}

	response, err := h.telemetryService.GetReadingStats(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get reading stats",
			zap.Error(err),
			zap.String("store_code", req.StoreCode),
			zap.String("sensor_type", req.SensorType),
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getLatestReadings handles GET /readings/latest
func (h *Handler) getLatestReadings(c *gin.Context) {
	var req dto.GetLatestReadingsRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}

	response, err := h.telemetryService.GetLatestReadings(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get latest readings",
			zap.Error(err),
			zap.String("store_code", req.StoreCode))
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) respondServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		h.respondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}
	h.respondError(c, http.StatusInternalServerError, "internal_error", err)
}

func (h *Handler) respondError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}
