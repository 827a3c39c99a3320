package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"resume-mail-import/internal/scheduler"
	"resume-mail-import/internal/service"
)

// WorkerDefaults are used by POST /worker/slice when the query omits them
type WorkerDefaults struct {
	Concurrency int
	JobTimeout  time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	runs      *service.RunService
	scans     *service.ScanService
	pipeline  *service.Pipeline
	worker    *service.Worker
	scheduler *scheduler.Scheduler
	defaults  WorkerDefaults
	metrics   http.Handler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(
	db *gorm.DB,
	runs *service.RunService,
	scans *service.ScanService,
	pipeline *service.Pipeline,
	worker *service.Worker,
	sched *scheduler.Scheduler,
	defaults WorkerDefaults,
) *Handlers {
	return &Handlers{
		db:        db,
		runs:      runs,
		scans:     scans,
		pipeline:  pipeline,
		worker:    worker,
		scheduler: sched,
		defaults:  defaults,
		metrics:   promhttp.Handler(),
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metrics))

	api := router.Group("/api/v1")
	{
		api.POST("/runs", h.EnqueueRun)
		api.POST("/runs/preview", h.PreviewRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/cancel", h.CancelRun)
		api.GET("/runs/:id/items", h.ListItems)

		api.POST("/dispatch", h.Dispatch)
		api.POST("/worker/slice", h.WorkerSlice)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.db.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// respondError maps service errors onto status codes
func respondError(c *gin.Context, err error, message string) {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, ConflictResponse{
			Error:   "conflict",
			Message: err.Error(),
			Code:    http.StatusConflict,
			RunID:   conflict.RunID,
		})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
			Code:    http.StatusNotFound,
		})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_state",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
	default:
		logrus.Errorf("%s: %v", message, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: message,
			Code:    http.StatusInternalServerError,
		})
	}
}
