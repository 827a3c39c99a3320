package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Dispatch promotes the oldest enqueued run and scans its mailbox. Serverless
// deployments call it from an external cron in place of the scheduler.
func (h *Handlers) Dispatch(c *gin.Context) {
	res, err := h.pipeline.DispatchAndScan(c.Request.Context())
	if err != nil && !res.Dispatched {
		respondError(c, err, "Failed to dispatch run")
		return
	}
	if err != nil {
		// the run was promoted; its scan outcome is recorded on the run
		c.Error(err)
	}

	if !res.Dispatched {
		c.JSON(http.StatusOK, DispatchResponse{Status: "none"})
		return
	}
	runID := res.RunID
	c.JSON(http.StatusOK, DispatchResponse{Dispatched: &runID, Status: "dispatched"})
}

// WorkerSlice runs one bounded batch of AI jobs
func (h *Handlers) WorkerSlice(c *gin.Context) {
	concurrency := h.defaults.Concurrency
	if raw := c.Query("concurrency"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "concurrency must be between 1 and 50",
				Code:    http.StatusBadRequest,
			})
			return
		}
		concurrency = n
	}

	timeout := h.defaults.JobTimeout
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "timeout_ms must be a positive integer",
				Code:    http.StatusBadRequest,
			})
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	result, err := h.worker.ProcessSlice(c.Request.Context(), concurrency, timeout)
	if err != nil {
		respondError(c, err, "Failed to process worker slice")
		return
	}

	c.JSON(http.StatusOK, result)
}
