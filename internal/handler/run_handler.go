package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"resume-mail-import/internal/service"
)

// EnqueueRun creates an import run for a job posting
func (h *Handlers) EnqueueRun(c *gin.Context) {
	var req EnqueueRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	run, err := h.runs.Enqueue(c.Request.Context(), service.EnqueueRequest{
		JobID:        req.JobID,
		Mailbox:      req.Mailbox,
		SearchText:   req.SearchText,
		MaxEmails:    req.MaxEmails,
		Mode:         req.Mode,
		LookbackDays: req.LookbackDays,
	})
	if err != nil {
		respondError(c, err, "Failed to enqueue run")
		return
	}

	c.JSON(http.StatusCreated, run)
}

// PreviewRun estimates how many matching emails carry a resume
func (h *Handlers) PreviewRun(c *gin.Context) {
	var req PreviewRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	result, err := h.scans.Preview(c.Request.Context(), service.PreviewRequest{
		Mailbox:      req.Mailbox,
		SearchText:   req.SearchText,
		MaxEmails:    req.MaxEmails,
		Mode:         req.Mode,
		LookbackDays: req.LookbackDays,
	})
	if err != nil {
		respondError(c, err, "Failed to preview mailbox")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetRun returns a run with its progress and counts
func (h *Handlers) GetRun(c *gin.Context) {
	status, err := h.runs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to fetch run")
		return
	}

	c.JSON(http.StatusOK, RunStatusResponse{
		Run:        status.Run,
		ItemCounts: status.ItemCounts,
		JobCounts:  status.JobCounts,
	})
}

// ListRuns returns runs with pagination, optionally filtered by job_id
func (h *Handlers) ListRuns(c *gin.Context) {
	page, limit := pageParams(c)

	runs, total, err := h.runs.List(c.Request.Context(), c.Query("job_id"), (page-1)*limit, limit)
	if err != nil {
		respondError(c, err, "Failed to fetch runs")
		return
	}

	c.JSON(http.StatusOK, RunListResponse{
		Runs:       runs,
		Pagination: Pagination{Page: page, Limit: limit, Total: total},
	})
}

// CancelRun cancels an enqueued or running run
func (h *Handlers) CancelRun(c *gin.Context) {
	run, err := h.runs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to cancel run")
		return
	}

	c.JSON(http.StatusOK, run)
}

// ListItems returns the items of a run with pagination
func (h *Handlers) ListItems(c *gin.Context) {
	page, limit := pageParams(c)

	items, total, err := h.runs.ListItems(c.Request.Context(), c.Param("id"), (page-1)*limit, limit)
	if err != nil {
		respondError(c, err, "Failed to fetch items")
		return
	}

	c.JSON(http.StatusOK, ItemListResponse{
		Items:      items,
		Pagination: Pagination{Page: page, Limit: limit, Total: total},
	})
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit
}
