package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
	"github.com/kurihiro0119/gitlab-inventory/internal/report"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
)

const defaultRunLimit = 20

// Handler handles API requests
type Handler struct {
	storage    storage.Storage
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, agg aggregator.Aggregator) *Handler {
	return &Handler{
		storage:    store,
		aggregator: agg,
	}
}

// ListRuns returns the stored runs, newest first
// GET /api/v1/runs?limit=20
func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, apperrors.NewBadRequestError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.storage.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.InventoryRun{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one run
// GET /api/v1/runs/:run
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.resolveRun(c)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetRunSummary returns the totals of a run, or one summary per group with ?by=group
// GET /api/v1/runs/:run/summary
func (h *Handler) GetRunSummary(c *gin.Context) {
	run, err := h.resolveRun(c)
	if err != nil {
		respondError(c, err)
		return
	}

	switch c.Query("by") {
	case "":
		summary, err := h.aggregator.RunSummary(c.Request.Context(), run.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data": summary,
		})
	case "group":
		summaries, err := h.aggregator.GroupSummaries(c.Request.Context(), run.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if summaries == nil {
			summaries = []*domain.InventorySummary{}
		}
		c.JSON(http.StatusOK, gin.H{
			"data": summaries,
		})
	default:
		respondError(c, apperrors.NewBadRequestError("by must be empty or \"group\""))
	}
}

// GetRunProjects returns the inventory rows of a run
// GET /api/v1/runs/:run/projects?status=active|archived|error
func (h *Handler) GetRunProjects(c *gin.Context) {
	status := domain.RecordStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		respondError(c, apperrors.NewBadRequestError("unknown status "+strconv.Quote(string(status))))
		return
	}

	run, err := h.resolveRun(c)
	if err != nil {
		respondError(c, err)
		return
	}

	records, err := h.storage.GetRecords(c.Request.Context(), run.ID, status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report.Rows(records),
	})
}

// GetRunGroups returns the groups discovered by a run
// GET /api/v1/runs/:run/groups
func (h *Handler) GetRunGroups(c *gin.Context) {
	run, err := h.resolveRun(c)
	if err != nil {
		respondError(c, err)
		return
	}

	groups, err := h.storage.GetGroups(c.Request.Context(), run.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if groups == nil {
		groups = []domain.GroupNode{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": groups,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (h *Handler) resolveRun(c *gin.Context) (*domain.InventoryRun, error) {
	id := c.Param("run")
	if id == domain.LatestRun {
		return h.storage.GetLatestRun(c.Request.Context())
	}
	return h.storage.GetRun(c.Request.Context(), id)
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeAuthFailure:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeRemoteUnavailable:
			status = http.StatusBadGateway
		case apperrors.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
