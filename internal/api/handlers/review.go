package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/services"
)

// ReviewHandler handles the human review queue
type ReviewHandler struct {
	reviewService *services.ReviewService
}

// NewReviewHandler creates a new ReviewHandler instance
func NewReviewHandler(reviewService *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
	}
}

// GetPending returns review entries still awaiting a verdict
// GET /api/review
func (h *ReviewHandler) GetPending(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	accountID, _ := strconv.ParseUint(c.Query("account_id"), 10, 32)

	result, err := h.reviewService.GetPending(services.PendingFilter{
		AccountID: uint(accountID),
		Source:    c.Query("source"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve review queue",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total":   result.Total,
			"entries": result.Entries,
		},
	})
}

// VerdictRequest carries optional corrected metadata for a verdict
type VerdictRequest struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Status   string `json:"status"`
}

// reviewVerdictError maps review service errors to an HTTP response
func reviewVerdictError(c *gin.Context, err error) {
	switch err {
	case services.ErrReviewEntryNotFound:
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Review entry not found",
			},
		})
	case services.ErrReviewEntryExpired:
		c.JSON(http.StatusGone, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EXPIRED",
				"message": "Review entry has expired",
			},
		})
	case services.ErrInvalidJobStatus:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid job status",
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to apply verdict",
			},
		})
	}
}

// MarkJobRelated confirms an entry as job related
// POST /api/review/:id/job-related
func (h *ReviewHandler) MarkJobRelated(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req VerdictRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid request body",
					"details": err.Error(),
				},
			})
			return
		}
	}

	record, err := h.reviewService.MarkJobRelated(id, services.VerdictMetadata{
		Company:  req.Company,
		Position: req.Position,
		Status:   req.Status,
	})
	if err != nil {
		reviewVerdictError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    record,
	})
}

// ConfirmNotJob confirms an entry as not job related
// POST /api/review/:id/not-job
func (h *ReviewHandler) ConfirmNotJob(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.reviewService.ConfirmNotJob(id); err != nil {
		reviewVerdictError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// BulkVerdictRequest applies one verdict to many entries
type BulkVerdictRequest struct {
	Action   string `json:"action" binding:"required"`
	IDs      []uint `json:"ids" binding:"required"`
	Company  string `json:"company"`
	Position string `json:"position"`
	Status   string `json:"status"`
}

// BulkVerdict applies a verdict to each listed entry independently
// POST /api/review/bulk
func (h *ReviewHandler) BulkVerdict(c *gin.Context) {
	var req BulkVerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "ids must not be empty",
			},
		})
		return
	}

	var outcomes []services.BulkOutcome
	switch req.Action {
	case "approve":
		outcomes = h.reviewService.ApproveForExtraction(req.IDs, services.VerdictMetadata{
			Company:  req.Company,
			Position: req.Position,
			Status:   req.Status,
		})
	case "reject":
		outcomes = h.reviewService.RejectAsNotJob(req.IDs)
	case "needs_review":
		outcomes = h.reviewService.MarkNeedsReview(req.IDs)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Unknown bulk action",
				"details": req.Action,
			},
		})
		return
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"requested": len(req.IDs),
			"succeeded": succeeded,
			"outcomes":  outcomes,
		},
	})
}

// GetStats returns review queue counters
// GET /api/review/stats
func (h *ReviewHandler) GetStats(c *gin.Context) {
	stats, err := h.reviewService.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve review stats",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
