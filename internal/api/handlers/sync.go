package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/database/models"
	"github.com/jobtrail/core/internal/services"
)

// SyncHandler handles sync runs and their live event stream
type SyncHandler struct {
	orchestrator *services.SyncOrchestrator
	events       *services.EventBus
}

// NewSyncHandler creates a new SyncHandler instance
func NewSyncHandler(orchestrator *services.SyncOrchestrator, events *services.EventBus) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		events:       events,
	}
}

// StartSyncRequest represents the request to start a sync run
type StartSyncRequest struct {
	AccountIDs []uint `json:"account_ids"`
	SinceDays  int    `json:"since_days"`
}

// SyncRunResponse represents a finished or historical sync run
type SyncRunResponse struct {
	ID              uint   `json:"id"`
	Status          string `json:"status"`
	ClassifyOnly    bool   `json:"classify_only"`
	EmailsFetched   int    `json:"emails_fetched"`
	EmailsSkipped   int    `json:"emails_skipped"`
	DigestsFiltered int    `json:"digests_filtered"`
	Classified      int    `json:"classified"`
	JobsFound       int    `json:"jobs_found"`
	AutoRejected    int    `json:"auto_rejected"`
	NeedsReview     int    `json:"needs_review"`
	AccountErrors   int    `json:"account_errors"`
	Error           string `json:"error,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      int64  `json:"finished_at,omitempty"`
}

// toSyncRunResponse converts a SyncRun model to SyncRunResponse
func toSyncRunResponse(run *models.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:              run.ID,
		Status:          string(run.Status),
		ClassifyOnly:    run.ClassifyOnly,
		EmailsFetched:   run.EmailsFetched,
		EmailsSkipped:   run.EmailsSkipped,
		DigestsFiltered: run.DigestsFiltered,
		Classified:      run.Classified,
		JobsFound:       run.JobsFound,
		AutoRejected:    run.AutoRejected,
		NeedsReview:     run.NeedsReview,
		AccountErrors:   run.AccountErrors,
		Error:           run.Error,
		DurationMs:      run.DurationMs,
		StartedAt:       run.CreatedAt.Unix(),
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = run.FinishedAt.Unix()
	}
	return resp
}

// startSync runs a sync with the given options and writes the response
func (h *SyncHandler) startSync(c *gin.Context, classifyOnly bool) {
	var req StartSyncRequest
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

	opts := services.SyncOptions{
		AccountIDs:   req.AccountIDs,
		ClassifyOnly: classifyOnly,
	}
	if req.SinceDays > 0 {
		now := time.Now()
		opts.Window = &services.Window{Since: now.AddDate(0, 0, -req.SinceDays)}
	}

	run, err := h.orchestrator.RunSync(c.Request.Context(), opts)
	if err != nil {
		if err == services.ErrSyncInProgress {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "SYNC_IN_PROGRESS",
					"message": "A sync run is already active",
				},
			})
			return
		}
		if err == services.ErrNoAccounts {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NO_ACCOUNTS",
					"message": "No sync-enabled accounts to process",
				},
			})
			return
		}
		// 运行失败时 run 里仍然带着计数器
		if run != nil {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data":    toSyncRunResponse(run),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Sync run failed",
				"details": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toSyncRunResponse(run),
	})
}

// StartSync starts a full sync run
// POST /api/sync
func (h *SyncHandler) StartSync(c *gin.Context) {
	h.startSync(c, false)
}

// StartClassifyOnly starts a sync run restricted to the fast tier
// POST /api/sync/classify-only
func (h *SyncHandler) StartClassifyOnly(c *gin.Context) {
	h.startSync(c, true)
}

// CancelSync requests cancellation of the active run
// POST /api/sync/cancel
func (h *SyncHandler) CancelSync(c *gin.Context) {
	if !h.orchestrator.Cancel() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NO_ACTIVE_SYNC",
				"message": "No sync run is currently active",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"cancelled": true,
		},
	})
}

// GetStatus returns the current sync phase
// GET /api/sync/status
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.orchestrator.Status(),
	})
}

// GetHistory returns recent sync runs, newest first
// GET /api/sync/history
func (h *SyncHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.orchestrator.GetHistory(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve sync history",
			},
		})
		return
	}

	response := make([]SyncRunResponse, 0, len(runs))
	for i := range runs {
		response = append(response, toSyncRunResponse(&runs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

// GetRun returns a single sync run
// GET /api/sync/history/:id
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	run, err := h.orchestrator.GetRun(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Sync run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toSyncRunResponse(run),
	})
}

// StreamEvents streams pipeline events to the client over SSE
// GET /api/sync/events
func (h *SyncHandler) StreamEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	id, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	// 心跳保持连接不被代理断开
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}
