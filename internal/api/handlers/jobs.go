package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/database/models"
	"github.com/jobtrail/core/internal/services"
	"gorm.io/gorm"
)

// JobHandler handles the extracted job application records
type JobHandler struct {
	db         *gorm.DB
	logService *services.LogService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(db *gorm.DB, logService *services.LogService) *JobHandler {
	return &JobHandler{
		db:         db,
		logService: logService,
	}
}

// ListJobs returns job records, most recently applied first
// GET /api/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	db := h.db.Model(&models.JobRecord{})
	if accountID, err := strconv.ParseUint(c.Query("account_id"), 10, 32); err == nil && accountID > 0 {
		db = db.Where("account_id = ?", uint(accountID))
	}
	if status := c.Query("status"); status != "" {
		if !models.JobStatus(status).IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid job status filter",
				},
			})
			return
		}
		db = db.Where("status = ?", status)
	}
	if company := c.Query("company"); company != "" {
		db = db.Where("company LIKE ?", "%"+company+"%")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to count job records",
			},
		})
		return
	}

	var jobs []models.JobRecord
	err := db.Order("applied_date DESC, created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve job records",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total": total,
			"jobs":  jobs,
		},
	})
}

// GetJob returns a single job record
// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var job models.JobRecord
	if err := h.db.First(&job, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Job record not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve job record",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    job,
	})
}

// UpdateJobRequest updates the manually editable fields of a job record
type UpdateJobRequest struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Status   string `json:"status"`
}

// UpdateJob edits a job record's company, position or status
// PUT /api/jobs/:id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req UpdateJobRequest
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

	if req.Status != "" && !models.JobStatus(req.Status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid job status",
			},
		})
		return
	}

	var job models.JobRecord
	if err := h.db.First(&job, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Job record not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve job record",
			},
		})
		return
	}

	if req.Company != "" {
		job.Company = req.Company
	}
	if req.Position != "" {
		job.Position = req.Position
	}
	if req.Status != "" {
		job.Status = models.JobStatus(req.Status)
	}

	if err := h.db.Save(&job).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update job record",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    job,
	})
}

// DeleteJob removes a job record
// DELETE /api/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	result := h.db.Delete(&models.JobRecord{}, id)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to delete job record",
			},
		})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "Job record not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// GetJobStats returns aggregate counts per application status
// GET /api/jobs/stats
func (h *JobHandler) GetJobStats(c *gin.Context) {
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}

	var counts []statusCount
	err := h.db.Model(&models.JobRecord{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to compute job stats",
			},
		})
		return
	}

	var total int64
	byStatus := gin.H{}
	for _, sc := range counts {
		byStatus[sc.Status] = sc.Count
		total += sc.Count
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"total":     total,
			"by_status": byStatus,
		},
	})
}
