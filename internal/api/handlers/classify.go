package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/ai"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
)

// ClassifyHandler exposes the fast classifier, the prompt manager and
// the deep-tier circuit breaker
type ClassifyHandler struct {
	fast    *local.FastClassifier
	prompt  *ai.PromptManager
	breaker *classify.Breaker
}

// NewClassifyHandler creates a new ClassifyHandler instance
func NewClassifyHandler(fast *local.FastClassifier, prompt *ai.PromptManager, breaker *classify.Breaker) *ClassifyHandler {
	return &ClassifyHandler{
		fast:    fast,
		prompt:  prompt,
		breaker: breaker,
	}
}

// FeedbackRequest represents a classification correction
type FeedbackRequest struct {
	Subject      string `json:"subject" binding:"required"`
	From         string `json:"from"`
	Body         string `json:"body"`
	IsJobRelated *bool  `json:"is_job_related" binding:"required"`
}

// SubmitFeedback records a labeled sample and nudges the fast classifier
// POST /api/ml/feedback
func (h *ClassifyHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
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

	excerpt := req.Body
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}

	sample := models.TrainingSample{
		Subject:      req.Subject,
		FromAddr:     req.From,
		BodyExcerpt:  excerpt,
		IsJobRelated: *req.IsJobRelated,
		Origin:       models.OriginFeedback,
	}
	if err := h.fast.SubmitFeedback(sample); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to record feedback",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// Retrain rebuilds the fast classifier from accumulated samples
// POST /api/ml/retrain
func (h *ClassifyHandler) Retrain(c *gin.Context) {
	stats, err := h.fast.Retrain()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Retrain failed",
				"details": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetStats returns fast classifier training counters
// GET /api/ml/stats
func (h *ClassifyHandler) GetStats(c *gin.Context) {
	stats, err := h.fast.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve classifier stats",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetPrompt returns the active extraction prompt and its token budget
// GET /api/prompt
func (h *ClassifyHandler) GetPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"prompt":     h.prompt.GetPrompt(),
			"customized": h.prompt.IsCustomized(),
			"tokens":     h.prompt.ActiveTokenInfo(),
		},
	})
}

// SetPromptRequest replaces the extraction prompt instructions
type SetPromptRequest struct {
	Prompt string `json:"prompt"`
}

// SetPrompt stores custom prompt instructions
// POST /api/prompt
func (h *ClassifyHandler) SetPrompt(c *gin.Context) {
	var req SetPromptRequest
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

	if err := h.prompt.SetPrompt(req.Prompt); err != nil {
		if errors.Is(err, ai.ErrPromptTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "PROMPT_TOO_LARGE",
					"message": "Prompt exceeds the template token budget",
					"details": h.prompt.TokenInfo(req.Prompt),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to store prompt",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"prompt":     h.prompt.GetPrompt(),
			"customized": h.prompt.IsCustomized(),
			"tokens":     h.prompt.ActiveTokenInfo(),
		},
	})
}

// ResetPrompt restores the built-in extraction prompt
// DELETE /api/prompt
func (h *ClassifyHandler) ResetPrompt(c *gin.Context) {
	if err := h.prompt.ResetPrompt(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to reset prompt",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"prompt":     h.prompt.GetPrompt(),
			"customized": h.prompt.IsCustomized(),
		},
	})
}

// PreviewTokensRequest asks for the budget of a prompt without saving it
type PreviewTokensRequest struct {
	Prompt string `json:"prompt"`
}

// PreviewTokens reports the token budget for a candidate prompt
// POST /api/prompt/tokens
func (h *ClassifyHandler) PreviewTokens(c *gin.Context) {
	var req PreviewTokensRequest
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

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.prompt.TokenInfo(req.Prompt),
	})
}

// GetTokens reports the budget of the active prompt
// GET /api/prompt/tokens
func (h *ClassifyHandler) GetTokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.prompt.ActiveTokenInfo(),
	})
}

// GetBreaker returns the deep-tier circuit breaker state
// GET /api/breaker
func (h *ClassifyHandler) GetBreaker(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.breaker.Status(),
	})
}

// ResetBreaker force-closes the circuit breaker
// POST /api/breaker/reset
func (h *ClassifyHandler) ResetBreaker(c *gin.Context) {
	h.breaker.Reset()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.breaker.Status(),
	})
}
