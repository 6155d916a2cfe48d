package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jobtrail/core/internal/database/models"
	"github.com/jobtrail/core/internal/services"
)

// AccountHandler handles mail account related requests
type AccountHandler struct {
	accountService *services.AccountService
	logService     *services.LogService
}

// NewAccountHandler creates a new AccountHandler instance
func NewAccountHandler(accountService *services.AccountService, logService *services.LogService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logService:     logService,
	}
}

// CreateAccountRequest represents the request to register a mail account
type CreateAccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name"`
	IMAPHost    string `json:"imap_host" binding:"required"`
	IMAPPort    int    `json:"imap_port" binding:"required"`
	Username    string `json:"username" binding:"required"`
	Credential  string `json:"credential" binding:"required"`
	AuthType    string `json:"auth_type"`
	UseSSL      bool   `json:"use_ssl"`
	SyncDays    int    `json:"sync_days"`
}

// UpdateAccountRequest represents the request to update a mail account
type UpdateAccountRequest struct {
	DisplayName string `json:"display_name"`
	IMAPHost    string `json:"imap_host"`
	IMAPPort    int    `json:"imap_port"`
	Username    string `json:"username"`
	Credential  string `json:"credential"`
	UseSSL      bool   `json:"use_ssl"`
	SyncDays    *int   `json:"sync_days"`
}

// AccountResponse represents the response for a mail account
type AccountResponse struct {
	ID           uint   `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	Username     string `json:"username"`
	AuthType     string `json:"auth_type"`
	UseSSL       bool   `json:"use_ssl"`
	SyncEnabled  bool   `json:"sync_enabled"`
	SyncDays     int    `json:"sync_days"`
	LastSyncedAt int64  `json:"last_synced_at"`
	CreatedAt    int64  `json:"created_at"`
}

// toAccountResponse converts an Account model to AccountResponse
func toAccountResponse(account *models.Account) AccountResponse {
	return AccountResponse{
		ID:           account.ID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		IMAPHost:     account.IMAPHost,
		IMAPPort:     account.IMAPPort,
		Username:     account.Username,
		AuthType:     string(account.AuthType),
		UseSSL:       account.UseSSL,
		SyncEnabled:  account.SyncEnabled,
		SyncDays:     account.SyncDays,
		LastSyncedAt: account.LastSyncedAt.Unix(),
		CreatedAt:    account.CreatedAt.Unix(),
	}
}

// ListAccounts returns all registered mail accounts
// GET /api/accounts
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.GetAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve accounts",
			},
		})
		return
	}

	var response []AccountResponse
	for _, account := range accounts {
		response = append(response, toAccountResponse(&account))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

// CreateAccount registers a new mail account
// POST /api/accounts
func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
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

	input := services.CreateAccountInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		IMAPHost:    req.IMAPHost,
		IMAPPort:    req.IMAPPort,
		Username:    req.Username,
		Credential:  req.Credential,
		AuthType:    models.AuthType(req.AuthType),
		UseSSL:      req.UseSSL,
		SyncDays:    req.SyncDays,
	}

	account, err := h.accountService.CreateAccount(input)
	if err != nil {
		if err == services.ErrAccountAlreadyExists {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CONFLICT",
					"message": "Mail account already exists",
				},
			})
			return
		}
		if err == services.ErrInvalidAccountData {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Missing required account fields",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to create account",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// parseIDParam extracts and parses the :id path parameter
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid id parameter",
			},
		})
		return 0, false
	}
	return uint(id), true
}

// GetAccount returns a specific mail account
// GET /api/accounts/:id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccountByID(id)
	if err != nil {
		if err == services.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Account not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to retrieve account",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// UpdateAccount updates a mail account
// PUT /api/accounts/:id
func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req UpdateAccountRequest
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

	input := services.UpdateAccountInput{
		DisplayName: req.DisplayName,
		IMAPHost:    req.IMAPHost,
		IMAPPort:    req.IMAPPort,
		Username:    req.Username,
		Credential:  req.Credential,
		UseSSL:      req.UseSSL,
		SyncDays:    req.SyncDays,
	}

	account, err := h.accountService.UpdateAccount(id, input)
	if err != nil {
		if err == services.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Account not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update account",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// DeleteAccount removes a mail account
// DELETE /api/accounts/:id
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.accountService.DeleteAccount(id); err != nil {
		if err == services.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Account not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to delete account",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// SetSyncEnabledRequest toggles an account's sync participation
type SetSyncEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetSyncEnabled turns sync on or off for an account
// PUT /api/accounts/:id/sync
func (h *AccountHandler) SetSyncEnabled(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req SetSyncEnabledRequest
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

	account, err := h.accountService.SetSyncEnabled(id, *req.Enabled)
	if err != nil {
		if err == services.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Account not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to update account",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toAccountResponse(account),
	})
}

// TestConnection tests the connection for a stored account
// POST /api/accounts/:id/test
func (h *AccountHandler) TestConnection(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	result, err := h.accountService.TestConnectionByID(id)
	if err != nil {
		if err == services.ErrAccountNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Account not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to test connection",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// TestConnectionRequest represents a connection test without saving
type TestConnectionRequest struct {
	IMAPHost   string `json:"imap_host" binding:"required"`
	IMAPPort   int    `json:"imap_port" binding:"required"`
	Username   string `json:"username" binding:"required"`
	Credential string `json:"credential" binding:"required"`
	UseSSL     bool   `json:"use_ssl"`
}

// TestConnectionDirect tests a connection with provided credentials
// POST /api/accounts/test
func (h *AccountHandler) TestConnectionDirect(c *gin.Context) {
	var req TestConnectionRequest
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

	result := h.accountService.TestConnectionDirect(services.TestConnectionInput{
		IMAPHost:   req.IMAPHost,
		IMAPPort:   req.IMAPPort,
		Username:   req.Username,
		Credential: req.Credential,
		UseSSL:     req.UseSSL,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
