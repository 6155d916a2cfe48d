package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

// LogService handles logging operations
type LogService struct {
	db       *gorm.DB
	logLevel models.LogLevel
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo, // Default log level
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{
		db:       db,
		logLevel: parseLogLevel(level),
	}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel sets the minimum log level
func (s *LogService) SetLogLevel(level string) {
	s.logLevel = parseLogLevel(level)
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	return s.logLevel
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	levelPriority := map[models.LogLevel]int{
		models.LogLevelDebug: 0,
		models.LogLevelInfo:  1,
		models.LogLevelWarn:  2,
		models.LogLevelError: 3,
	}

	return levelPriority[level] >= levelPriority[s.logLevel]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	// Check if this log level should be recorded
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	log := &models.Log{
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}

	return s.db.Create(log).Error
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		Level:   models.LogLevelInfo,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		Level:   models.LogLevelWarn,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		Level:   models.LogLevelError,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		Level:   models.LogLevelDebug,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

// AccountChangeDetails represents details for account configuration changes
type AccountChangeDetails struct {
	AccountID    uint   `json:"account_id"`
	AccountEmail string `json:"account_email"`
	Field        string `json:"field,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
}

// LogAccountCreated logs an account creation event
func (s *LogService) LogAccountCreated(accountID uint, email string) error {
	return s.LogInfo(models.LogModuleAccount, "create", "Email account created", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountUpdated logs an account update event
func (s *LogService) LogAccountUpdated(accountID uint, email string) error {
	return s.LogInfo(models.LogModuleAccount, "update", "Email account updated", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountDeleted logs an account deletion event
func (s *LogService) LogAccountDeleted(accountID uint, email string) error {
	return s.LogInfo(models.LogModuleAccount, "delete", "Email account deleted", AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
	})
}

// LogAccountSyncToggled logs a sync enable / disable event
func (s *LogService) LogAccountSyncToggled(accountID uint, email string, enabled bool) error {
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	return s.LogInfo(models.LogModuleAccount, "sync_toggle", "Account sync "+status, AccountChangeDetails{
		AccountID:    accountID,
		AccountEmail: email,
		Field:        "sync_enabled",
		NewValue:     status,
	})
}

// ===== API request logging =====

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest logs an API request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = models.LogLevelWarn
	} else if statusCode >= 500 {
		level = models.LogLevelError
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAPI,
		Action:  "request",
		Message: method + " " + path,
		Details: APIRequestDetails{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Duration:   durationMs,
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	})
}

// ===== Fetch logging =====

// FetchDetails represents details for fetch operation logs
type FetchDetails struct {
	AccountID  uint   `json:"account_id"`
	EmailCount int    `json:"email_count,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Status     string `json:"status"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// LogFetch logs one account's fetch pass
func (s *LogService) LogFetch(accountID uint, fetched, skipped int, err error) error {
	details := FetchDetails{
		AccountID:  accountID,
		EmailCount: fetched,
		Skipped:    skipped,
		Status:     "success",
	}

	level := models.LogLevelInfo
	message := "Fetched emails successfully"

	if err != nil {
		level = models.LogLevelError
		details.Status = "failed"
		details.ErrorMsg = err.Error()
		message = "Failed to fetch emails"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleFetch,
		Action:  "fetch",
		Message: message,
		Details: details,
	})
}

// ===== Classification logging =====

// ClassifyDetails represents details for classification logs
type ClassifyDetails struct {
	AccountID  uint    `json:"account_id"`
	MessageID  string  `json:"message_id,omitempty"`
	Source     string  `json:"source,omitempty"` // fast, deep, review
	Routed     string  `json:"routed,omitempty"`
	Reason     string  `json:"reason,omitempty"` // digest filter match
	Confidence float64 `json:"confidence,omitempty"`
	Status     string  `json:"status"`
	ErrorMsg   string  `json:"error_msg,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// LogClassification logs one email's classification outcome
func (s *LogService) LogClassification(accountID uint, messageID, source, routed string, confidence float64, durationMs int64, err error) error {
	details := ClassifyDetails{
		AccountID:  accountID,
		MessageID:  messageID,
		Source:     source,
		Routed:     routed,
		Confidence: confidence,
		Status:     "success",
		DurationMs: durationMs,
	}

	level := models.LogLevelDebug
	message := "Email classified"

	if err != nil {
		level = models.LogLevelError
		details.Status = "failed"
		details.ErrorMsg = err.Error()
		message = "Failed to classify email"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleClassify,
		Action:  "classify",
		Message: message,
		Details: details,
	})
}

// LogDigestFiltered logs a bulk email the digest filter dropped, with the
// matched rule as the reason
func (s *LogService) LogDigestFiltered(accountID uint, messageID, reason string, durationMs int64) error {
	return s.Log(LogEntry{
		Level:   models.LogLevelDebug,
		Module:  models.LogModuleClassify,
		Action:  "digest_filtered",
		Message: "Digest filtered: " + reason,
		Details: ClassifyDetails{
			AccountID:  accountID,
			MessageID:  messageID,
			Routed:     "filtered",
			Reason:     reason,
			Status:     "success",
			DurationMs: durationMs,
		},
	})
}

// LogBreakerTransition logs a circuit breaker state change
func (s *LogService) LogBreakerTransition(from, to string, failures int) error {
	return s.LogWarn(models.LogModuleClassify, "breaker_transition", "Circuit breaker "+from+" -> "+to, map[string]interface{}{
		"from":     from,
		"to":       to,
		"failures": failures,
	})
}

// ===== Review logging =====

// ReviewDetails represents details for review queue logs
type ReviewDetails struct {
	EntryID   uint   `json:"entry_id,omitempty"`
	AccountID uint   `json:"account_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Count     int    `json:"count,omitempty"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// LogReviewVerdict logs a single-entry review verdict
func (s *LogService) LogReviewVerdict(entryID uint, verdict string, err error) error {
	details := ReviewDetails{
		EntryID: entryID,
		Verdict: verdict,
		Status:  "success",
	}

	level := models.LogLevelInfo
	message := "Review verdict applied"

	if err != nil {
		level = models.LogLevelError
		details.Status = "failed"
		details.ErrorMsg = err.Error()
		message = "Failed to apply review verdict"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleReview,
		Action:  "verdict",
		Message: message,
		Details: details,
	})
}

// LogReviewExpiry logs an expiry sweep of the review queue
func (s *LogService) LogReviewExpiry(removed int) error {
	if removed == 0 {
		return nil
	}
	return s.LogInfo(models.LogModuleReview, "expire", "Expired review entries removed", ReviewDetails{
		Count:  removed,
		Status: "success",
	})
}

// ===== Sync logging =====

// SyncDetails represents details for sync run logs
type SyncDetails struct {
	SyncRunID     uint   `json:"sync_run_id,omitempty"`
	AccountCount  int    `json:"account_count,omitempty"`
	EmailsFetched int    `json:"emails_fetched,omitempty"`
	JobsFound     int    `json:"jobs_found,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Status        string `json:"status"`
	ErrorMsg      string `json:"error_msg,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
}

// LogSyncStarted logs the start of a sync run
func (s *LogService) LogSyncStarted(syncRunID uint, accountCount int) error {
	return s.LogInfo(models.LogModuleSync, "start", "Sync run started", SyncDetails{
		SyncRunID:    syncRunID,
		AccountCount: accountCount,
		Status:       "running",
	})
}

// LogSyncFinished logs the completion of a sync run
func (s *LogService) LogSyncFinished(syncRunID uint, status string, fetched, jobsFound int, durationMs int64, err error) error {
	details := SyncDetails{
		SyncRunID:     syncRunID,
		EmailsFetched: fetched,
		JobsFound:     jobsFound,
		Status:        status,
		DurationMs:    durationMs,
	}

	level := models.LogLevelInfo
	message := "Sync run finished"

	if err != nil {
		level = models.LogLevelError
		details.ErrorMsg = err.Error()
		message = "Sync run failed"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleSync,
		Action:  "finish",
		Message: message,
		Details: details,
	})
}

// LogAccountSyncError logs a per-account failure inside a sync run
func (s *LogService) LogAccountSyncError(syncRunID, accountID uint, err error) error {
	return s.LogError(models.LogModuleSync, "account_error", "Account failed during sync", map[string]interface{}{
		"sync_run_id": syncRunID,
		"account_id":  accountID,
		"error_msg":   err.Error(),
	})
}

// ===== Log query methods =====

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// GetLogByID retrieves a single log entry by ID
func (s *LogService) GetLogByID(id uint) (*models.Log, error) {
	var log models.Log
	if err := s.db.First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetRecentLogs retrieves the most recent logs
func (s *LogService) GetRecentLogs(limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetLogsByModule retrieves logs for a specific module
func (s *LogService) GetLogsByModule(module models.LogModule, limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Where("module = ?", string(module)).Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
