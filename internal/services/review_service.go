package services

import (
	"errors"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrReviewEntryNotFound indicates the review entry was not found
	ErrReviewEntryNotFound = errors.New("review entry not found")
	// ErrReviewEntryExpired indicates the entry's retention horizon has passed
	ErrReviewEntryExpired = errors.New("review entry expired")
	// ErrInvalidJobStatus indicates an unknown job status value
	ErrInvalidJobStatus = errors.New("invalid job status")
)

// ReviewService owns the review queue: the uncertain classifications a
// human confirms or rejects. Every verdict feeds the fast classifier so
// the local model improves over time.
type ReviewService struct {
	db         *gorm.DB
	fast       *local.FastClassifier
	logService *LogService
	retention  time.Duration
	now        func() time.Time
}

// NewReviewService creates a ReviewService. retentionDays bounds how long
// an entry waits for a verdict before expiry (<=0 uses 14 days).
func NewReviewService(db *gorm.DB, fast *local.FastClassifier, retentionDays int) *ReviewService {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &ReviewService{
		db:         db,
		fast:       fast,
		logService: NewLogService(db),
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		now:        time.Now,
	}
}

// Retention returns the queue's retention window
func (s *ReviewService) Retention() time.Duration {
	return s.retention
}

// Enqueue adds a classification to the review queue. A second enqueue for
// the same message refreshes the snapshot instead of duplicating the entry.
func (s *ReviewService) Enqueue(email *RawEmail, result *classify.Result) (*models.ReviewEntry, error) {
	return s.EnqueueIn(s.db, email, result)
}

// EnqueueIn is Enqueue inside a caller-owned transaction, so the entry
// commits or rolls back together with whatever else the caller writes.
func (s *ReviewService) EnqueueIn(tx *gorm.DB, email *RawEmail, result *classify.Result) (*models.ReviewEntry, error) {
	now := s.now()

	excerpt := email.BodyText()
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000]
	}

	entry := &models.ReviewEntry{
		AccountID:    email.AccountID,
		MessageID:    email.MessageID,
		Subject:      email.Subject,
		FromAddr:     email.From,
		BodyExcerpt:  excerpt,
		ReceivedAt:   email.ReceivedAt,
		IsJobRelated: result.IsJobRelated,
		Company:      result.Company,
		Position:     result.Position,
		Status:       string(result.Status),
		Confidence:   result.Confidence,
		Source:       string(result.Source),
		ExpiresAt:    now.Add(s.retention),
	}

	var existing models.ReviewEntry
	err := tx.Where("account_id = ? AND message_id = ?", email.AccountID, email.MessageID).
		First(&existing).Error
	if err == nil {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
		return entry, tx.Save(entry).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return entry, tx.Create(entry).Error
}

// PendingFilter narrows GetPending
type PendingFilter struct {
	AccountID uint
	Source    string
	Page      int
	Limit     int
}

// PendingResult is one page of pending review entries
type PendingResult struct {
	Total   int64
	Entries []models.ReviewEntry
}

// GetPending lists the entries still awaiting a verdict, oldest first.
// Expired entries are excluded; the sweep removes them.
func (s *ReviewService) GetPending(filter PendingFilter) (*PendingResult, error) {
	db := s.db.Model(&models.ReviewEntry{}).Where("expires_at > ?", s.now())

	if filter.AccountID > 0 {
		db = db.Where("account_id = ?", filter.AccountID)
	}
	if filter.Source != "" {
		db = db.Where("source = ?", filter.Source)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	offset := (filter.Page - 1) * filter.Limit

	var entries []models.ReviewEntry
	if err := db.Order("created_at ASC").Offset(offset).Limit(filter.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &PendingResult{Total: total, Entries: entries}, nil
}

// getLiveEntry loads an entry and rejects expired ones
func (s *ReviewService) getLiveEntry(tx *gorm.DB, id uint) (*models.ReviewEntry, error) {
	var entry models.ReviewEntry
	if err := tx.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewEntryNotFound
		}
		return nil, err
	}
	if entry.Expired(s.now()) {
		return nil, ErrReviewEntryExpired
	}
	return &entry, nil
}

// VerdictMetadata optionally overrides extracted fields when a verdict
// confirms job-relatedness
type VerdictMetadata struct {
	Company  string
	Position string
	Status   string
}

// MarkJobRelated confirms an entry as a real application event: a job
// record is created from the snapshot, the entry is destroyed and the
// fast classifier receives a positive sample.
func (s *ReviewService) MarkJobRelated(id uint, metadata VerdictMetadata) (*models.JobRecord, error) {
	if metadata.Status != "" && !models.JobStatus(metadata.Status).IsValid() {
		return nil, ErrInvalidJobStatus
	}

	var record *models.JobRecord
	var snapshot models.ReviewEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry, err := s.getLiveEntry(tx, id)
		if err != nil {
			return err
		}
		snapshot = *entry

		record, err = s.createJobFromEntry(tx, entry, metadata)
		if err != nil {
			return err
		}

		if err := s.appendVerdict(tx, entry, true, record); err != nil {
			return err
		}

		return tx.Delete(entry).Error
	})
	if err != nil {
		s.logService.LogReviewVerdict(id, "job_related", err)
		return nil, err
	}

	s.logService.LogReviewVerdict(id, "job_related", nil)
	s.submitFeedback(&snapshot, true)
	return record, nil
}

// ConfirmNotJob rejects an entry: it is destroyed without creating a job
// record and the fast classifier receives a negative sample.
func (s *ReviewService) ConfirmNotJob(id uint) error {
	var snapshot models.ReviewEntry

	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry, err := s.getLiveEntry(tx, id)
		if err != nil {
			return err
		}
		snapshot = *entry

		if err := s.appendVerdict(tx, entry, false, nil); err != nil {
			return err
		}

		return tx.Delete(entry).Error
	})
	if err != nil {
		s.logService.LogReviewVerdict(id, "not_job", err)
		return err
	}

	s.logService.LogReviewVerdict(id, "not_job", nil)
	s.submitFeedback(&snapshot, false)
	return nil
}

// createJobFromEntry builds the job record for a confirmed entry. An
// existing record for the same message is updated, never duplicated.
func (s *ReviewService) createJobFromEntry(tx *gorm.DB, entry *models.ReviewEntry, metadata VerdictMetadata) (*models.JobRecord, error) {
	company := entry.Company
	if metadata.Company != "" {
		company = metadata.Company
	}
	position := entry.Position
	if metadata.Position != "" {
		position = metadata.Position
	}
	status := entry.Status
	if metadata.Status != "" {
		status = metadata.Status
	}
	if status == "" || !models.JobStatus(status).IsValid() {
		status = string(models.JobStatusApplied)
	}

	var record models.JobRecord
	err := tx.Where("account_id = ? AND message_id = ?", entry.AccountID, entry.MessageID).
		First(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record.AccountID = entry.AccountID
	record.MessageID = entry.MessageID
	record.Company = company
	record.Position = position
	record.Status = models.JobStatus(status)
	record.Confidence = 1.0
	record.Source = string(models.SourceReview)
	if record.AppliedDate.IsZero() {
		record.AppliedDate = entry.ReceivedAt
	}

	if record.ID == 0 {
		if err := tx.Create(&record).Error; err != nil {
			return nil, err
		}
	} else if err := tx.Save(&record).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

// appendVerdict writes the audit row for a human verdict. History is
// append-only: the original machine classification stays untouched.
func (s *ReviewService) appendVerdict(tx *gorm.DB, entry *models.ReviewEntry, isJobRelated bool, record *models.JobRecord) error {
	row := &models.Classification{
		AccountID:    entry.AccountID,
		MessageID:    entry.MessageID,
		IsJobRelated: isJobRelated,
		Confidence:   1.0,
		Source:       models.SourceReview,
		Routed:       "rejected",
	}
	if isJobRelated && record != nil {
		row.Company = record.Company
		row.Position = record.Position
		row.Status = string(record.Status)
		row.Routed = "accepted"
	}
	return tx.Create(row).Error
}

// submitFeedback pushes a verdict into the fast classifier's sample set
func (s *ReviewService) submitFeedback(entry *models.ReviewEntry, isJobRelated bool) {
	if s.fast == nil {
		return
	}

	s.fast.SubmitFeedback(models.TrainingSample{
		Subject:      entry.Subject,
		FromAddr:     entry.FromAddr,
		BodyExcerpt:  entry.BodyExcerpt,
		IsJobRelated: isJobRelated,
		Origin:       models.OriginReview,
	})
}

// BulkOutcome is the per-id result of a bulk operation
type BulkOutcome struct {
	ID      uint   `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ApproveForExtraction confirms many entries with one shared metadata
// payload. Each id gets its own transaction; one failure never loses the
// other verdicts.
func (s *ReviewService) ApproveForExtraction(ids []uint, metadata VerdictMetadata) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(ids))
	for _, id := range ids {
		_, err := s.MarkJobRelated(id, metadata)
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

// RejectAsNotJob rejects many entries, one transaction per id
func (s *ReviewService) RejectAsNotJob(ids []uint) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(ids))
	for _, id := range ids {
		err := s.ConfirmNotJob(id)
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

// MarkNeedsReview keeps entries in the queue and pushes their expiry out by
// a full retention window
func (s *ReviewService) MarkNeedsReview(ids []uint) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(ids))
	for _, id := range ids {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			entry, err := s.getLiveEntry(tx, id)
			if err != nil {
				return err
			}
			entry.ExpiresAt = s.now().Add(s.retention)
			return tx.Save(entry).Error
		})
		outcomes = append(outcomes, toOutcome(id, err))
	}
	return outcomes
}

func toOutcome(id uint, err error) BulkOutcome {
	if err != nil {
		return BulkOutcome{ID: id, Error: err.Error()}
	}
	return BulkOutcome{ID: id, Success: true}
}

// SweepExpired removes entries whose retention horizon has passed and
// returns how many were dropped
func (s *ReviewService) SweepExpired() (int, error) {
	result := s.db.Where("expires_at <= ?", s.now()).Delete(&models.ReviewEntry{})
	if result.Error != nil {
		return 0, result.Error
	}

	removed := int(result.RowsAffected)
	s.logService.LogReviewExpiry(removed)
	return removed, nil
}

// ReviewStats summarizes the queue for the dashboard
type ReviewStats struct {
	Total        int64 `json:"total"`
	Pending      int64 `json:"pending"`
	Reviewed     int64 `json:"reviewed"`
	ExpiringSoon int64 `json:"expiring_soon"`
}

// GetStats reports queue counters. ExpiringSoon counts entries within 48
// hours of their horizon.
func (s *ReviewService) GetStats() (*ReviewStats, error) {
	stats := &ReviewStats{}
	now := s.now()

	if err := s.db.Model(&models.ReviewEntry{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.ReviewEntry{}).Where("expires_at > ?", now).Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.ReviewEntry{}).
		Where("expires_at > ? AND expires_at <= ?", now, now.Add(48*time.Hour)).
		Count(&stats.ExpiringSoon).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Classification{}).
		Where("source = ?", models.SourceReview).
		Count(&stats.Reviewed).Error; err != nil {
		return nil, err
	}

	return stats, nil
}
