package services

import (
	"testing"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestReviewService(t *testing.T) (*ReviewService, *local.FastClassifier) {
	db := setupTestDB(t)
	fast := local.NewFastClassifier(db)
	return NewReviewService(db, fast, 14), fast
}

func enqueueTestEntry(t *testing.T, s *ReviewService, accountID uint, messageID string) *models.ReviewEntry {
	t.Helper()

	email := testRawEmail(accountID, messageID,
		"Re: your application at Acme",
		"recruiter@acme.example.com",
		"Thanks for applying, we are reviewing your application for the Engineer position.")
	result := classify.NewFastResult(true, 0.6)

	entry, err := s.Enqueue(email, result)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return entry
}

func TestReviewService_EnqueueDeduplicates(t *testing.T) {
	s, _ := newTestReviewService(t)

	enqueueTestEntry(t, s, 1, "<msg-1@example.com>")
	enqueueTestEntry(t, s, 1, "<msg-1@example.com>")
	enqueueTestEntry(t, s, 2, "<msg-1@example.com>") // other account, distinct entry

	result, err := s.GetPending(PendingFilter{})
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("pending entries = %d, want 2", result.Total)
	}
}

func TestReviewService_MarkJobRelated(t *testing.T) {
	s, _ := newTestReviewService(t)
	entry := enqueueTestEntry(t, s, 1, "<msg-1@example.com>")

	record, err := s.MarkJobRelated(entry.ID, VerdictMetadata{
		Company:  "Acme Corp",
		Position: "Backend Engineer",
		Status:   "Interviewed",
	})
	if err != nil {
		t.Fatalf("MarkJobRelated failed: %v", err)
	}

	if record.Company != "Acme Corp" || record.Position != "Backend Engineer" {
		t.Errorf("record = %q / %q, metadata overrides not applied", record.Company, record.Position)
	}
	if record.Status != models.JobStatusInterviewed {
		t.Errorf("record status = %q, want Interviewed", record.Status)
	}
	if record.Source != string(models.SourceReview) {
		t.Errorf("record source = %q, want review", record.Source)
	}

	// Entry is destroyed by the verdict
	if _, err := s.MarkJobRelated(entry.ID, VerdictMetadata{}); err != ErrReviewEntryNotFound {
		t.Errorf("second verdict error = %v, want ErrReviewEntryNotFound", err)
	}

	// The verdict is recorded as an audit row and a training sample
	var verdicts int64
	s.db.Model(&models.Classification{}).Where("source = ?", models.SourceReview).Count(&verdicts)
	if verdicts != 1 {
		t.Errorf("review classifications = %d, want 1", verdicts)
	}
	var samples int64
	s.db.Model(&models.TrainingSample{}).Where("origin = ?", models.OriginReview).Count(&samples)
	if samples != 1 {
		t.Errorf("training samples = %d, want 1", samples)
	}
}

func TestReviewService_MarkJobRelated_DefaultStatus(t *testing.T) {
	s, _ := newTestReviewService(t)
	entry := enqueueTestEntry(t, s, 1, "<msg-2@example.com>")

	// No status anywhere: the record defaults to Applied
	record, err := s.MarkJobRelated(entry.ID, VerdictMetadata{Company: "Acme"})
	if err != nil {
		t.Fatalf("MarkJobRelated failed: %v", err)
	}
	if record.Status != models.JobStatusApplied {
		t.Errorf("record status = %q, want Applied", record.Status)
	}
}

func TestReviewService_MarkJobRelated_InvalidStatus(t *testing.T) {
	s, _ := newTestReviewService(t)
	entry := enqueueTestEntry(t, s, 1, "<msg-3@example.com>")

	if _, err := s.MarkJobRelated(entry.ID, VerdictMetadata{Status: "Pending"}); err != ErrInvalidJobStatus {
		t.Errorf("error = %v, want ErrInvalidJobStatus", err)
	}

	// The entry survives the refused verdict
	result, _ := s.GetPending(PendingFilter{})
	if result.Total != 1 {
		t.Errorf("pending entries = %d, want 1", result.Total)
	}
}

func TestReviewService_ConfirmNotJob(t *testing.T) {
	s, _ := newTestReviewService(t)
	entry := enqueueTestEntry(t, s, 1, "<msg-4@example.com>")

	if err := s.ConfirmNotJob(entry.ID); err != nil {
		t.Fatalf("ConfirmNotJob failed: %v", err)
	}

	// No job record, negative training sample, rejected audit row
	var records int64
	s.db.Model(&models.JobRecord{}).Count(&records)
	if records != 0 {
		t.Errorf("job records = %d, want 0", records)
	}
	var negatives int64
	s.db.Model(&models.TrainingSample{}).Where("is_job_related = ?", false).Count(&negatives)
	if negatives != 1 {
		t.Errorf("negative samples = %d, want 1", negatives)
	}
	var rejected int64
	s.db.Model(&models.Classification{}).Where("routed = ?", string(classify.RouteAutoReject)).Count(&rejected)
	if rejected != 1 {
		t.Errorf("rejected audit rows = %d, want 1", rejected)
	}
}

func TestReviewService_ExpiredEntryRefusesVerdict(t *testing.T) {
	s, _ := newTestReviewService(t)
	entry := enqueueTestEntry(t, s, 1, "<msg-5@example.com>")

	// Move the clock past the retention horizon
	s.now = func() time.Time { return time.Now().Add(15 * 24 * time.Hour) }

	if _, err := s.MarkJobRelated(entry.ID, VerdictMetadata{}); err != ErrReviewEntryExpired {
		t.Errorf("error = %v, want ErrReviewEntryExpired", err)
	}
	if err := s.ConfirmNotJob(entry.ID); err != ErrReviewEntryExpired {
		t.Errorf("error = %v, want ErrReviewEntryExpired", err)
	}
}

func TestReviewService_BulkApproveWithOneExpired(t *testing.T) {
	s, _ := newTestReviewService(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	ids := make([]uint, 0, 5)
	for i, messageID := range []string{"<a@x>", "<b@x>", "<c@x>", "<d@x>", "<e@x>"} {
		entry := enqueueTestEntry(t, s, uint(i%2+1), messageID)
		ids = append(ids, entry.ID)
	}

	// Expire exactly one of the five
	s.db.Model(&models.ReviewEntry{}).Where("id = ?", ids[2]).
		Update("expires_at", base.Add(-time.Hour))

	outcomes := s.ApproveForExtraction(ids, VerdictMetadata{Company: "Acme"})
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(outcomes))
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded++
			continue
		}
		if outcome.ID != ids[2] {
			t.Errorf("unexpected failure for id %d: %s", outcome.ID, outcome.Error)
		}
		if outcome.Error != ErrReviewEntryExpired.Error() {
			t.Errorf("failure reason = %q, want expiry", outcome.Error)
		}
	}
	if succeeded != 4 {
		t.Errorf("succeeded = %d, want 4: the expired entry must not block the rest", succeeded)
	}

	// Four job records exist, the expired entry is untouched
	var records int64
	s.db.Model(&models.JobRecord{}).Count(&records)
	if records != 4 {
		t.Errorf("job records = %d, want 4", records)
	}
}

func TestReviewService_MarkNeedsReviewExtendsExpiry(t *testing.T) {
	s, _ := newTestReviewService(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	entry := enqueueTestEntry(t, s, 1, "<msg-6@example.com>")

	// Later, close to expiry, the entry is deferred
	s.now = func() time.Time { return base.Add(13 * 24 * time.Hour) }
	outcomes := s.MarkNeedsReview([]uint{entry.ID})
	if !outcomes[0].Success {
		t.Fatalf("MarkNeedsReview failed: %s", outcomes[0].Error)
	}

	var reloaded models.ReviewEntry
	s.db.First(&reloaded, entry.ID)
	want := base.Add(13 * 24 * time.Hour).Add(s.Retention())
	if !reloaded.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", reloaded.ExpiresAt, want)
	}
}

func TestReviewService_SweepExpired(t *testing.T) {
	s, _ := newTestReviewService(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	enqueueTestEntry(t, s, 1, "<live@x>")
	expired := enqueueTestEntry(t, s, 1, "<expired@x>")
	s.db.Model(&models.ReviewEntry{}).Where("id = ?", expired.ID).
		Update("expires_at", base.Add(-time.Minute))

	removed, err := s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	result, _ := s.GetPending(PendingFilter{})
	if result.Total != 1 {
		t.Errorf("pending = %d, want 1", result.Total)
	}
}

func TestProperty_VerdictAlwaysDestroysEntry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	// Whatever the verdict, a resolved entry leaves the queue exactly once
	properties.Property("verdict_removes_entry_from_queue", prop.ForAll(
		func(approve bool) bool {
			s, _ := newTestReviewService(t)
			entry := enqueueTestEntry(t, s, 1, "<prop@example.com>")

			if approve {
				if _, err := s.MarkJobRelated(entry.ID, VerdictMetadata{}); err != nil {
					return false
				}
			} else {
				if err := s.ConfirmNotJob(entry.ID); err != nil {
					return false
				}
			}

			result, err := s.GetPending(PendingFilter{})
			if err != nil {
				return false
			}
			return result.Total == 0
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
