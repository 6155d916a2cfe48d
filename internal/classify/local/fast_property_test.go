package local

import (
	"os"
	"testing"

	"github.com/jobtrail/core/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.AutoMigrate(&models.TrainingSample{}); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func TestFastClassifier_ObviousCases(t *testing.T) {
	f := NewFastClassifier(nil)

	isJob, confidence := f.Classify(
		"Thank you for applying to Acme Corp",
		"careers@acme.example.com",
		"We have received your application for the Software Engineer position. Our recruiter will contact you about an interview.",
	)
	if !isJob {
		t.Fatal("application confirmation classified as not job-related")
	}
	if confidence < 0.5 {
		t.Errorf("verdict confidence %.2f below 0.5", confidence)
	}

	isJob, _ = f.Classify(
		"Your order confirmation",
		"shop@store.example.com",
		"Your order has shipped. The receipt and invoice are attached. Payment received.",
	)
	if isJob {
		t.Fatal("shop receipt classified as job-related")
	}
}

func TestProperty_ProbabilityBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	f := NewFastClassifier(nil)

	properties.Property("probability_always_in_unit_interval", prop.ForAll(
		func(subject, body string) bool {
			p := f.Probability(subject, "someone@example.com", body)
			return p >= 0.0 && p <= 1.0
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	// Classify reports the probability of the verdict it returns
	properties.Property("verdict_confidence_at_least_half", prop.ForAll(
		func(subject, body string) bool {
			_, confidence := f.Classify(subject, "someone@example.com", body)
			return confidence >= 0.5 && confidence <= 1.0
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFastClassifier_BulkSenderPenalty(t *testing.T) {
	f := NewFastClassifier(nil)

	subject := "Interview availability"
	body := "The hiring manager would like to schedule a call."

	personal := f.Probability(subject, "jane@acme.example.com", body)
	bulk := f.Probability(subject, "no-reply@acme.example.com", body)
	if bulk >= personal {
		t.Errorf("bulk sender probability %.3f not below personal sender %.3f", bulk, personal)
	}
}

func TestFastClassifier_FeedbackNudgesWeights(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := NewFastClassifier(db)

	subject := "Interview invitation"
	body := "We would like to schedule an interview with our recruiter."
	before := f.Probability(subject, "someone@example.com", body)

	for i := 0; i < 5; i++ {
		err := f.SubmitFeedback(models.TrainingSample{
			Subject:      subject,
			FromAddr:     "someone@example.com",
			BodyExcerpt:  body,
			IsJobRelated: true,
			Origin:       models.OriginFeedback,
		})
		if err != nil {
			t.Fatalf("SubmitFeedback failed: %v", err)
		}
	}

	after := f.Probability(subject, "someone@example.com", body)
	if after <= before {
		t.Errorf("positive feedback did not raise probability: before %.3f, after %.3f", before, after)
	}

	// Samples are persisted for the next retrain
	var count int64
	db.Model(&models.TrainingSample{}).Count(&count)
	if count != 5 {
		t.Errorf("stored samples = %d, want 5", count)
	}
}

func TestFastClassifier_Retrain(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := NewFastClassifier(db)

	// Consistent labels: interview emails are job-related, receipts are not
	for i := 0; i < 10; i++ {
		f.SubmitFeedback(models.TrainingSample{
			Subject:      "Interview invitation",
			BodyExcerpt:  "We would like to schedule an interview.",
			IsJobRelated: true,
			Origin:       models.OriginReview,
		})
		f.SubmitFeedback(models.TrainingSample{
			Subject:      "Your order confirmation",
			BodyExcerpt:  "Your order has shipped, invoice attached.",
			IsJobRelated: false,
			Origin:       models.OriginReview,
		})
	}

	stats, err := f.Retrain()
	if err != nil {
		t.Fatalf("Retrain failed: %v", err)
	}
	if !stats.Trained {
		t.Error("stats not marked trained after retrain")
	}
	if stats.TotalSamples != 20 {
		t.Errorf("TotalSamples = %d, want 20", stats.TotalSamples)
	}
	if stats.PositiveSamples != 10 {
		t.Errorf("PositiveSamples = %d, want 10", stats.PositiveSamples)
	}
	if stats.Accuracy < 0.9 {
		t.Errorf("self-reported accuracy %.2f on a linearly separable set", stats.Accuracy)
	}
	if stats.LastTrainedAt.IsZero() {
		t.Error("LastTrainedAt not set")
	}
}

func TestFastClassifier_StatsFromDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// Samples written by another process are still counted
	db.Create(&models.TrainingSample{Subject: "a", IsJobRelated: true, Origin: models.OriginSeed})
	db.Create(&models.TrainingSample{Subject: "b", IsJobRelated: false, Origin: models.OriginSeed})
	db.Create(&models.TrainingSample{Subject: "c", IsJobRelated: true, Origin: models.OriginSeed})

	f := NewFastClassifier(db)
	stats, err := f.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSamples != 3 {
		t.Errorf("TotalSamples = %d, want 3", stats.TotalSamples)
	}
	if stats.PositiveSamples != 2 {
		t.Errorf("PositiveSamples = %d, want 2", stats.PositiveSamples)
	}
}
