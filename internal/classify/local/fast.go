package local

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

// signal is one weighted keyword feature of the fast classifier
type signal struct {
	Keyword string
	Weight  float64
}

// Base feature weights. Positive weights push toward job-related, negative
// away from it. Feedback adjusts these per keyword, it does not replace them.
var baseSignals = []signal{
	// Application lifecycle phrases
	{"your application", 1.2},
	{"thank you for applying", 1.4},
	{"application received", 1.4},
	{"application has been received", 1.4},
	{"we have received your application", 1.4},
	{"application status", 1.0},
	{"application update", 1.0},

	// Interview signals
	{"interview", 1.1},
	{"phone screen", 1.2},
	{"schedule a call", 0.6},
	{"availability", 0.4},
	{"hiring manager", 0.9},
	{"recruiter", 0.8},
	{"recruiting", 0.6},
	{"talent acquisition", 0.9},

	// Offer / decision signals
	{"offer letter", 1.5},
	{"pleased to offer", 1.5},
	{"job offer", 1.4},
	{"compensation", 0.6},
	{"unfortunately", 0.5},
	{"we will not be moving forward", 1.3},
	{"not to move forward", 1.2},
	{"other candidates", 1.0},
	{"position has been filled", 1.2},

	// Generic job vocabulary (weak on its own)
	{"position", 0.3},
	{"candidate", 0.5},
	{"resume", 0.5},
	{"cv", 0.3},
	{"role", 0.2},

	// Counter-signals
	{"invoice", -0.8},
	{"receipt", -0.8},
	{"order confirmation", -1.0},
	{"your order", -0.9},
	{"password", -0.7},
	{"verification code", -1.0},
	{"shipped", -0.8},
	{"payment", -0.5},
	{"meeting notes", -0.4},
}

// scoreBias centers the logistic so that an email with no signals at all
// lands well below 0.5.
const scoreBias = -1.2

// FastStats describes the classifier's training state
type FastStats struct {
	Trained         bool      `json:"trained"`
	TotalSamples    int       `json:"total_samples"`
	PositiveSamples int       `json:"positive_samples"`
	Accuracy        float64   `json:"accuracy"`
	LastTrainedAt   time.Time `json:"last_trained_at"`
}

// FastClassifier is the local low-latency relevance model. It scores
// weighted keyword features and squashes the sum into a probability; no
// network dependency, returns in well under the latency budget.
//
// Human verdicts flow back in as TrainingSamples; Retrain recomputes the
// per-keyword adjustments from the full sample set.
type FastClassifier struct {
	mu          sync.RWMutex
	db          *gorm.DB // nil: base weights only, no feedback persistence
	adjustments map[string]float64
	stats       FastStats
}

// NewFastClassifier creates a fast classifier backed by the given database
// for feedback samples. Pass nil for a pure base-weight classifier.
func NewFastClassifier(db *gorm.DB) *FastClassifier {
	return &FastClassifier{
		db:          db,
		adjustments: make(map[string]float64),
	}
}

// Classify scores an email and returns the job-related verdict with its
// confidence. Confidence is the probability of the returned verdict, so it
// is always >= 0.5.
func (f *FastClassifier) Classify(subject, from, body string) (bool, float64) {
	p := f.Probability(subject, from, body)
	if p >= 0.5 {
		return true, p
	}
	return false, 1 - p
}

// Probability returns the raw job-relatedness probability in [0,1]
func (f *FastClassifier) Probability(subject, from, body string) float64 {
	text := strings.ToLower(subject + " " + normalizeText(body))
	fromLower := strings.ToLower(from)

	f.mu.RLock()
	score := scoreBias
	for _, s := range baseSignals {
		if strings.Contains(text, s.Keyword) {
			score += s.Weight + f.adjustments[s.Keyword]
		}
	}
	f.mu.RUnlock()

	// Automated bulk senders rarely carry genuine application events
	if countPatternMatches(fromLower, bulkSenderPatterns) > 0 {
		score -= 0.4
	}

	return logistic(score)
}

// SubmitFeedback persists one labeled sample and nudges the weights of the
// keywords present in it. Corrections from the review queue arrive here.
func (f *FastClassifier) SubmitFeedback(sample models.TrainingSample) error {
	if f.db != nil {
		if err := f.db.Create(&sample).Error; err != nil {
			return err
		}
	}

	const nudge = 0.05
	delta := nudge
	if !sample.IsJobRelated {
		delta = -nudge
	}

	text := strings.ToLower(sample.Subject + " " + sample.BodyExcerpt)

	f.mu.Lock()
	for _, s := range baseSignals {
		if strings.Contains(text, s.Keyword) {
			f.adjustments[s.Keyword] = clamp(f.adjustments[s.Keyword]+delta, -1.0, 1.0)
		}
	}
	f.stats.TotalSamples++
	if sample.IsJobRelated {
		f.stats.PositiveSamples++
	}
	f.mu.Unlock()

	return nil
}

// Retrain rebuilds the keyword adjustments from the full sample set and
// recomputes the self-reported accuracy over it.
func (f *FastClassifier) Retrain() (FastStats, error) {
	var samples []models.TrainingSample
	if f.db != nil {
		if err := f.db.Find(&samples).Error; err != nil {
			return FastStats{}, err
		}
	}

	adjustments := make(map[string]float64)
	positives := 0
	for _, s := range samples {
		if s.IsJobRelated {
			positives++
		}
	}

	// Per-keyword log-odds of the label among samples containing it
	for _, sig := range baseSignals {
		var pos, neg int
		for _, s := range samples {
			text := strings.ToLower(s.Subject + " " + s.BodyExcerpt)
			if !strings.Contains(text, sig.Keyword) {
				continue
			}
			if s.IsJobRelated {
				pos++
			} else {
				neg++
			}
		}
		if pos+neg == 0 {
			continue
		}
		// Laplace smoothing keeps rare keywords from swinging hard
		odds := math.Log(float64(pos+1) / float64(neg+1))
		adjustments[sig.Keyword] = clamp(odds*0.25, -1.0, 1.0)
	}

	f.mu.Lock()
	f.adjustments = adjustments
	f.stats = FastStats{
		Trained:         len(samples) > 0,
		TotalSamples:    len(samples),
		PositiveSamples: positives,
		LastTrainedAt:   time.Now(),
	}
	f.mu.Unlock()

	// Accuracy over the training set, measured with the new weights
	if len(samples) > 0 {
		correct := 0
		for _, s := range samples {
			got, _ := f.Classify(s.Subject, s.FromAddr, s.BodyExcerpt)
			if got == s.IsJobRelated {
				correct++
			}
		}
		f.mu.Lock()
		f.stats.Accuracy = float64(correct) / float64(len(samples))
		f.mu.Unlock()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats, nil
}

// Stats returns the current training state. When backed by a database the
// sample counters reflect the stored sample set.
func (f *FastClassifier) Stats() (FastStats, error) {
	if f.db != nil {
		var total, positives int64
		if err := f.db.Model(&models.TrainingSample{}).Count(&total).Error; err != nil {
			return FastStats{}, err
		}
		if err := f.db.Model(&models.TrainingSample{}).Where("is_job_related = ?", true).Count(&positives).Error; err != nil {
			return FastStats{}, err
		}
		f.mu.Lock()
		f.stats.TotalSamples = int(total)
		f.stats.PositiveSamples = int(positives)
		f.mu.Unlock()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats, nil
}

// logistic squashes a score into (0,1)
func logistic(score float64) float64 {
	return 1.0 / (1.0 + math.Exp(-score))
}

// clamp bounds v to [lo, hi]
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
