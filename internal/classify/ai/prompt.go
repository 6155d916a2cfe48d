package ai

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

// ErrPromptTooLarge means a custom template would not leave enough of the
// context window for email content
var ErrPromptTooLarge = errors.New("prompt template exceeds context budget")

// defaultContextSize is the assumed model context window when none is configured
const defaultContextSize = 8192

// templateBudgetFraction caps how much of the context window the instruction
// template itself may take. Beyond it the token status turns to danger.
const (
	templateBudgetFraction = 0.60
	templateWarnFraction   = 0.45
)

const instructionTemplate = `You are a job-application email analyzer. Given one email, decide whether it describes an event in a job application process and extract its details.

Answer with a single JSON object and nothing else. The object must have exactly these keys:
  "is_job_related": true or false
  "company": the employer name as a string, or null if unknown
  "position": the job title as a string, or null if unknown
  "status": one of "Applied", "Interviewed", "Offer", "Declined", or null

Rules:
- "Applied" means the email confirms an application was submitted or received.
- "Interviewed" means it schedules, confirms or follows up on an interview.
- "Offer" means it extends or discusses a concrete job offer.
- "Declined" means the application was rejected or withdrawn.
- Job board alerts, digests and recommendation newsletters are NOT job related.
- When the email is not job related, set company, position and status to null.
- Never invent a company or position that is not in the email.`

// Few-shot worked examples appended after the instructions. Fixed set, the
// prompt override only replaces the instruction block above.
var workedExamples = []struct {
	Email  string
	Answer string
}{
	{
		Email:  `From: no-reply@greenhouse.io\nSubject: Thank you for applying to Acme Corp\n\nBody:\nHi, we received your application for the Senior Backend Engineer role at Acme Corp. Our team will review it shortly.`,
		Answer: `{"is_job_related": true, "company": "Acme Corp", "position": "Senior Backend Engineer", "status": "Applied"}`,
	},
	{
		Email:  `From: recruiting@initech.com\nSubject: Interview availability\n\nBody:\nThanks for your interest in the Data Analyst position at Initech. Could you share your availability next week for a 45 minute technical interview?`,
		Answer: `{"is_job_related": true, "company": "Initech", "position": "Data Analyst", "status": "Interviewed"}`,
	},
	{
		Email:  `From: talent@globex.com\nSubject: Your application to Globex\n\nBody:\nAfter careful consideration we have decided to move forward with other candidates for the Product Manager role. We wish you the best in your search.`,
		Answer: `{"is_job_related": true, "company": "Globex", "position": "Product Manager", "status": "Declined"}`,
	},
	{
		Email:  `From: alerts@linkedin.com\nSubject: 8 new jobs for "software engineer"\n\nBody:\nJobs you may be interested in: Software Engineer at BigCo, Backend Developer at StartupInc... Unsubscribe from these alerts.`,
		Answer: `{"is_job_related": false, "company": null, "position": null, "status": null}`,
	},
	{
		Email:  `From: billing@utilities.example.com\nSubject: Your invoice for August\n\nBody:\nYour monthly invoice of $84.20 is attached. Payment is due on the 15th.`,
		Answer: `{"is_job_related": false, "company": null, "position": null, "status": null}`,
	},
}

// TokenInfo reports how much of the model's context window a prompt uses
type TokenInfo struct {
	PromptTokens    int     `json:"prompt_tokens"`
	ContextSize     int     `json:"context_size"`
	AvailableTokens int     `json:"available_tokens"`
	UsagePercent    float64 `json:"usage_percent"`
	Status          string  `json:"status"` // good, warning, danger
}

// PromptManager owns the extraction prompt: the built-in template, the
// user override persisted in the settings row, and the token budget math.
type PromptManager struct {
	mu          sync.RWMutex
	db          *gorm.DB
	contextSize int
	override    string
}

// NewPromptManager creates a prompt manager backed by the settings row.
// contextSize <= 0 falls back to the default window.
func NewPromptManager(db *gorm.DB, contextSize int) (*PromptManager, error) {
	if contextSize <= 0 {
		contextSize = defaultContextSize
	}
	m := &PromptManager{db: db, contextSize: contextSize}

	if db != nil {
		var settings models.PipelineSettings
		err := db.First(&settings).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to load pipeline settings: %w", err)
		}
		m.override = settings.ExtractionPrompt
	}

	return m, nil
}

// DefaultExtractionPrompt returns the built-in instruction template with the
// worked examples appended
func DefaultExtractionPrompt() string {
	return buildPrompt(instructionTemplate)
}

// buildPrompt assembles instructions plus the fixed few-shot examples
func buildPrompt(instructions string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nExamples:\n")
	for _, ex := range workedExamples {
		b.WriteString("\nEmail:\n")
		b.WriteString(strings.ReplaceAll(ex.Email, `\n`, "\n"))
		b.WriteString("\nAnswer:\n")
		b.WriteString(ex.Answer)
		b.WriteString("\n")
	}
	return b.String()
}

// GetPrompt returns the active system prompt, including examples
func (m *PromptManager) GetPrompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.override == "" {
		return DefaultExtractionPrompt()
	}
	return buildPrompt(m.override)
}

// IsCustomized reports whether a user override is active
func (m *PromptManager) IsCustomized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.override != ""
}

// SetPrompt stores a custom instruction block. Rejects templates whose
// assembled prompt would exceed the context budget.
func (m *PromptManager) SetPrompt(instructions string) error {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return m.ResetPrompt()
	}

	info := m.TokenInfo(buildPrompt(instructions))
	if info.Status == "danger" {
		return fmt.Errorf("%w: template uses %.0f%% of the context window, limit is %.0f%%",
			ErrPromptTooLarge, info.UsagePercent, templateBudgetFraction*100)
	}

	m.mu.Lock()
	m.override = instructions
	m.mu.Unlock()

	return m.persist(instructions)
}

// ResetPrompt restores the built-in template
func (m *PromptManager) ResetPrompt() error {
	m.mu.Lock()
	m.override = ""
	m.mu.Unlock()

	return m.persist("")
}

func (m *PromptManager) persist(prompt string) error {
	if m.db == nil {
		return nil
	}

	var settings models.PipelineSettings
	err := m.db.First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		settings = models.PipelineSettings{ExtractionPrompt: prompt}
		return m.db.Create(&settings).Error
	}
	if err != nil {
		return err
	}

	settings.ExtractionPrompt = prompt
	return m.db.Save(&settings).Error
}

// TokenInfo estimates the token footprint of a prompt against the context
// window. Roughly 4 characters per token, which is close enough for
// budgeting English email text.
func (m *PromptManager) TokenInfo(promptText string) TokenInfo {
	m.mu.RLock()
	contextSize := m.contextSize
	m.mu.RUnlock()

	tokens := EstimateTokens(promptText)
	usage := float64(tokens) / float64(contextSize)

	status := "good"
	switch {
	case usage >= templateBudgetFraction:
		status = "danger"
	case usage >= templateWarnFraction:
		status = "warning"
	}

	available := contextSize - tokens
	if available < 0 {
		available = 0
	}

	return TokenInfo{
		PromptTokens:    tokens,
		ContextSize:     contextSize,
		AvailableTokens: available,
		UsagePercent:    usage * 100,
		Status:          status,
	}
}

// ActiveTokenInfo reports the budget of the currently active prompt
func (m *PromptManager) ActiveTokenInfo() TokenInfo {
	return m.TokenInfo(m.GetPrompt())
}

// EstimateTokens approximates the token count of a text
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
