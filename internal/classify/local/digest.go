package local

import (
	"regexp"
	"strings"
)

// Digest detection keywords categorized by type
var (
	// Bulk-mail subject/body keywords
	bulkKeywords = []string{
		"newsletter", "digest", "weekly roundup", "monthly update",
		"daily briefing", "top stories", "trending", "what's new",
		"product update", "release notes", "community update",
		"special offer", "sale", "discount", "promo", "deal",
		"webinar", "free trial", "limited time",
	}

	// Job-board alert blasts: bulk by nature even though job-adjacent.
	// A real application event is addressed to one person, not an alert list.
	jobAlertKeywords = []string{
		"jobs for you", "job alert", "new jobs matching", "recommended jobs",
		"jobs you may be interested in", "daily job matches",
		"apply to these jobs", "job digest",
	}

	// Unsubscribe indicators (strong bulk signal)
	unsubscribeKeywords = []string{
		"unsubscribe", "opt out", "opt-out", "manage your preferences",
		"email preferences", "stop receiving", "remove me",
	}

	// Sender address patterns that mark automated bulk senders
	bulkSenderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)no-?reply`),
		regexp.MustCompile(`(?i)do-?not-?reply`),
		regexp.MustCompile(`(?i)newsletter@`),
		regexp.MustCompile(`(?i)digest@`),
		regexp.MustCompile(`(?i)marketing@`),
		regexp.MustCompile(`(?i)notifications?@`),
		regexp.MustCompile(`(?i)mailer-daemon`),
		regexp.MustCompile(`(?i)alerts?@`),
	}
)

// DigestScore represents the digest score breakdown
type DigestScore struct {
	Total            float64
	BulkScore        float64
	JobAlertScore    float64
	UnsubscribeScore float64
	SenderScore      float64
}

// IsDigest checks if an email is a bulk/newsletter-style message that
// should never reach the classifiers. Returns the verdict and the matched
// reason for reporting.
func IsDigest(subject, from, body string) (bool, string) {
	score := CalculateDigestScore(subject, from, body)
	if score.Total < 0.5 {
		return false, ""
	}

	switch {
	case score.JobAlertScore > 0:
		return true, "job-board alert"
	case score.SenderScore > 0 && score.UnsubscribeScore > 0:
		return true, "automated bulk sender"
	case score.UnsubscribeScore > 0:
		return true, "newsletter markers"
	default:
		return true, "bulk keywords"
	}
}

// CalculateDigestScore calculates a detailed digest score for the email
func CalculateDigestScore(subject, from, body string) DigestScore {
	score := DigestScore{}

	// Normalize inputs
	subject = strings.ToLower(subject)
	from = strings.ToLower(from)
	body = strings.ToLower(normalizeText(body))
	combined := subject + " " + body

	// Bulk keywords (weight: 0.3)
	bulkCount := countKeywordMatches(combined, bulkKeywords)
	score.BulkScore = minFloat(float64(bulkCount)*0.1, 0.3)

	// Job-board alert phrasing (weight: 0.5) - decisive on its own with any
	// other signal, since these blasts look job-related to the classifiers
	alertCount := countKeywordMatches(combined, jobAlertKeywords)
	if alertCount > 0 {
		score.JobAlertScore = 0.5
	}

	// Unsubscribe markers (weight: 0.3)
	if countKeywordMatches(body, unsubscribeKeywords) > 0 {
		score.UnsubscribeScore = 0.3
	}

	// Bulk sender address (weight: 0.2)
	if countPatternMatches(from, bulkSenderPatterns) > 0 {
		score.SenderScore = 0.2
	}

	score.Total = score.BulkScore + score.JobAlertScore +
		score.UnsubscribeScore + score.SenderScore
	if score.Total > 1.0 {
		score.Total = 1.0
	}

	return score
}

// countKeywordMatches counts how many keywords are found in the text
func countKeywordMatches(text string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			count++
		}
	}
	return count
}

// countPatternMatches counts how many patterns match in the text
func countPatternMatches(text string, patterns []*regexp.Regexp) int {
	count := 0
	for _, pattern := range patterns {
		if pattern.MatchString(text) {
			count++
		}
	}
	return count
}

// normalizeText strips HTML tags and collapses whitespace
func normalizeText(content string) string {
	content = htmlTagPattern.ReplaceAllString(content, " ")
	content = whitespacePattern.ReplaceAllString(content, " ")
	content = strings.ReplaceAll(content, "&nbsp;", " ")
	content = strings.ReplaceAll(content, "&amp;", "&")
	return strings.TrimSpace(content)
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// minFloat returns the minimum of two float64 values
func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
