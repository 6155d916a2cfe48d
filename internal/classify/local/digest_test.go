package local

import (
	"testing"
)

func TestIsDigest_JobBoardAlert(t *testing.T) {
	// Job-board blasts look job-related but are bulk mail
	isDigest, reason := IsDigest(
		"5 new jobs matching your profile",
		"alerts@jobboard.example.com",
		"Here are recommended jobs for you this week. Unsubscribe anytime.",
	)
	if !isDigest {
		t.Fatal("job-board alert not detected as digest")
	}
	if reason != "job-board alert" {
		t.Errorf("reason = %q, want %q", reason, "job-board alert")
	}
}

func TestIsDigest_Newsletter(t *testing.T) {
	isDigest, _ := IsDigest(
		"Weekly roundup: top stories in tech",
		"newsletter@news.example.com",
		"Your weekly digest of trending articles. Click here to unsubscribe or manage your preferences.",
	)
	if !isDigest {
		t.Fatal("newsletter not detected as digest")
	}
}

func TestIsDigest_ApplicationEmailPasses(t *testing.T) {
	// A genuine application confirmation must never be filtered
	cases := []struct {
		subject string
		from    string
		body    string
	}{
		{
			"Thank you for applying to Acme Corp",
			"careers@acme.example.com",
			"We have received your application for the Software Engineer position and will be in touch.",
		},
		{
			"Interview invitation - Backend Engineer",
			"jane.doe@acme.example.com",
			"We would like to schedule a phone screen with you next week. Please share your availability.",
		},
		{
			"Your offer letter from Acme",
			"hr@acme.example.com",
			"We are pleased to offer you the position. The attached offer letter has the compensation details.",
		},
	}

	for _, tc := range cases {
		if isDigest, reason := IsDigest(tc.subject, tc.from, tc.body); isDigest {
			t.Errorf("application email %q filtered as digest (%s)", tc.subject, reason)
		}
	}
}

func TestIsDigest_PersonalEmailPasses(t *testing.T) {
	isDigest, _ := IsDigest(
		"Lunch on Friday?",
		"friend@example.com",
		"Hey, are you free for lunch on Friday?",
	)
	if isDigest {
		t.Fatal("plain personal email detected as digest")
	}
}

func TestCalculateDigestScore_Capped(t *testing.T) {
	score := CalculateDigestScore(
		"Job alert digest: new jobs matching your search, special offer webinar",
		"no-reply@alerts.example.com",
		"Recommended jobs for you. Daily job matches. Newsletter. Sale. Promo. Unsubscribe here. Opt out.",
	)
	if score.Total > 1.0 {
		t.Errorf("total score %.2f exceeds 1.0", score.Total)
	}
	if score.JobAlertScore == 0 {
		t.Error("job alert phrasing not scored")
	}
	if score.SenderScore == 0 {
		t.Error("bulk sender address not scored")
	}
	if score.UnsubscribeScore == 0 {
		t.Error("unsubscribe markers not scored")
	}
}

func TestCalculateDigestScore_HTMLBodyNormalized(t *testing.T) {
	// Markers hidden inside HTML markup still count
	score := CalculateDigestScore(
		"Monthly update",
		"updates@example.com",
		`<html><body><p>Our monthly update.</p><a href="#">Unsubscribe</a></body></html>`,
	)
	if score.UnsubscribeScore == 0 {
		t.Error("unsubscribe link inside HTML not detected")
	}
}
