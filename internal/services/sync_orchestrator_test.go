package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

// fakeMailSource serves a fixed mailbox per account id
type fakeMailSource struct {
	mailboxes map[uint][]fakeMessage
	openErr   error
}

type fakeMessage struct {
	meta MessageMeta
	body string
}

func (s *fakeMailSource) Open(account *models.Account, credential string) (MailSession, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeMailSession{messages: s.mailboxes[account.ID]}, nil
}

type fakeMailSession struct {
	messages []fakeMessage
}

func (s *fakeMailSession) Search(window Window) ([]MessageMeta, error) {
	var metas []MessageMeta
	for _, m := range s.messages {
		if window.Contains(m.meta.Date) {
			metas = append(metas, m.meta)
		}
	}
	return metas, nil
}

func (s *fakeMailSession) FetchBodies(uids []uint32) (map[uint32][]byte, error) {
	bodies := make(map[uint32][]byte)
	for _, m := range s.messages {
		for _, uid := range uids {
			if m.meta.UID == uid {
				raw := fmt.Sprintf("Subject: %s\r\n\r\n%s", m.meta.Subject, m.body)
				bodies[uid] = []byte(raw)
			}
		}
	}
	return bodies, nil
}

func (s *fakeMailSession) Close() error { return nil }

// fakeDeepClassifier answers by subject lookup
type fakeDeepClassifier struct {
	configured bool
	calls      int32
	answers    map[string]*classify.Result
	err        error
	onCall     func() // runs before every call
}

func (d *fakeDeepClassifier) IsConfigured() bool { return d.configured }

func (d *fakeDeepClassifier) ExtractJob(subject, from, body, promptOverride string) (*classify.Result, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.onCall != nil {
		d.onCall()
	}
	if d.err != nil {
		return nil, d.err
	}
	if res, ok := d.answers[subject]; ok {
		copied := *res
		copied.Source = models.SourceDeep
		copied.ProducedAt = time.Now()
		return &copied, nil
	}
	return classify.NewFastResult(false, 0.92), nil
}

// testMailbox builds the standard 10-message box used by the pipeline tests:
// 3 digests, 2 decisively job-related, 2 decisively not, 3 ambiguous ones
// that need the deep tier.
func testMailbox(prefix string, received time.Time) []fakeMessage {
	mk := func(uid uint32, subject, from, body string) fakeMessage {
		return fakeMessage{
			meta: MessageMeta{
				UID:       uid,
				MessageID: fmt.Sprintf("<%s-%d@example.com>", prefix, uid),
				Subject:   subject,
				From:      from,
				Date:      received,
			},
			body: body,
		}
	}

	return []fakeMessage{
		// Ambiguous: the fast tier cannot decide these
		mk(1, "Regarding your submission", "jane@acme.example.com",
			"We reviewed your resume for the role and will come back to you."),
		mk(2, "Following up", "sam@initech.example.com",
			"You are a strong candidate for the open position at our office."),
		mk(3, "Next steps", "pat@globex.example.com",
			"Could we schedule a call next week? Please send your availability."),

		// Decisively job-related
		mk(4, "Your offer letter", "hr@acme.example.com",
			"We are pleased to offer you the position. The job offer and offer letter are attached."),
		mk(5, "Offer details inside", "hr@initech.example.com",
			"Congratulations! We are pleased to offer you the role. Your offer letter and job offer details follow."),

		// Decisively not job-related
		mk(6, "Your order confirmation", "shop@store.example.com",
			"Your order has shipped. The receipt and invoice are attached, payment complete."),
		mk(7, "Receipt for your purchase", "billing@store.example.com",
			"Order confirmation: your order shipped today. Invoice and receipt enclosed, payment received."),

		// Digests
		mk(8, "8 new jobs matching your search", "alerts@jobboard.example.com",
			"Recommended jobs for you. Apply to these jobs today. Unsubscribe from job alert emails."),
		mk(9, "Weekly newsletter: top stories", "newsletter@news.example.com",
			"Your weekly digest of trending stories. Unsubscribe or manage your preferences."),
		mk(10, "Special offer just for you", "marketing@shop.example.com",
			"Limited time discount! Huge sale this weekend only. Opt out of these promos here."),
	}
}

// deepAnswers resolves the three ambiguous subjects: one full extraction,
// one uncertain positive, one confident negative.
func deepAnswers() map[string]*classify.Result {
	return map[string]*classify.Result{
		"Regarding your submission": {
			IsJobRelated: true,
			Company:      "Acme Corp",
			Position:     "Engineer",
			Status:       models.JobStatusApplied,
			Confidence:   0.95,
		},
		"Following up": {
			IsJobRelated: true,
			Confidence:   0.6,
		},
		"Next steps": {
			IsJobRelated: false,
			Confidence:   0.92,
		},
	}
}

type pipelineFixture struct {
	db           *gorm.DB
	orchestrator *SyncOrchestrator
	accounts     []*models.Account
	deep         *fakeDeepClassifier
	breaker      *classify.Breaker
	events       *EventBus
	accountSvc   *AccountService
}

func newPipelineFixture(t *testing.T, source MailSource, deep *fakeDeepClassifier, accountCount int) *pipelineFixture {
	t.Helper()

	db := setupTestDB(t)
	accountSvc := NewAccountService(db, testEncryptionKey)
	fast := local.NewFastClassifier(db)
	breaker := classify.NewBreaker(3, time.Minute)
	router := classify.NewRouter(0.9, 0.7, 0.3)
	events := NewEventBus()
	fetcher := NewFetcher(db, accountSvc, source, 25, 0)
	review := NewReviewService(db, fast, 14)

	orchestrator := NewSyncOrchestrator(db, accountSvc, fetcher, fast, deep, breaker, router, review, events, 2, nil)

	accounts := make([]*models.Account, 0, accountCount)
	for i := 0; i < accountCount; i++ {
		accounts = append(accounts, createTestAccount(t, accountSvc, fmt.Sprintf("user%d@example.com", i+1)))
	}

	return &pipelineFixture{
		db:           db,
		orchestrator: orchestrator,
		accounts:     accounts,
		deep:         deep,
		breaker:      breaker,
		events:       events,
		accountSvc:   accountSvc,
	}
}

func TestRunSync_TwoAccountPipeline(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 2)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{
			fx.accounts[0].ID: testMailbox("a", received),
			fx.accounts[1].ID: testMailbox("b", received),
		},
	}, 25, 0)

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	if run.Status != models.SyncRunSuccess {
		t.Errorf("status = %s, want success", run.Status)
	}
	if run.EmailsFetched != 20 {
		t.Errorf("EmailsFetched = %d, want 20", run.EmailsFetched)
	}
	if run.DigestsFiltered != 6 {
		t.Errorf("DigestsFiltered = %d, want 6", run.DigestsFiltered)
	}
	if run.Classified != 14 {
		t.Errorf("Classified = %d, want 14", run.Classified)
	}
	// Per account: 2 fast accepts + 1 deep accept, 2 fast rejects + 1 deep
	// reject, 1 uncertain deep verdict for review
	if run.JobsFound != 6 {
		t.Errorf("JobsFound = %d, want 6", run.JobsFound)
	}
	if run.AutoRejected != 6 {
		t.Errorf("AutoRejected = %d, want 6", run.AutoRejected)
	}
	if run.NeedsReview != 2 {
		t.Errorf("NeedsReview = %d, want 2", run.NeedsReview)
	}

	// Each account escalated its three ambiguous emails exactly once
	if deep.calls != 6 {
		t.Errorf("deep tier calls = %d, want 6", deep.calls)
	}

	var records int64
	fx.db.Model(&models.JobRecord{}).Count(&records)
	if records != 6 {
		t.Errorf("job records = %d, want 6", records)
	}

	// Watermarks advanced for both accounts
	for _, account := range fx.accounts {
		reloaded, _ := fx.accountSvc.GetAccountByID(account.ID)
		if reloaded.LastSyncedAt.IsZero() {
			t.Errorf("watermark not advanced for %s", account.Email)
		}
	}
}

func TestRunSync_SecondPassIsIdempotent(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, &fakeMailSource{}, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	first, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("first RunSync failed: %v", err)
	}
	if first.EmailsFetched != 10 {
		t.Fatalf("first pass EmailsFetched = %d, want 10", first.EmailsFetched)
	}

	// Same mailbox again: everything is already in the ledger, including the
	// filtered digests, so nothing is fetched or classified twice
	second, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{
		Window: &Window{Since: received.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("second RunSync failed: %v", err)
	}
	if second.EmailsFetched != 0 {
		t.Errorf("second pass EmailsFetched = %d, want 0", second.EmailsFetched)
	}
	if second.EmailsSkipped != 10 {
		t.Errorf("second pass EmailsSkipped = %d, want 10", second.EmailsSkipped)
	}
	if second.JobsFound != 0 || second.Classified != 0 || second.DigestsFiltered != 0 {
		t.Errorf("second pass reclassified: %+v", second)
	}

	var records int64
	fx.db.Model(&models.JobRecord{}).Count(&records)
	if records != 3 {
		t.Errorf("job records after two passes = %d, want 3", records)
	}
}

func TestRunSync_FailedReviewPersistLeavesEmailRetryable(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, &fakeMailSource{}, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	// Break review persistence for the first pass
	if err := fx.db.Migrator().DropTable(&models.ReviewEntry{}); err != nil {
		t.Fatalf("DropTable failed: %v", err)
	}

	first, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("first RunSync failed: %v", err)
	}

	// The failed email is logged and skipped; the rest of the account
	// still lands and the run finishes clean
	if first.Status != models.SyncRunSuccess {
		t.Errorf("status = %s, a per-email persist failure should not fail the run", first.Status)
	}
	if first.NeedsReview != 0 {
		t.Errorf("NeedsReview = %d, want 0 while review persistence is broken", first.NeedsReview)
	}
	if first.Classified != 6 {
		t.Errorf("Classified = %d, want the 6 emails that persisted", first.Classified)
	}

	// Nothing half-written: no ledger row marks the email processed
	var orphaned int64
	fx.db.Model(&models.Classification{}).Where("routed = ?", string(classify.RouteNeedsReview)).Count(&orphaned)
	if orphaned != 0 {
		t.Fatalf("found %d review-routed ledger rows without a review entry", orphaned)
	}

	if err := fx.db.AutoMigrate(&models.ReviewEntry{}); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}

	// The next pass re-fetches exactly the rolled-back email and queues it
	second, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{
		Window: &Window{Since: received.Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("second RunSync failed: %v", err)
	}
	if second.EmailsFetched != 1 {
		t.Errorf("second pass EmailsFetched = %d, want only the unpersisted email", second.EmailsFetched)
	}
	if second.NeedsReview != 1 {
		t.Errorf("second pass NeedsReview = %d, want 1", second.NeedsReview)
	}

	var entries int64
	fx.db.Model(&models.ReviewEntry{}).Count(&entries)
	if entries != 1 {
		t.Errorf("review entries after retry = %d, want 1", entries)
	}
}

func TestRunSync_SingleFlight(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}
	deep.onCall = func() {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	done := make(chan error, 1)
	go func() {
		_, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the deep tier")
	}

	// While the first run is blocked, a second one is refused, never queued
	if _, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{}); err != ErrSyncInProgress {
		t.Errorf("overlapping RunSync error = %v, want ErrSyncInProgress", err)
	}
	if !fx.orchestrator.Status().Running {
		t.Error("Status does not report a running sync")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunSync failed: %v", err)
	}
	if fx.orchestrator.Status().Running {
		t.Error("Status still reports running after completion")
	}
}

func TestRunSync_CancellationStopsAtBatchBoundary(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}
	deep.onCall = func() { cancel() }

	fx := newPipelineFixture(t, nil, deep, 2)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{
			fx.accounts[0].ID: testMailbox("a", received),
			fx.accounts[1].ID: testMailbox("b", received),
		},
	}, 25, 0)

	run, err := fx.orchestrator.RunSync(ctx, SyncOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunSync error = %v, want context.Canceled", err)
	}
	if run.Status != models.SyncRunCancelled {
		t.Errorf("status = %s, want cancelled", run.Status)
	}

	// The batch in flight landed; the second account was never touched
	var firstAccountRows, secondAccountRows int64
	fx.db.Model(&models.Classification{}).Where("account_id = ?", fx.accounts[0].ID).Count(&firstAccountRows)
	fx.db.Model(&models.Classification{}).Where("account_id = ?", fx.accounts[1].ID).Count(&secondAccountRows)
	if firstAccountRows == 0 {
		t.Error("cancellation discarded the batch in flight")
	}
	if firstAccountRows >= 10 {
		t.Errorf("first account fully classified (%d rows) despite cancellation", firstAccountRows)
	}
	if secondAccountRows != 0 {
		t.Errorf("second account classified %d emails after cancellation", secondAccountRows)
	}

	// A cancelled account keeps its watermark so the next run re-covers it
	reloaded, _ := fx.accountSvc.GetAccountByID(fx.accounts[0].ID)
	if !reloaded.LastSyncedAt.IsZero() {
		t.Error("watermark advanced for a cancelled account")
	}
}

func TestRunSync_BrokenAccountIsIsolated(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 2)

	// First account's mailbox is unreachable, second is fine
	source := &brokenFirstSource{
		failFor: fx.accounts[0].ID,
		inner: &fakeMailSource{
			mailboxes: map[uint][]fakeMessage{fx.accounts[1].ID: testMailbox("b", received)},
		},
	}
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, source, 25, 0)

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync returned a run-level error for an account failure: %v", err)
	}

	if run.AccountErrors != 1 {
		t.Errorf("AccountErrors = %d, want 1", run.AccountErrors)
	}
	if run.Status != models.SyncRunError {
		t.Errorf("status = %s, want error for a partially failed run", run.Status)
	}
	if run.EmailsFetched != 10 {
		t.Errorf("EmailsFetched = %d, the healthy account should still sync", run.EmailsFetched)
	}
}

type brokenFirstSource struct {
	failFor uint
	inner   *fakeMailSource
}

func (s *brokenFirstSource) Open(account *models.Account, credential string) (MailSession, error) {
	if account.ID == s.failFor {
		return nil, errors.New("connection refused")
	}
	return s.inner.Open(account, credential)
}

func TestRunSync_BreakerOpenRoutesToReview(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	// Trip the breaker before the run
	fx.breaker.RecordFailure()
	fx.breaker.RecordFailure()
	fx.breaker.RecordFailure()

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	// The three ambiguous emails fall back to review with their fast
	// snapshot instead of touching the deep tier
	if deep.calls != 0 {
		t.Errorf("deep tier called %d times through an open breaker", deep.calls)
	}
	if run.NeedsReview != 3 {
		t.Errorf("NeedsReview = %d, want 3", run.NeedsReview)
	}
	if run.JobsFound != 2 {
		t.Errorf("JobsFound = %d, want 2 from the fast tier alone", run.JobsFound)
	}
}

func TestRunSync_DeepFailureFeedsBreaker(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, err: errors.New("upstream timeout")}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	// Three consecutive failures trip the breaker; every failed escalation
	// still reaches a human
	if !fx.breaker.Status().Open {
		t.Error("breaker still closed after consecutive deep failures")
	}
	if run.NeedsReview != 3 {
		t.Errorf("NeedsReview = %d, want 3", run.NeedsReview)
	}
	if run.Status != models.SyncRunSuccess {
		t.Errorf("status = %s, deep tier failures should not fail the run", run.Status)
	}

	// Opening the breaker leaves an audit trail
	var transitions int64
	fx.db.Model(&models.Log{}).Where("action = ?", "breaker_transition").Count(&transitions)
	if transitions == 0 {
		t.Error("no breaker transition logged when the breaker opened")
	}
}

func TestRunSync_ClassifyOnlySkipsDeepTier(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{ClassifyOnly: true})
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	if deep.calls != 0 {
		t.Errorf("deep tier called %d times in classify-only mode", deep.calls)
	}
	if run.NeedsReview != 3 {
		t.Errorf("NeedsReview = %d, want the ambiguous emails queued", run.NeedsReview)
	}
}

func TestRunSync_NoAccounts(t *testing.T) {
	deep := &fakeDeepClassifier{}
	fx := newPipelineFixture(t, &fakeMailSource{}, deep, 1)
	fx.accountSvc.SetSyncEnabled(fx.accounts[0].ID, false)

	if _, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{}); err != ErrNoAccounts {
		t.Errorf("error = %v, want ErrNoAccounts", err)
	}
}

func TestRunSync_PublishesTerminalEvent(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)

	id, ch := fx.events.Subscribe()
	defer fx.events.Unsubscribe(id)

	if _, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-ch:
			if event.Type != EventSyncComplete {
				continue
			}
			if event.Payload["emailsFetched"] != 10 {
				t.Errorf("completion payload = %v", event.Payload)
			}
			return
		case <-deadline:
			t.Fatal("no sync-complete event published")
		}
	}
}

func TestRunSync_DigestFilterLogsMatchedRule(t *testing.T) {
	received := time.Now().Add(-24 * time.Hour)
	deep := &fakeDeepClassifier{configured: true, answers: deepAnswers()}

	fx := newPipelineFixture(t, nil, deep, 1)
	fx.orchestrator.fetcher = NewFetcher(fx.db, fx.accountSvc, &fakeMailSource{
		mailboxes: map[uint][]fakeMessage{fx.accounts[0].ID: testMailbox("a", received)},
	}, 25, 0)
	fx.orchestrator.logService.SetLogLevel("DEBUG")

	run, err := fx.orchestrator.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}
	if run.DigestsFiltered != 3 {
		t.Fatalf("DigestsFiltered = %d, want 3", run.DigestsFiltered)
	}

	var rows []models.Log
	fx.db.Where("action = ?", "digest_filtered").Find(&rows)
	if len(rows) != 3 {
		t.Fatalf("digest log rows = %d, want one per filtered email", len(rows))
	}
	for _, row := range rows {
		if !strings.Contains(row.Details, `"reason"`) {
			t.Errorf("digest log details missing the matched rule: %s", row.Details)
		}
	}
}
