package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/classify/local"
	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrSyncInProgress indicates another sync run is already active
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNoAccounts indicates no sync-enabled accounts were found
	ErrNoAccounts = errors.New("no sync-enabled accounts")
)

// Sync phases, in order of progression
const (
	PhaseIdle        = "idle"
	PhaseFetching    = "fetching"
	PhaseClassifying = "classifying"
	PhaseSaving      = "saving"
	PhaseComplete    = "complete"
	PhaseError       = "error"
	PhaseCancelled   = "cancelled"
)

// DeepClassifier is the slow, structured extraction tier. The production
// implementation is the AI client; tests substitute their own.
type DeepClassifier interface {
	ExtractJob(subject, from, body, promptOverride string) (*classify.Result, error)
	IsConfigured() bool
}

// SyncOptions controls one sync run
type SyncOptions struct {
	AccountIDs   []uint  // empty means every sync-enabled account
	Window       *Window // nil derives per-account windows
	ClassifyOnly bool    // skip the deep tier, unresolved emails go to review
}

// SyncOrchestrator sequences the whole pipeline: fetch, digest filter,
// two-tier classification, routing and persistence, across every account of
// a run. At most one run is active at a time; a second request is refused,
// never queued.
type SyncOrchestrator struct {
	db             *gorm.DB
	accountService *AccountService
	fetcher        *Fetcher
	fast           *local.FastClassifier
	deep           DeepClassifier
	breaker        *classify.Breaker
	router         *classify.Router
	reviewService  *ReviewService
	events         *EventBus
	logService     *LogService
	workers        int
	prompt         func() string

	runGuard sync.Mutex // held for the whole run; TryLock is the single-flight gate

	mu        sync.Mutex // guards the fields below
	phase     string
	runID     uint
	cancelRun context.CancelFunc
}

// NewSyncOrchestrator wires the pipeline together. workers bounds the
// classification pool; prompt supplies the active extraction prompt and may
// be nil.
func NewSyncOrchestrator(
	db *gorm.DB,
	accountService *AccountService,
	fetcher *Fetcher,
	fast *local.FastClassifier,
	deep DeepClassifier,
	breaker *classify.Breaker,
	router *classify.Router,
	reviewService *ReviewService,
	events *EventBus,
	workers int,
	prompt func() string,
) *SyncOrchestrator {
	if workers <= 0 {
		workers = 4
	}
	return &SyncOrchestrator{
		db:             db,
		accountService: accountService,
		fetcher:        fetcher,
		fast:           fast,
		deep:           deep,
		breaker:        breaker,
		router:         router,
		reviewService:  reviewService,
		events:         events,
		logService:     NewLogService(db),
		workers:        workers,
		prompt:         prompt,
		phase:          PhaseIdle,
	}
}

// SyncStatus is a snapshot of the orchestrator's state
type SyncStatus struct {
	Running bool   `json:"running"`
	Phase   string `json:"phase"`
	RunID   uint   `json:"run_id,omitempty"`
}

// Status returns the current phase and run id
func (o *SyncOrchestrator) Status() SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SyncStatus{
		Running: o.cancelRun != nil,
		Phase:   o.phase,
		RunID:   o.runID,
	}
}

// Cancel requests cooperative cancellation of the active run. Returns false
// when no run is active. The run stops at the next batch boundary; work
// already persisted stays.
func (o *SyncOrchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun == nil {
		return false
	}
	o.cancelRun()
	return true
}

func (o *SyncOrchestrator) setPhase(phase string) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

// RunSync executes one full pipeline pass. Refuses to overlap with another
// run. The returned SyncRun is the finalized audit record.
func (o *SyncOrchestrator) RunSync(ctx context.Context, opts SyncOptions) (*models.SyncRun, error) {
	if !o.runGuard.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.runGuard.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	accounts, err := o.accountService.GetAccountsByIDs(opts.AccountIDs)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	started := time.Now()
	run, err := o.createRun(accounts, opts, started)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.runID = run.ID
	o.cancelRun = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancelRun = nil
		o.mu.Unlock()
	}()

	o.logService.LogSyncStarted(run.ID, len(accounts))
	o.events.PublishActivity("sync_started", fmt.Sprintf("Sync started for %d account(s)", len(accounts)), nil)

	var runErr error
	for i := range accounts {
		account := &accounts[i]

		if err := runCtx.Err(); err != nil {
			runErr = err
			break
		}

		if err := o.syncAccount(runCtx, run, account, opts, started, i, len(accounts)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				runErr = err
				break
			}
			// One broken account never stops the others
			run.AccountErrors++
			o.logService.LogAccountSyncError(run.ID, account.ID, err)
			o.events.PublishActivity("account_error",
				fmt.Sprintf("Account %s failed: %v", account.Email, err),
				map[string]interface{}{"account_id": account.ID})
		}
	}

	o.finalizeRun(run, runErr, started)
	return run, runErr
}

// createRun writes the initial audit record for a run
func (o *SyncOrchestrator) createRun(accounts []models.Account, opts SyncOptions, started time.Time) (*models.SyncRun, error) {
	ids := make([]uint, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	idsJSON, _ := json.Marshal(ids)

	run := &models.SyncRun{
		AccountIDs:   string(idsJSON),
		ClassifyOnly: opts.ClassifyOnly,
		Status:       models.SyncRunRunning,
	}
	if opts.Window != nil {
		run.WindowFrom = opts.Window.Since
		run.WindowTo = opts.Window.Until
	}

	if err := o.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// finalizeRun settles the audit record exactly once and publishes the
// terminal event
func (o *SyncOrchestrator) finalizeRun(run *models.SyncRun, runErr error, started time.Time) {
	run.DurationMs = time.Since(started).Milliseconds()
	run.FinishedAt = time.Now()

	switch {
	case runErr == nil && run.AccountErrors == 0:
		run.Status = models.SyncRunSuccess
	case errors.Is(runErr, context.Canceled):
		run.Status = models.SyncRunCancelled
		o.setPhase(PhaseCancelled)
	case runErr != nil:
		run.Status = models.SyncRunError
		run.Error = runErr.Error()
	default:
		// Account-level failures: the run finished but not cleanly
		run.Status = models.SyncRunError
		run.Error = fmt.Sprintf("%d account(s) failed", run.AccountErrors)
	}

	if err := o.db.Save(run).Error; err != nil {
		o.logService.LogError(models.LogModuleSync, "finalize", "Failed to save sync run", map[string]interface{}{
			"sync_run_id": run.ID,
			"error":       err.Error(),
		})
	}

	o.logService.LogSyncFinished(run.ID, string(run.Status), run.EmailsFetched, run.JobsFound, run.DurationMs, runErr)

	switch run.Status {
	case models.SyncRunSuccess, models.SyncRunCancelled:
		o.events.Publish(EventSyncComplete, map[string]interface{}{
			"emailsFetched":   run.EmailsFetched,
			"emailsSkipped":   run.EmailsSkipped,
			"jobsFound":       run.JobsFound,
			"digestsFiltered": run.DigestsFiltered,
			"needsReview":     run.NeedsReview,
			"syncDuration":    run.DurationMs,
		})
		if run.Status == models.SyncRunSuccess {
			o.setPhase(PhaseComplete)
		}
	default:
		o.events.PublishError(run.Error)
		o.setPhase(PhaseError)
	}
}

// syncAccount runs the pipeline for one account
func (o *SyncOrchestrator) syncAccount(ctx context.Context, run *models.SyncRun, account *models.Account, opts SyncOptions, started time.Time, index, total int) error {
	o.setPhase(PhaseFetching)
	o.events.PublishProgress(index, total, PhaseFetching, "running", account.Email, 0, 0)

	window := o.fetcher.WindowForAccount(account, started)
	if opts.Window != nil {
		window = *opts.Window
	}

	fetched, err := o.fetcher.FetchAccount(ctx, account, window)
	if fetched != nil {
		run.EmailsFetched += fetched.Fetched
		run.EmailsSkipped += fetched.Skipped
	}
	if err != nil {
		return err
	}

	o.setPhase(PhaseClassifying)
	if err := o.classifyEmails(ctx, run, fetched.Emails, opts.ClassifyOnly, index, total); err != nil {
		return err
	}

	// The watermark only advances when the account completed its pass
	if err := o.accountService.AdvanceWatermark(account.ID, started); err != nil {
		return err
	}

	o.events.PublishProgress(index+1, total, PhaseClassifying, "running", account.Email,
		len(fetched.Emails), len(fetched.Emails))
	return nil
}

// classifiedEmail pairs an email with its routing decision
type classifiedEmail struct {
	email  *RawEmail
	result *classify.Result
	route  classify.Route
}

// classifyEmails runs the two-tier classifier over a batch of emails with a
// bounded worker pool, persisting each batch in input order before starting
// the next. Cancellation is honored between batches only, so the batch in
// flight always lands.
func (o *SyncOrchestrator) classifyEmails(ctx context.Context, run *models.SyncRun, emails []RawEmail, classifyOnly bool, accountIndex, accountTotal int) error {
	batchSize := o.workers * 4

	for start := 0; start < len(emails); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}
		batch := emails[start:end]

		outcomes := make([]classifiedEmail, len(batch))

		var wg sync.WaitGroup
		sem := make(chan struct{}, o.workers)
		for i := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes[i] = o.classifyOne(&batch[i], classifyOnly)
			}(i)
		}
		wg.Wait()

		o.setPhase(PhaseSaving)
		for i := range outcomes {
			if err := o.persistOutcome(run, &outcomes[i]); err != nil {
				// The transaction rolled back, so the fetcher presents this
				// email again on the next sync
				o.logService.LogError(models.LogModuleSync, "persist", "Failed to persist classification", map[string]interface{}{
					"account_id": outcomes[i].email.AccountID,
					"message_id": outcomes[i].email.MessageID,
					"error":      err.Error(),
				})
			}
		}
		o.setPhase(PhaseClassifying)

		o.events.PublishProgress(accountIndex, accountTotal, PhaseClassifying, "running",
			fmt.Sprintf("%d/%d emails", end, len(emails)), end, len(emails))
	}

	return nil
}

// classifyOne decides one email: digest filter, fast tier, then the deep
// tier when the fast verdict is ambiguous. A broken or disabled deep tier
// routes to review rather than guessing.
func (o *SyncOrchestrator) classifyOne(email *RawEmail, classifyOnly bool) classifiedEmail {
	began := time.Now()

	if isDigest, reason := local.IsDigest(email.Subject, email.From, email.BodyText()); isDigest {
		result := classify.NewFastResult(false, 1.0)
		o.logService.LogDigestFiltered(email.AccountID, email.MessageID, reason, time.Since(began).Milliseconds())
		return classifiedEmail{email: email, result: result, route: classify.RouteFiltered}
	}

	probability := o.fast.Probability(email.Subject, email.From, email.BodyText())
	fastResult := classify.NewFastResult(probability >= 0.5, fastConfidence(probability))

	if o.router.Unambiguous(probability) {
		route := o.router.Decide(fastResult)
		o.logClassified(email, fastResult, route, began)
		return classifiedEmail{email: email, result: fastResult, route: route}
	}

	// Ambiguous: escalate to the deep tier unless it is unavailable
	if classifyOnly || o.deep == nil || !o.deep.IsConfigured() || !o.breaker.Allow() {
		o.logClassified(email, fastResult, classify.RouteNeedsReview, began)
		return classifiedEmail{email: email, result: fastResult, route: classify.RouteNeedsReview}
	}

	promptOverride := ""
	if o.prompt != nil {
		promptOverride = o.prompt()
	}

	deepResult, err := o.deep.ExtractJob(email.Subject, email.From, email.BodyText(), promptOverride)
	if err != nil {
		o.recordDeepFailure()
		o.logService.LogClassification(email.AccountID, email.MessageID, string(models.SourceDeep),
			string(classify.RouteNeedsReview), fastResult.Confidence, time.Since(began).Milliseconds(), err)
		// The fast snapshot goes to review so a human still sees the email
		return classifiedEmail{email: email, result: fastResult, route: classify.RouteNeedsReview}
	}
	o.recordDeepSuccess()

	route := o.router.Decide(deepResult)
	o.logClassified(email, deepResult, route, began)
	return classifiedEmail{email: email, result: deepResult, route: route}
}

// recordDeepFailure feeds the breaker and logs the transition when this
// failure opened it
func (o *SyncOrchestrator) recordDeepFailure() {
	before := o.breaker.Status()
	o.breaker.RecordFailure()
	after := o.breaker.Status()
	if after.Open && (!before.Open || before.HalfOpen) {
		o.logService.LogBreakerTransition(breakerStateName(before), "open", after.Failures)
	}
}

// recordDeepSuccess feeds the breaker and logs the close when a trial call
// recovered it
func (o *SyncOrchestrator) recordDeepSuccess() {
	before := o.breaker.Status()
	o.breaker.RecordSuccess()
	if before.Open {
		o.logService.LogBreakerTransition(breakerStateName(before), "closed", 0)
	}
}

func breakerStateName(state classify.BreakerState) string {
	switch {
	case state.HalfOpen:
		return "half-open"
	case state.Open:
		return "open"
	default:
		return "closed"
	}
}

func (o *SyncOrchestrator) logClassified(email *RawEmail, result *classify.Result, route classify.Route, began time.Time) {
	o.logService.LogClassification(email.AccountID, email.MessageID, string(result.Source),
		string(route), result.Confidence, time.Since(began).Milliseconds(), nil)
}

// fastConfidence converts a job-relatedness probability into the confidence
// of the implied verdict
func fastConfidence(probability float64) float64 {
	if probability >= 0.5 {
		return probability
	}
	return 1 - probability
}

// persistOutcome writes one email's classification and its routed side
// effects. Everything lands in one transaction per email, so a cancelled
// run keeps exactly the emails already saved.
func (o *SyncOrchestrator) persistOutcome(run *models.SyncRun, outcome *classifiedEmail) error {
	email, result, route := outcome.email, outcome.result, outcome.route

	var jobRecord *models.JobRecord
	err := o.db.Transaction(func(tx *gorm.DB) error {
		row := &models.Classification{
			AccountID:    email.AccountID,
			MessageID:    email.MessageID,
			IsJobRelated: result.IsJobRelated,
			Company:      result.Company,
			Position:     result.Position,
			Status:       string(result.Status),
			Confidence:   result.Confidence,
			Source:       result.Source,
			Routed:       string(route),
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		switch route {
		case classify.RouteAutoAccept:
			var err error
			jobRecord, err = o.upsertJobRecord(tx, email, result)
			return err
		case classify.RouteNeedsReview:
			// Committed with the ledger row or not at all. A ledger row
			// without an entry would hide the email from review forever,
			// since the fetcher skips every ledgered message id.
			_, err := o.reviewService.EnqueueIn(tx, email, result)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch route {
	case classify.RouteFiltered:
		run.DigestsFiltered++
	case classify.RouteAutoAccept:
		run.Classified++
		if jobRecord != nil {
			run.JobsFound++
			o.events.Publish(EventJobFound, map[string]interface{}{"record": jobRecord})
		}
	case classify.RouteAutoReject:
		run.Classified++
		run.AutoRejected++
	case classify.RouteNeedsReview:
		run.Classified++
		run.NeedsReview++
	}

	// Counters survive a cancellation mid-run
	return o.db.Model(&models.SyncRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"emails_fetched":   run.EmailsFetched,
		"emails_skipped":   run.EmailsSkipped,
		"digests_filtered": run.DigestsFiltered,
		"classified":       run.Classified,
		"jobs_found":       run.JobsFound,
		"needs_review":     run.NeedsReview,
		"auto_rejected":    run.AutoRejected,
	}).Error
}

// upsertJobRecord creates the job record for an auto-accepted result, or
// refreshes the existing one for the same message. Returns nil when the
// record already existed unchanged by a prior run.
func (o *SyncOrchestrator) upsertJobRecord(tx *gorm.DB, email *RawEmail, result *classify.Result) (*models.JobRecord, error) {
	var existing models.JobRecord
	err := tx.Where("account_id = ? AND message_id = ?", email.AccountID, email.MessageID).
		First(&existing).Error
	if err == nil {
		// Dedup invariant: never a second record for the same message
		return nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	status := result.Status
	if status == "" {
		status = models.JobStatusApplied
	}

	record := &models.JobRecord{
		AccountID:   email.AccountID,
		MessageID:   email.MessageID,
		Company:     result.Company,
		Position:    result.Position,
		Status:      status,
		AppliedDate: email.ReceivedAt,
		Confidence:  result.Confidence,
		Source:      string(result.Source),
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// GetHistory returns the most recent sync runs, newest first
func (o *SyncOrchestrator) GetHistory(limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.SyncRun
	if err := o.db.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one sync run by id
func (o *SyncOrchestrator) GetRun(id uint) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := o.db.First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
