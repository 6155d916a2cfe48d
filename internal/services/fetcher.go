package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/jobtrail/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrIMAPConnectionFailed indicates IMAP connection failed
	ErrIMAPConnectionFailed = errors.New("IMAP connection failed")
	// ErrAccountSyncDisabled indicates the account does not participate in syncs
	ErrAccountSyncDisabled = errors.New("account sync is disabled")
	// ErrFetchFailed indicates the mailbox fetch failed
	ErrFetchFailed = errors.New("email fetch failed")
)

// RawEmail is one message pulled from a mailbox, normalized for
// classification. Never persisted as-is; only derived records survive a sync.
type RawEmail struct {
	AccountID  uint
	UID        uint32
	MessageID  string
	Subject    string
	From       string
	To         []string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
}

// BodyText returns the preferred text content for classification
func (e *RawEmail) BodyText() string {
	if e.Body != "" {
		return e.Body
	}
	return e.HTMLBody
}

// Window bounds a fetch pass in time. Zero values mean unbounded.
type Window struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && t.After(w.Until) {
		return false
	}
	return true
}

// MessageMeta is envelope-level metadata, fetched before any body so
// already-seen messages cost one envelope and no body transfer.
type MessageMeta struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
	To        []string
	Date      time.Time
}

// MailSession is one open connection to a mailbox
type MailSession interface {
	// Search returns envelope metadata for messages inside the window,
	// oldest first
	Search(window Window) ([]MessageMeta, error)
	// FetchBodies returns raw message content keyed by UID
	FetchBodies(uids []uint32) (map[uint32][]byte, error)
	Close() error
}

// MailSource opens sessions against a mail server. The IMAP implementation
// is the production one; tests substitute their own.
type MailSource interface {
	Open(account *models.Account, credential string) (MailSession, error)
}

// FetchResult summarizes one account's fetch pass
type FetchResult struct {
	Emails  []RawEmail
	Fetched int // new messages returned for classification
	Skipped int // messages already classified in an earlier pass
}

// Fetcher pulls messages from mail accounts in pages, skipping everything a
// previous sync already classified. Re-running the same window is free of
// duplicates: the classifications ledger is consulted before any body fetch.
type Fetcher struct {
	db             *gorm.DB
	accountService *AccountService
	logService     *LogService
	source         MailSource
	batchSize      int
	maxEmails      int
}

// NewFetcher creates a Fetcher. batchSize bounds one fetch page, maxEmails
// bounds a whole pass (0 means unlimited).
func NewFetcher(db *gorm.DB, accountService *AccountService, source MailSource, batchSize, maxEmails int) *Fetcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Fetcher{
		db:             db,
		accountService: accountService,
		logService:     NewLogService(db),
		source:         source,
		batchSize:      batchSize,
		maxEmails:      maxEmails,
	}
}

// WindowForAccount derives the fetch window for an account. A synced
// account resumes one day before its watermark to absorb clock skew; a
// fresh one looks back SyncDays (-1 means everything).
func (f *Fetcher) WindowForAccount(account *models.Account, now time.Time) Window {
	if !account.LastSyncedAt.IsZero() {
		return Window{Since: account.LastSyncedAt.AddDate(0, 0, -1)}
	}
	if account.SyncDays == -1 {
		return Window{}
	}
	days := account.SyncDays
	if days <= 0 {
		days = 30
	}
	return Window{Since: now.AddDate(0, 0, -days)}
}

// FetchAccount pulls the account's new messages inside the window. The
// context is honored between pages, never inside one.
func (f *Fetcher) FetchAccount(ctx context.Context, account *models.Account, window Window) (*FetchResult, error) {
	if !account.SyncEnabled {
		return nil, ErrAccountSyncDisabled
	}

	credential, err := f.accountService.GetDecryptedCredential(account)
	if err != nil {
		return nil, err
	}

	session, err := f.source.Open(account, credential)
	if err != nil {
		f.logService.LogFetch(account.ID, 0, 0, err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer session.Close()

	metas, err := session.Search(window)
	if err != nil {
		f.logService.LogFetch(account.ID, 0, 0, err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	// Server-side search is day-granular at best; enforce the window here
	inWindow := metas[:0]
	for _, m := range metas {
		if window.Contains(m.Date) {
			inWindow = append(inWindow, m)
		}
	}
	metas = inWindow

	if len(metas) == 0 {
		return &FetchResult{}, nil
	}

	// Skip everything already classified in a previous pass
	seen, err := f.seenMessageIDs(account.ID, metas)
	if err != nil {
		return nil, err
	}

	var newMetas []MessageMeta
	skipped := 0
	for _, m := range metas {
		if seen[m.MessageID] {
			skipped++
			continue
		}
		newMetas = append(newMetas, m)
	}

	// A capped pass keeps the newest messages
	if f.maxEmails > 0 && len(newMetas) > f.maxEmails {
		newMetas = newMetas[len(newMetas)-f.maxEmails:]
	}

	result := &FetchResult{Skipped: skipped}
	if len(newMetas) == 0 {
		f.logService.LogFetch(account.ID, 0, skipped, nil)
		return result, nil
	}

	metaByUID := make(map[uint32]MessageMeta, len(newMetas))
	var uids []uint32
	for _, m := range newMetas {
		metaByUID[m.UID] = m
		uids = append(uids, m.UID)
	}

	for start := 0; start < len(uids); start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + f.batchSize
		if end > len(uids) {
			end = len(uids)
		}

		bodies, err := session.FetchBodies(uids[start:end])
		if err != nil {
			f.logService.LogFetch(account.ID, result.Fetched, skipped, err)
			return result, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}

		for _, uid := range uids[start:end] {
			meta := metaByUID[uid]
			email := buildRawEmail(account.ID, meta, bodies[uid])
			result.Emails = append(result.Emails, email)
			result.Fetched++
		}
	}

	f.logService.LogFetch(account.ID, result.Fetched, skipped, nil)
	return result, nil
}

// seenMessageIDs looks up which of the messages already have a
// classification row, batched to keep the IN clause bounded
func (f *Fetcher) seenMessageIDs(accountID uint, metas []MessageMeta) (map[string]bool, error) {
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.MessageID)
	}

	seen := make(map[string]bool)
	const dbBatchSize = 500
	for start := 0; start < len(ids); start += dbBatchSize {
		end := start + dbBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var rows []models.Classification
		err := f.db.Select("message_id").
			Where("account_id = ? AND message_id IN ?", accountID, ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			seen[r.MessageID] = true
		}
	}
	return seen, nil
}

// buildRawEmail assembles a RawEmail from envelope metadata and raw content
func buildRawEmail(accountID uint, meta MessageMeta, raw []byte) RawEmail {
	email := RawEmail{
		AccountID:  accountID,
		UID:        meta.UID,
		MessageID:  meta.MessageID,
		Subject:    meta.Subject,
		From:       meta.From,
		To:         meta.To,
		ReceivedAt: meta.Date,
	}

	if len(raw) > 0 {
		parseBody(raw, &email)
	}

	if email.MessageID == "" {
		email.MessageID = fallbackMessageID(&email, raw)
	}

	return email
}

// parseBody extracts the text parts of a raw message
func parseBody(raw []byte, email *RawEmail) {
	r := bytes.NewReader(raw)
	entity, err := message.Read(r)
	if err != nil {
		// Fall back to plain RFC 5322 parsing
		r.Seek(0, io.SeekStart)
		m, err := mail.ReadMessage(r)
		if err != nil {
			return
		}
		if email.MessageID == "" {
			email.MessageID = strings.TrimSpace(m.Header.Get("Message-Id"))
		}
		body, _ := io.ReadAll(m.Body)
		email.Body = string(body)
		return
	}

	if email.MessageID == "" {
		email.MessageID = strings.TrimSpace(entity.Header.Get("Message-Id"))
	}
	parseEntity(entity, email)
}

// parseEntity recursively walks a MIME tree collecting text parts
func parseEntity(entity *message.Entity, email *RawEmail) {
	mediaType, _, _ := entity.Header.ContentType()

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := entity.MultipartReader()
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			parseEntity(part, email)
		}
	case mediaType == "text/plain" && email.Body == "":
		body, _ := io.ReadAll(entity.Body)
		email.Body = string(body)
	case mediaType == "text/html" && email.HTMLBody == "":
		body, _ := io.ReadAll(entity.Body)
		email.HTMLBody = string(body)
	}
}

// fallbackMessageID builds a stable id for messages without a Message-Id
// header so dedup still holds across passes
func fallbackMessageID(email *RawEmail, raw []byte) string {
	if email.UID != 0 {
		return fmt.Sprintf("uid:%d", email.UID)
	}
	if len(raw) > 0 {
		sum := sha256.Sum256(raw)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	seed := fmt.Sprintf("%d|%s|%s|%s", email.ReceivedAt.UnixNano(), email.Subject, email.From, strings.Join(email.To, ","))
	sum := sha256.Sum256([]byte(seed))
	return "gen:" + hex.EncodeToString(sum[:16])
}
