package services

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	"github.com/jobtrail/core/internal/database/models"
)

// IMAPSource is the production MailSource backed by go-imap
type IMAPSource struct{}

// NewIMAPSource creates the IMAP-backed mail source
func NewIMAPSource() *IMAPSource {
	return &IMAPSource{}
}

// Open connects and authenticates against the account's IMAP server
func (s *IMAPSource) Open(account *models.Account, credential string) (MailSession, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	var c *client.Client

	// 设置连接超时为 10 秒
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	if account.UseSSL {
		tlsConfig := &tls.Config{ServerName: account.IMAPHost}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
	} else {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
	}

	c.Timeout = 5 * time.Minute

	// Some servers (188.com, 163.com) require client identification before
	// login
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		_, err := idClient.ID(id.ID{
			id.FieldName:    "JobTrail",
			id.FieldVersion: "1.0.0",
			id.FieldVendor:  "JobTrail",
		})
		if err != nil {
			// Log but don't fail - some servers may not require ID
		}
	}

	if account.AuthType == models.AuthTypeOAuth2 {
		// The stored credential is the OAuth2 access token
		saslClient := NewXOAuth2Client(account.Username, credential)
		if err := c.Authenticate(saslClient); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: XOAUTH2 authentication failed: %v", ErrIMAPConnectionFailed, err)
		}
	} else {
		if err := c.Login(account.Username, credential); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: login failed: %v", ErrIMAPConnectionFailed, err)
		}
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: failed to select INBOX: %v", ErrIMAPConnectionFailed, err)
	}

	return &imapSession{client: c, messages: mbox.Messages}, nil
}

// XOAuth2Client implements the SASL XOAUTH2 mechanism
type XOAuth2Client struct {
	Username    string
	AccessToken string
}

// NewXOAuth2Client creates a new XOAUTH2 SASL client
func NewXOAuth2Client(username, accessToken string) *XOAuth2Client {
	return &XOAuth2Client{
		Username:    username,
		AccessToken: accessToken,
	}
}

// Start begins the XOAUTH2 authentication
func (c *XOAuth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.Username, c.AccessToken))
	return "XOAUTH2", ir, nil
}

// Next handles server challenges (XOAUTH2 doesn't have additional challenges)
func (c *XOAuth2Client) Next(challenge []byte) (response []byte, err error) {
	return nil, nil
}

// imapSession is one authenticated connection with INBOX selected
type imapSession struct {
	client   *client.Client
	messages uint32
}

const envelopeBatchSize = 10

// Search fetches envelope metadata for messages inside the window
func (s *imapSession) Search(window Window) ([]MessageMeta, error) {
	if s.messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	if !window.Since.IsZero() {
		since := window.Since
		criteria.Since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	}

	seqNums, err := s.client.Search(criteria)
	if err != nil || len(seqNums) == 0 {
		// Some servers reject SEARCH SINCE; fall back to everything and let
		// the caller filter
		seqNums = make([]uint32, s.messages)
		for i := uint32(1); i <= s.messages; i++ {
			seqNums[i-1] = i
		}
	}

	var metas []MessageMeta
	for start := 0; start < len(seqNums); start += envelopeBatchSize {
		end := start + envelopeBatchSize
		if end > len(seqNums) {
			end = len(seqNums)
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(seqNums[start:end]...)

		items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}
		messages := make(chan *imap.Message, envelopeBatchSize)
		done := make(chan error, 1)

		go func() {
			done <- s.client.Fetch(seqSet, items, messages)
		}()

		for msg := range messages {
			if msg == nil || msg.Envelope == nil {
				continue
			}
			messageID := msg.Envelope.MessageId
			if messageID == "" {
				messageID = fmt.Sprintf("uid:%d", msg.Uid)
			}

			meta := MessageMeta{
				UID:       msg.Uid,
				MessageID: messageID,
				Subject:   msg.Envelope.Subject,
				Date:      msg.Envelope.Date,
			}
			if len(msg.Envelope.From) > 0 {
				meta.From = formatAddress(msg.Envelope.From[0])
			}
			for _, addr := range msg.Envelope.To {
				meta.To = append(meta.To, formatAddress(addr))
			}
			metas = append(metas, meta)
		}
		if err := <-done; err != nil {
			return metas, fmt.Errorf("envelope fetch failed: %v", err)
		}
	}

	return metas, nil
}

// FetchBodies downloads raw message content for the given UIDs
func (s *imapSession) FetchBodies(uids []uint32) (map[uint32][]byte, error) {
	bodies := make(map[uint32][]byte, len(uids))
	if len(uids) == 0 {
		return bodies, nil
	}

	uidSet := new(imap.SeqSet)
	uidSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(uidSet, items, messages)
	}()

	for msg := range messages {
		if msg == nil {
			continue
		}
		for _, literal := range msg.Body {
			content, err := io.ReadAll(literal)
			if err == nil && len(content) > 0 {
				bodies[msg.Uid] = content
			}
		}
	}
	if err := <-done; err != nil {
		return bodies, fmt.Errorf("body fetch failed: %v", err)
	}

	return bodies, nil
}

// Close logs out of the session
func (s *imapSession) Close() error {
	return s.client.Logout()
}

// formatAddress formats an IMAP address to a string
func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}
