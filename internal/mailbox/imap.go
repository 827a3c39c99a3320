package mailbox

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/config"
)

// IMAPScanner scans one folder of one IMAP account. Message ids are UIDs.
type IMAPScanner struct {
	mu     sync.Mutex
	client *client.Client
	folder string
}

// NewIMAPScanner connects and logs in
func NewIMAPScanner(cfg config.MailboxConfig) (*IMAPScanner, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	folder := cfg.IMAPFolder
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPScanner{client: c, folder: folder}, nil
}

// IMAPOpener returns an OpenFunc dialing a fresh connection per scan. Only
// the configured account's address is accepted as mailbox.
func IMAPOpener(cfg config.MailboxConfig) OpenFunc {
	return func(_ context.Context, mailbox string) (Scanner, error) {
		if !strings.EqualFold(strings.TrimSpace(mailbox), cfg.IMAPUser) {
			return nil, fmt.Errorf("mailbox %q is not served by IMAP account %q", mailbox, cfg.IMAPUser)
		}
		return NewIMAPScanner(cfg)
	}
}

func (s *IMAPScanner) Search(ctx context.Context, q Query) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.client.Select(s.folder, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.folder, err)
	}

	criteria := imap.NewSearchCriteria()
	if q.Mode == ModeSubject {
		criteria.Header.Add("Subject", q.Text)
	} else {
		criteria.Text = []string{q.Text}
	}
	criteria.Since = q.Since(time.Now().UTC())

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if q.Limit > 0 && len(uids) > q.Limit {
		uids = uids[:q.Limit]
	}

	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}

	logrus.WithFields(logrus.Fields{
		"folder":  s.folder,
		"matches": len(ids),
	}).Debug("IMAP search completed")
	return ids, nil
}

func (s *IMAPScanner) Fetch(ctx context.Context, id string) (*Message, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP uid %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var raw *imap.Message
	for msg := range messages {
		raw = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	body := raw.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body", id)
	}
	return ReadMessage(id, body)
}

func (s *IMAPScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Logout()
}
