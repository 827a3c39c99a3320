package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"resume-mail-import/internal/config"
)

const gmailPageSize = 100

// GmailScanner scans one Gmail mailbox through the Gmail API. The mailbox is
// used as the API user id, so "me" or the authorized address both work.
type GmailScanner struct {
	service *gmail.Service
	user    string
}

// NewGmailService authorizes with the stored refresh token
func NewGmailService(ctx context.Context, cfg config.MailboxConfig) (*gmail.Service, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return service, nil
}

// GmailOpener shares one API client across scans
func GmailOpener(service *gmail.Service) OpenFunc {
	return func(_ context.Context, mailbox string) (Scanner, error) {
		user := strings.TrimSpace(mailbox)
		if user == "" {
			user = "me"
		}
		return &GmailScanner{service: service, user: user}, nil
	}
}

func (s *GmailScanner) Search(ctx context.Context, q Query) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		pageSize := int64(gmailPageSize)
		if remaining := q.Limit - len(ids); q.Limit > 0 && remaining < gmailPageSize {
			pageSize = int64(remaining)
		}

		call := s.service.Users.Messages.List(s.user).
			Q(q.GmailQuery()).
			MaxResults(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" || (q.Limit > 0 && len(ids) >= q.Limit) {
			break
		}
		pageToken = resp.NextPageToken
	}

	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func (s *GmailScanner) Fetch(ctx context.Context, id string) (*Message, error) {
	msg, err := s.service.Users.Messages.Get(s.user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return ReadMessage(id, bytes.NewReader(raw))
}

// Close is a no-op; the API client holds no connection
func (s *GmailScanner) Close() error {
	return nil
}

func decodeRaw(data string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return base64.RawURLEncoding.DecodeString(data)
	}
	return raw, nil
}
