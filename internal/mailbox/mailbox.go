// Package mailbox searches a mailbox for candidate emails and extracts their
// resume attachments. IMAP and Gmail API backends are provided.
package mailbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ResumeExtensions are the attachment types treated as resumes
var ResumeExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".rtf"}

// Search modes
const (
	ModeFull    = "full"
	ModeSubject = "subject"
)

// Query selects the messages a scan walks
type Query struct {
	Text         string
	Mode         string
	LookbackDays int
	Limit        int
}

// Attachment is one decoded MIME attachment
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a fetched email with its attachments decoded
type Message struct {
	ID          string
	Subject     string
	From        string
	Date        time.Time
	Attachments []Attachment
}

// Scanner is a mailbox backend. Search returns message ids newest first, at
// most q.Limit of them; the ids are stable across calls for the same mailbox.
type Scanner interface {
	Search(ctx context.Context, q Query) ([]string, error)
	Fetch(ctx context.Context, id string) (*Message, error)
	Close() error
}

// OpenFunc connects a Scanner to mailbox for the duration of one scan
type OpenFunc func(ctx context.Context, mailbox string) (Scanner, error)

// IsResumeAttachment reports whether filename has a resume extension
func IsResumeAttachment(filename string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	for _, allowed := range ResumeExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ResumeAttachments returns the message's attachments with a resume extension
func (m *Message) ResumeAttachments() []Attachment {
	var out []Attachment
	for _, a := range m.Attachments {
		if IsResumeAttachment(a.Filename) && len(a.Data) > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Since returns the lower date bound for q, zero when unbounded
func (q Query) Since(now time.Time) time.Time {
	if q.LookbackDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -q.LookbackDays)
}

// GmailQuery renders q in Gmail search syntax. Only messages with attachments
// are considered.
func (q Query) GmailQuery() string {
	text := strings.ReplaceAll(strings.TrimSpace(q.Text), `"`, "")
	parts := make([]string, 0, 3)
	if q.Mode == ModeSubject {
		parts = append(parts, fmt.Sprintf(`subject:"%s"`, text))
	} else {
		parts = append(parts, fmt.Sprintf(`"%s"`, text))
	}
	parts = append(parts, "has:attachment")
	if q.LookbackDays > 0 {
		parts = append(parts, fmt.Sprintf("newer_than:%dd", q.LookbackDays))
	}
	return strings.Join(parts, " ")
}
