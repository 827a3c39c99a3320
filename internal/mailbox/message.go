package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// ReadMessage decodes an RFC 822 message, keeping attachments and dropping
// inline text bodies.
func ReadMessage(id string, r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	msg := &Message{ID: id}
	msg.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date.UTC()
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("failed to read part: %w", err)
		}

		var filename, contentType string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ = h.Filename()
			contentType, _, _ = h.ContentType()
		case *mail.InlineHeader:
			// Some clients send resumes inline with a name parameter
			var params map[string]string
			contentType, params, _ = h.ContentType()
			filename = params["name"]
		}
		if strings.TrimSpace(filename) == "" {
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": id,
				"filename":   filename,
			}).Warnf("Failed to read attachment: %v", err)
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return msg, nil
}
