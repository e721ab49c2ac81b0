package mailer

import "fmt"

// Alternative is an alternative representation of the message body,
// typically an HTML version of the plain text content.
type Alternative struct {
	Content     string
	ContentType string
}

// Attachment represents a file attached to a message.
type Attachment struct {
	Filename    string // display name for the attachment
	ContentType string // MIME type (e.g. "application/pdf")
	Content     []byte // raw file content
}

// Message represents a single email message. The zero value is usable;
// fields may be filled in any order and validation happens at send time,
// not at construction. From may be left empty and is filled from the
// service's default sender before delivery.
type Message struct {
	Headers      map[string]string // custom headers
	Subject      string
	Body         string // plain text body
	From         string // RFC 5322 address, e.g. "Team <team@example.com>"
	To           []string
	CC           []string
	BCC          []string
	ReplyTo      []string
	Alternatives []Alternative
	Attachments  []Attachment
}

// NewMessage creates a plain text message addressed to the given recipients.
func NewMessage(subject, body string, to ...string) *Message {
	return &Message{
		Subject: subject,
		Body:    body,
		To:      to,
	}
}

// Attach adds a file attachment to the message.
func (m *Message) Attach(filename string, content []byte, contentType string) {
	m.Attachments = append(m.Attachments, Attachment{
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
	})
}

// AttachAlternative adds an alternative body representation, most commonly
// an HTML version: m.AttachAlternative("<p>Hi</p>", "text/html").
func (m *Message) AttachAlternative(content, contentType string) {
	m.Alternatives = append(m.Alternatives, Alternative{
		Content:     content,
		ContentType: contentType,
	})
}

// HTML returns the first text/html alternative, or "" if none is attached.
func (m *Message) HTML() string {
	for _, alt := range m.Alternatives {
		if alt.ContentType == "text/html" {
			return alt.Content
		}
	}
	return ""
}

// Recipients returns all envelope recipients (To, then CC, then BCC) with
// duplicates removed, preserving first-occurrence order.
func (m *Message) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.CC)+len(m.BCC))
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	for _, group := range [][]string{m.To, m.CC, m.BCC} {
		for _, addr := range group {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// validate reports whether the message can be sent.
func (m *Message) validate() error {
	if len(m.Recipients()) == 0 {
		return newDeliveryError(m, ErrNoRecipient)
	}
	return nil
}

// Recipient formats a name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
