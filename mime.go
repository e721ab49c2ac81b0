package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// renderMIME serializes a message to RFC 5322 wire format: headers, then a
// body that is quoted-printable plain text, multipart/alternative when an
// HTML alternative is present, and multipart/mixed when attachments are.
// BCC addresses are envelope-only and never appear in headers.
func renderMIME(m *Message) ([]byte, error) {
	headers := map[string]string{
		"From":         m.From,
		"Subject":      sanitizeHeader(m.Subject),
		"Date":         time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version": "1.0",
	}
	if len(m.To) > 0 {
		headers["To"] = strings.Join(m.To, ", ")
	}
	if len(m.CC) > 0 {
		headers["Cc"] = strings.Join(m.CC, ", ")
	}
	if len(m.ReplyTo) > 0 {
		headers["Reply-To"] = strings.Join(m.ReplyTo, ", ")
	}
	for name, value := range m.Headers {
		headers[sanitizeHeader(name)] = sanitizeHeader(value)
	}
	if _, ok := headers["Message-ID"]; !ok {
		headers["Message-ID"] = messageID(m.From)
	}

	var body bytes.Buffer
	html := m.HTML()

	switch {
	case len(m.Attachments) > 0:
		w := multipart.NewWriter(&body)
		headers["Content-Type"] = fmt.Sprintf(`multipart/mixed; boundary="%s"`, w.Boundary())
		if err := writeBodyPart(w, m.Body, html); err != nil {
			return nil, err
		}
		for _, a := range m.Attachments {
			if err := writeAttachment(w, a); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

	case html != "":
		w := multipart.NewWriter(&body)
		headers["Content-Type"] = fmt.Sprintf(`multipart/alternative; boundary="%s"`, w.Boundary())
		if err := writeAlternatives(w, m.Body, html); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

	default:
		headers["Content-Type"] = `text/plain; charset="UTF-8"`
		headers["Content-Transfer-Encoding"] = "quoted-printable"
		if err := writeQuotedPrintable(&body, m.Body); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	writeHeaders(&out, headers)
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// writeBodyPart writes the text content of a multipart/mixed message:
// a nested multipart/alternative when HTML is present, a plain text part
// otherwise.
func writeBodyPart(w *multipart.Writer, plain, html string) error {
	if html == "" {
		return writeTextPart(w, plain, "text/plain")
	}

	var alt bytes.Buffer
	altW := multipart.NewWriter(&alt)
	if err := writeAlternatives(altW, plain, html); err != nil {
		return err
	}
	if err := altW.Close(); err != nil {
		return err
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, altW.Boundary()))
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	_, err = part.Write(alt.Bytes())
	return err
}

// writeAlternatives writes plain then HTML parts; least preferred first
// per RFC 2046.
func writeAlternatives(w *multipart.Writer, plain, html string) error {
	if err := writeTextPart(w, plain, "text/plain"); err != nil {
		return err
	}
	return writeTextPart(w, html, "text/html")
}

func writeTextPart(w *multipart.Writer, content, contentType string) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", contentType+`; charset="UTF-8"`)
	hdr.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	return writeQuotedPrintable(part, content)
}

func writeAttachment(w *multipart.Writer, a Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Transfer-Encoding", "base64")
	hdr.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeHeader(a.Filename)))
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}

	enc := base64.StdEncoding.EncodeToString(a.Content)
	// 76-char lines per RFC 2045.
	for len(enc) > 0 {
		n := min(len(enc), 76)
		if _, err := io.WriteString(part, enc[:n]+"\r\n"); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}

func writeQuotedPrintable(w io.Writer, content string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, content); err != nil {
		return err
	}
	return qp.Close()
}

// writeHeaders writes headers in deterministic order with From first,
// which some spam filters score on.
func writeHeaders(w io.Writer, headers map[string]string) {
	order := []string{"From", "To", "Cc", "Reply-To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type", "Content-Transfer-Encoding"}
	written := make(map[string]struct{}, len(headers))
	for _, name := range order {
		if value, ok := headers[name]; ok {
			fmt.Fprintf(w, "%s: %s\r\n", name, value)
			written[name] = struct{}{}
		}
	}
	rest := make([]string, 0, len(headers))
	for name := range headers {
		if _, ok := written[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		fmt.Fprintf(w, "%s: %s\r\n", name, headers[name])
	}
}

// messageID generates a unique Message-ID using the sender's domain when
// one can be extracted.
func messageID(from string) string {
	host := "localhost"
	if at := strings.LastIndex(from, "@"); at != -1 {
		domain := from[at+1:]
		domain = strings.TrimRight(domain, ">")
		if domain != "" {
			host = domain
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}

// sanitizeHeader strips CR/LF to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
