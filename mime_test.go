package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMIME_PlainText(t *testing.T) {
	t.Parallel()

	m := NewMessage("Grüße", "héllo wörld", "user@example.com")
	m.From = "Team <team@example.com>"

	raw, err := renderMIME(m)
	require.NoError(t, err)
	out := string(raw)

	assert.True(t, strings.HasPrefix(out, "From: Team <team@example.com>\r\n"), "From must be the first header")
	assert.Contains(t, out, "To: user@example.com\r\n")
	assert.Contains(t, out, `Content-Type: text/plain; charset="UTF-8"`)
	assert.Contains(t, out, "Content-Transfer-Encoding: quoted-printable")
	// quoted-printable encoding of é
	assert.Contains(t, out, "h=C3=A9llo")
	assert.Contains(t, out, "Message-ID: <")
	assert.Contains(t, out, "@example.com>")
}

func TestRenderMIME_Alternative(t *testing.T) {
	t.Parallel()

	m := NewMessage("Hi", "plain version", "user@example.com")
	m.From = "team@example.com"
	m.AttachAlternative("<p>html version</p>", "text/html")

	raw, err := renderMIME(m)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "Content-Type: multipart/alternative")
	// plain first, html second per RFC 2046 preference order
	plainIdx := strings.Index(out, "plain version")
	htmlIdx := strings.Index(out, "html version")
	require.GreaterOrEqual(t, plainIdx, 0)
	assert.Greater(t, htmlIdx, plainIdx)
}

func TestRenderMIME_Mixed(t *testing.T) {
	t.Parallel()

	m := NewMessage("Report", "see attached", "user@example.com")
	m.From = "team@example.com"
	m.AttachAlternative("<p>see attached</p>", "text/html")
	m.Attach("report.pdf", []byte("%PDF-1.7 content"), "application/pdf")

	raw, err := renderMIME(m)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "Content-Type: multipart/mixed")
	assert.Contains(t, out, "Content-Type: multipart/alternative")
	assert.Contains(t, out, `Content-Disposition: attachment; filename="report.pdf"`)
	assert.Contains(t, out, "Content-Transfer-Encoding: base64")
	// base64("%PDF-1.7 content")
	assert.Contains(t, out, "JVBERi0xLjcgY29udGVudA==")
}

func TestRenderMIME_BCCNeverInHeaders(t *testing.T) {
	t.Parallel()

	m := NewMessage("Hi", "body", "user@example.com")
	m.From = "team@example.com"
	m.BCC = []string{"hidden@example.com"}

	raw, err := renderMIME(m)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hidden@example.com")
}

func TestRenderMIME_SanitizesHeaderInjection(t *testing.T) {
	t.Parallel()

	m := NewMessage("Hi\r\nBcc: attacker@evil.com", "body", "user@example.com")
	m.From = "team@example.com"
	m.Headers = map[string]string{
		"X-Campaign":    "spring\r\nX-Injected: yes",
		"X-Evil\r\nBcc": "sneak@evil.com",
	}

	raw, err := renderMIME(m)
	require.NoError(t, err)
	out := string(raw)

	assert.NotContains(t, out, "\r\nBcc: attacker@evil.com")
	assert.NotContains(t, out, "\r\nX-Injected:")
	assert.NotContains(t, out, "\r\nBcc: sneak@evil.com")
	assert.Contains(t, out, "Subject: HiBcc: attacker@evil.com")
	assert.Contains(t, out, "X-Campaign: springX-Injected: yes")
	// injected CR/LF in a header name collapses into the name
	assert.Contains(t, out, "X-EvilBcc: sneak@evil.com")
}

func TestRenderMIME_CustomMessageIDKept(t *testing.T) {
	t.Parallel()

	m := NewMessage("Hi", "body", "user@example.com")
	m.From = "team@example.com"
	m.Headers = map[string]string{"Message-ID": "<custom@example.com>"}

	raw, err := renderMIME(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Message-ID: <custom@example.com>\r\n")
}

func TestRenderMIME_ReplyTo(t *testing.T) {
	t.Parallel()

	m := NewMessage("Hi", "body", "user@example.com")
	m.From = "team@example.com"
	m.ReplyTo = []string{"support@example.com"}

	raw, err := renderMIME(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Reply-To: support@example.com\r\n")
}
