package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Mailgun regional base URLs. The EU region exists for data-residency
// requirements; pick the region the sending domain was created in.
const (
	mailgunUSBaseURL = "https://api.mailgun.net"
	mailgunEUBaseURL = "https://api.eu.mailgun.net"
)

// MailgunConfig configures the Mailgun API backend.
//
// Embed this in your app config for env parsing with caarlos0/env.
type MailgunConfig struct {
	APIKey string `env:"MAILER_MAILGUN_API_KEY"`

	// Domain is the Mailgun sending domain, e.g. "mg.example.com".
	Domain string `env:"MAILER_MAILGUN_DOMAIN"`

	// Region selects the API cluster: "us" (default) or "eu".
	Region string `env:"MAILER_MAILGUN_REGION" envDefault:"us"`

	Timeout time.Duration `env:"MAILER_MAILGUN_TIMEOUT" envDefault:"30s"`

	// BaseURL overrides the region-derived endpoint. Intended for tests.
	BaseURL string

	// Client overrides the HTTP transport. Defaults to a plain net/http
	// client with the configured timeout.
	Client HTTPDoer
}

// MailgunBackend delivers mail through the Mailgun messages API using
// multipart form requests, as the provider documents.
type MailgunBackend struct {
	cfg          MailgunConfig
	failSilently bool

	mu     sync.Mutex
	client HTTPDoer
}

// NewMailgunBackend creates a Mailgun backend. No client is built until
// Open or the first SendMessages call.
func NewMailgunBackend(cfg MailgunConfig, opts ...Option) *MailgunBackend {
	o := applyOptions(opts)
	return &MailgunBackend{cfg: cfg, failSilently: o.failSilently}
}

func mailgunFactory(cfg Config) (Backend, error) {
	mcfg, err := configAs[MailgunConfig](cfg)
	if err != nil {
		return nil, err
	}
	return NewMailgunBackend(mcfg, WithFailSilently(cfg.FailSilently)), nil
}

// Open validates the configuration, resolves the regional endpoint, and
// initializes the HTTP client.
func (b *MailgunBackend) Open(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return false, nil
	}
	if b.cfg.APIKey == "" {
		return false, fmt.Errorf("%w: mailgun API key is empty", ErrBackend)
	}
	if b.cfg.Domain == "" {
		return false, fmt.Errorf("%w: mailgun sending domain is empty", ErrBackend)
	}
	if b.cfg.BaseURL == "" {
		switch strings.ToLower(b.cfg.Region) {
		case "", "us":
			b.cfg.BaseURL = mailgunUSBaseURL
		case "eu":
			b.cfg.BaseURL = mailgunEUBaseURL
		default:
			return false, fmt.Errorf("%w: unknown mailgun region %q, want \"us\" or \"eu\"", ErrBackend, b.cfg.Region)
		}
	}
	if b.cfg.Client != nil {
		b.client = b.cfg.Client
	} else {
		b.client = newHTTPClient(b.cfg.Timeout)
	}
	return true, nil
}

// Close releases the HTTP client. Safe to call repeatedly.
func (b *MailgunBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}

// SendMessages posts one API request per message.
func (b *MailgunBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	closeFn, err := ensureOpen(ctx, b)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	return deliverEach(ctx, msgs, b.failSilently, b.post)
}

func (b *MailgunBackend) post(ctx context.Context, m *Message) error {
	b.mu.Lock()
	client := b.client
	endpoint := fmt.Sprintf("%s/v3/%s/messages", b.cfg.BaseURL, b.cfg.Domain)
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: mailgun client not initialized", ErrConnection)
	}

	body, contentType, err := mailgunForm(m)
	if err != nil {
		return newDeliveryError(m, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return newDeliveryError(m, err)
	}
	req.SetBasicAuth("api", b.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	return checkResponse(m, resp)
}

// mailgunForm builds the multipart form body for one message.
func mailgunForm(m *Message) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string][]string{
		"from":    {m.From},
		"to":      m.To,
		"cc":      m.CC,
		"bcc":     m.BCC,
		"subject": {m.Subject},
		"text":    {m.Body},
	}
	if html := m.HTML(); html != "" {
		fields["html"] = []string{html}
	}
	if len(m.ReplyTo) > 0 {
		fields["h:Reply-To"] = []string{strings.Join(m.ReplyTo, ", ")}
	}
	for name, value := range m.Headers {
		fields["h:"+name] = []string{value}
	}

	for name, values := range fields {
		for _, value := range values {
			if err := w.WriteField(name, value); err != nil {
				return nil, "", err
			}
		}
	}

	for _, a := range m.Attachments {
		part, err := w.CreateFormFile("attachment", a.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
