package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"sync"
	"time"
)

// sendGridAPIURL is the SendGrid v3 mail send endpoint.
const sendGridAPIURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig configures the SendGrid API backend.
//
// Embed this in your app config for env parsing with caarlos0/env.
type SendGridConfig struct {
	APIKey  string        `env:"MAILER_SENDGRID_API_KEY"`
	Timeout time.Duration `env:"MAILER_SENDGRID_TIMEOUT" envDefault:"30s"`

	// BaseURL overrides the API endpoint. Intended for tests.
	BaseURL string

	// Client overrides the HTTP transport. Defaults to a plain net/http
	// client with the configured timeout.
	Client HTTPDoer
}

// SendGridBackend delivers mail through the SendGrid v3 mail/send API.
type SendGridBackend struct {
	cfg          SendGridConfig
	failSilently bool

	mu     sync.Mutex
	client HTTPDoer
}

// NewSendGridBackend creates a SendGrid backend. No client is built until
// Open or the first SendMessages call.
func NewSendGridBackend(cfg SendGridConfig, opts ...Option) *SendGridBackend {
	o := applyOptions(opts)
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIURL
	}
	return &SendGridBackend{cfg: cfg, failSilently: o.failSilently}
}

func sendGridFactory(cfg Config) (Backend, error) {
	scfg, err := configAs[SendGridConfig](cfg)
	if err != nil {
		return nil, err
	}
	return NewSendGridBackend(scfg, WithFailSilently(cfg.FailSilently)), nil
}

// Open initializes the HTTP client, rejecting an empty API key.
func (b *SendGridBackend) Open(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return false, nil
	}
	if b.cfg.APIKey == "" {
		return false, fmt.Errorf("%w: sendgrid API key is empty", ErrBackend)
	}
	if b.cfg.Client != nil {
		b.client = b.cfg.Client
	} else {
		b.client = newHTTPClient(b.cfg.Timeout)
	}
	return true, nil
}

// Close releases the HTTP client. Safe to call repeatedly.
func (b *SendGridBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}

// SendMessages posts one API request per message.
func (b *SendGridBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
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

func (b *SendGridBackend) post(ctx context.Context, m *Message) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: sendgrid client not initialized", ErrConnection)
	}

	payload, err := json.Marshal(sendGridRequest(m))
	if err != nil {
		return newDeliveryError(m, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return newDeliveryError(m, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	return checkResponse(m, resp)
}

// SendGrid v3 request body (https://docs.sendgrid.com/api-reference/mail-send).
type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Attachments      []sgAttachment      `json:"attachments,omitempty"`
	Headers          map[string]string   `json:"headers,omitempty"`
}

type sgPersonalization struct {
	To  []sgAddress `json:"to"`
	CC  []sgAddress `json:"cc,omitempty"`
	BCC []sgAddress `json:"bcc,omitempty"`
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content  string `json:"content"` // base64
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename"`
}

func sendGridRequest(m *Message) sgMail {
	req := sgMail{
		From:    sgParseAddress(m.From),
		Subject: m.Subject,
		Headers: m.Headers,
		Personalizations: []sgPersonalization{{
			To:  sgAddresses(m.To),
			CC:  sgAddresses(m.CC),
			BCC: sgAddresses(m.BCC),
		}},
	}

	// SendGrid requires text/plain before text/html.
	req.Content = append(req.Content, sgContent{Type: "text/plain", Value: m.Body})
	for _, alt := range m.Alternatives {
		req.Content = append(req.Content, sgContent{Type: alt.ContentType, Value: alt.Content})
	}

	if len(m.ReplyTo) > 0 {
		addr := sgParseAddress(m.ReplyTo[0])
		req.ReplyTo = &addr
	}
	for _, a := range m.Attachments {
		req.Attachments = append(req.Attachments, sgAttachment{
			Content:  base64.StdEncoding.EncodeToString(a.Content),
			Type:     a.ContentType,
			Filename: a.Filename,
		})
	}
	return req
}

func sgAddresses(addrs []string) []sgAddress {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]sgAddress, len(addrs))
	for i, a := range addrs {
		out[i] = sgParseAddress(a)
	}
	return out
}

// sgParseAddress splits "Name <a@b>" into SendGrid's address object.
// Unparseable input is passed through as a bare email and left for the
// provider to reject.
func sgParseAddress(addr string) sgAddress {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return sgAddress{Email: addr}
	}
	return sgAddress{Email: parsed.Address, Name: parsed.Name}
}
