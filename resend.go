package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/resend/resend-go/v3"
)

// resendAPIURL is the Resend send endpoint (https://resend.com/docs).
const resendAPIURL = "https://api.resend.com/emails"

// ResendConfig configures the Resend API backend.
//
// Embed this in your app config for env parsing with caarlos0/env.
type ResendConfig struct {
	APIKey  string        `env:"MAILER_RESEND_API_KEY"`
	Timeout time.Duration `env:"MAILER_RESEND_TIMEOUT" envDefault:"30s"`

	// BaseURL overrides the API endpoint. Intended for tests.
	BaseURL string

	// Client overrides the HTTP transport. Defaults to a plain net/http
	// client with the configured timeout; see NewRetryableHTTPClient for
	// the bundled alternative.
	Client HTTPDoer
}

// ResendBackend delivers mail through the Resend REST API. The request
// payload is built from the official SDK's types so the wire schema stays
// in lockstep with the provider, but the request itself goes through the
// backend's own transport to keep error mapping uniform across providers.
type ResendBackend struct {
	cfg          ResendConfig
	failSilently bool

	mu     sync.Mutex
	client HTTPDoer
}

// NewResendBackend creates a Resend backend. No client is built until
// Open or the first SendMessages call.
func NewResendBackend(cfg ResendConfig, opts ...Option) *ResendBackend {
	o := applyOptions(opts)
	if cfg.BaseURL == "" {
		cfg.BaseURL = resendAPIURL
	}
	return &ResendBackend{cfg: cfg, failSilently: o.failSilently}
}

func resendFactory(cfg Config) (Backend, error) {
	rcfg, err := configAs[ResendConfig](cfg)
	if err != nil {
		return nil, err
	}
	return NewResendBackend(rcfg, WithFailSilently(cfg.FailSilently)), nil
}

// Open initializes the HTTP client. An empty API key is rejected here
// rather than on the first send so misconfiguration fails fast.
func (b *ResendBackend) Open(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return false, nil
	}
	if b.cfg.APIKey == "" {
		return false, fmt.Errorf("%w: resend API key is empty", ErrBackend)
	}
	if b.cfg.Client != nil {
		b.client = b.cfg.Client
	} else {
		b.client = newHTTPClient(b.cfg.Timeout)
	}
	return true, nil
}

// Close releases the HTTP client. Safe to call repeatedly.
func (b *ResendBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}

// SendMessages posts one API request per message.
func (b *ResendBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
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

func (b *ResendBackend) post(ctx context.Context, m *Message) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: resend client not initialized", ErrConnection)
	}

	payload, err := json.Marshal(resendRequest(m))
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

// resendRequest translates a message into the SDK's request type.
func resendRequest(m *Message) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    m.From,
		To:      m.To,
		Subject: m.Subject,
		Text:    m.Body,
		Html:    m.HTML(),
		Cc:      m.CC,
		Bcc:     m.BCC,
		ReplyTo: strings.Join(m.ReplyTo, ", "),
		Headers: m.Headers,
	}
	for _, a := range m.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		})
	}
	return req
}
