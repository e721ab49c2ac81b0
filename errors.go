package mailer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for backend operations. Every backend wraps its
// transport-level failures into one of these five kinds so callers can
// handle delivery problems without knowing which transport is in use.
var (
	// ErrBackend indicates a misconfigured or unresolvable backend.
	// Not recoverable without a configuration change.
	ErrBackend = errors.New("mailer: backend configuration error")

	// ErrConnection indicates a transport-level connect failure.
	// Retryable by the caller.
	ErrConnection = errors.New("mailer: connection failed")

	// ErrAuthentication indicates rejected credentials.
	// Not recoverable without a credential change.
	ErrAuthentication = errors.New("mailer: authentication failed")

	// ErrDelivery indicates the provider rejected or failed a specific send.
	ErrDelivery = errors.New("mailer: delivery failed")

	// ErrRateLimit indicates the provider is throttling requests.
	// Retryable after the delay carried by RateLimitError, if known.
	ErrRateLimit = errors.New("mailer: rate limited")

	// ErrNoRecipient indicates a message with an empty recipient list
	// reached a send call.
	ErrNoRecipient = errors.New("mailer: message has no recipients")
)

// Sentinel errors for template composition.
var (
	// ErrTemplateNotFound indicates the template file was not found.
	ErrTemplateNotFound = errors.New("mailer: template not found")

	// ErrLayoutNotFound indicates the layout file was not found.
	ErrLayoutNotFound = errors.New("mailer: layout not found")

	// ErrRenderFailed indicates template rendering failed.
	ErrRenderFailed = errors.New("mailer: failed to render template")

	// ErrInvalidFrontmatter indicates invalid YAML frontmatter.
	ErrInvalidFrontmatter = errors.New("mailer: invalid frontmatter")
)

// DeliveryError reports a failed send of one specific message. It carries
// enough context to log meaningfully: the message subject, its recipients,
// and, for HTTP providers, the status code and response body.
//
// DeliveryError matches ErrDelivery via errors.Is.
type DeliveryError struct {
	Err        error
	Subject    string
	Body       string
	Recipients []string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	b.WriteString("mailer: delivery failed")
	if e.Subject != "" {
		fmt.Fprintf(&b, " for %q", e.Subject)
	}
	if len(e.Recipients) > 0 {
		fmt.Fprintf(&b, " to %s", strings.Join(e.Recipients, ", "))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDelivery, e.Err}
	}
	return []error{ErrDelivery}
}

// RateLimitError reports provider throttling. RetryAfter carries the
// provider-supplied delay hint; HasRetryAfter is false when the provider
// did not supply one, in which case RetryAfter is zero and must not be
// interpreted as "retry immediately".
//
// RateLimitError matches ErrRateLimit via errors.Is.
type RateLimitError struct {
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *RateLimitError) Error() string {
	if e.HasRetryAfter {
		return fmt.Sprintf("mailer: rate limited, retry after %s", e.RetryAfter)
	}
	return "mailer: rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// newDeliveryError wraps err with message context for logging.
func newDeliveryError(m *Message, err error) *DeliveryError {
	return &DeliveryError{
		Err:        err,
		Subject:    m.Subject,
		Recipients: m.Recipients(),
	}
}
