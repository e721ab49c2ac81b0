package mailer

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPDoer executes a single HTTP request. *http.Client satisfies it, as
// does the client returned by NewRetryableHTTPClient. HTTP-API backends
// accept any implementation through their Client config field, defaulting
// to a plain net/http client with the configured timeout.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient returns the default transport: a net/http client with the
// given timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NewRetryableHTTPClient returns an HTTPDoer that retries transient
// transport failures (connection resets, 5xx) with exponential backoff
// before the backend sees the response. This is an opt-in alternative to
// the default client; the library itself never retries — in particular,
// rate limiting still surfaces as RateLimitError for the caller to handle.
func NewRetryableHTTPClient(timeout time.Duration, retryMax int) HTTPDoer {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	return c.StandardClient()
}

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// checkResponse maps a provider HTTP response to the failure taxonomy.
// Returns nil for 2xx.
func checkResponse(m *Message, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: provider returned %s", ErrAuthentication, resp.Status)
	case http.StatusTooManyRequests:
		rl := &RateLimitError{}
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				rl.RetryAfter = time.Duration(secs) * time.Second
				rl.HasRetryAfter = true
			}
		}
		return rl
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{
		Subject:    m.Subject,
		Recipients: m.Recipients(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
