package mailer

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	m := NewMessage("Welcome!", "body", "user@example.com")

	t.Run("2xx is success", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, checkResponse(m, fakeResponse(200, nil, "")))
		assert.NoError(t, checkResponse(m, fakeResponse(202, nil, "")))
	})

	t.Run("401 and 403 are authentication failures", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, checkResponse(m, fakeResponse(401, nil, "")), ErrAuthentication)
		assert.ErrorIs(t, checkResponse(m, fakeResponse(403, nil, "")), ErrAuthentication)
	})

	t.Run("429 with retry-after header", func(t *testing.T) {
		t.Parallel()
		hdr := http.Header{}
		hdr.Set("Retry-After", "60")
		err := checkResponse(m, fakeResponse(429, hdr, ""))

		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.ErrorIs(t, err, ErrRateLimit)
		assert.True(t, rl.HasRetryAfter)
		assert.Equal(t, 60*time.Second, rl.RetryAfter)
	})

	t.Run("429 without retry-after header", func(t *testing.T) {
		t.Parallel()
		err := checkResponse(m, fakeResponse(429, nil, ""))

		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.False(t, rl.HasRetryAfter)
	})

	t.Run("429 with non-numeric retry-after", func(t *testing.T) {
		t.Parallel()
		hdr := http.Header{}
		hdr.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
		err := checkResponse(m, fakeResponse(429, hdr, ""))

		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.False(t, rl.HasRetryAfter)
	})

	t.Run("other errors carry status and body", func(t *testing.T) {
		t.Parallel()
		err := checkResponse(m, fakeResponse(400, nil, `{"message":"invalid from"}`))

		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.ErrorIs(t, err, ErrDelivery)
		assert.Equal(t, 400, de.StatusCode)
		assert.Contains(t, de.Body, "invalid from")
		assert.Equal(t, "Welcome!", de.Subject)
		assert.Equal(t, []string{"user@example.com"}, de.Recipients)
	})

	t.Run("error body is capped", func(t *testing.T) {
		t.Parallel()
		err := checkResponse(m, fakeResponse(500, nil, strings.Repeat("x", maxErrorBody*2)))

		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.Len(t, de.Body, maxErrorBody)
	})
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, newHTTPClient(0).Timeout)
	assert.Equal(t, 5*time.Second, newHTTPClient(5*time.Second).Timeout)
}

func TestNewRetryableHTTPClient(t *testing.T) {
	t.Parallel()

	c := NewRetryableHTTPClient(10*time.Second, 3)
	require.NotNil(t, c)
	_, ok := c.(*http.Client)
	assert.True(t, ok, "must satisfy HTTPDoer via a standard client wrapper")
}
