package mailer

import (
	"context"
	"errors"
)

// Backend is the capability contract every transport implements.
//
// Backends are cheap to construct; no I/O happens until Open or the first
// SendMessages call. A backend is not safe for concurrent use from multiple
// goroutines unless its documentation says otherwise — acquire one backend
// (or service) per goroutine instead.
type Backend interface {
	// Open establishes the underlying connection or client. It is
	// idempotent: it reports true only when this call newly opened the
	// backend, false when it was already open. Configuration and
	// authentication problems surface as ErrBackend, ErrConnection, or
	// ErrAuthentication — never silently.
	Open(ctx context.Context) (bool, error)

	// Close releases the connection. It is idempotent and safe to call
	// on a backend that was never opened.
	Close() error

	// SendMessages delivers each message in order and returns the number
	// delivered. An empty slice returns 0 without opening a connection.
	// If the backend is not already open, it opens before sending and
	// closes afterwards on every exit path, so connections never leak.
	//
	// On a per-message failure the backend returns the error immediately
	// unless it was constructed with WithFailSilently(true), in which
	// case delivery failures (and only those — configuration, connection,
	// and authentication errors always propagate) are skipped and
	// excluded from the returned count.
	SendMessages(ctx context.Context, msgs []*Message) (int, error)
}

// Option configures a backend at construction time.
type Option func(*backendOptions)

type backendOptions struct {
	failSilently bool
}

// WithFailSilently controls whether per-message delivery failures are
// swallowed (excluding the message from the success count) instead of
// returned. Connection, authentication, and configuration errors are
// never swallowed.
func WithFailSilently(v bool) Option {
	return func(o *backendOptions) {
		o.failSilently = v
	}
}

func applyOptions(opts []Option) backendOptions {
	var o backendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ensureOpen opens b when needed and returns the matching cleanup: a close
// bound to this call when it newly opened the backend, a no-op otherwise.
// This is what lets SendMessages guarantee close-on-every-exit-path while
// leaving explicitly opened connections alone for reuse.
func ensureOpen(ctx context.Context, b Backend) (func(), error) {
	opened, err := b.Open(ctx)
	if err != nil {
		return nil, err
	}
	if !opened {
		return func() {}, nil
	}
	return func() { _ = b.Close() }, nil
}

// deliverEach runs send for every message, honoring fail-silently semantics.
func deliverEach(ctx context.Context, msgs []*Message, failSilently bool, send func(context.Context, *Message) error) (int, error) {
	sent := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		err := m.validate()
		if err == nil {
			err = send(ctx, m)
		}
		if err != nil {
			if failSilently && errors.Is(err, ErrDelivery) {
				continue
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}
