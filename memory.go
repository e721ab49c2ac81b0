package mailer

import (
	"context"
	"sync"
)

// outbox is the process-wide record of every message sent through the
// memory backend. It is deliberately global so tests can inspect what an
// application under test sent without threading a backend handle through.
// Test-only state: never use the memory backend in production.
var outbox = struct {
	mu   sync.Mutex
	msgs []*Message
}{}

// Outbox returns a snapshot of all messages sent through the memory
// backend, in send order. The returned slice is a copy; mutating it does
// not affect the outbox.
func Outbox() []*Message {
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	msgs := make([]*Message, len(outbox.msgs))
	copy(msgs, outbox.msgs)
	return msgs
}

// ClearOutbox removes all recorded messages. Call between test cases.
func ClearOutbox() {
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	outbox.msgs = nil
}

// MemoryBackend records messages in the shared outbox instead of
// delivering them. Unlike other backends, concurrent sends are safe: the
// outbox append is mutex-guarded and ordering within one SendMessages call
// is preserved.
type MemoryBackend struct {
	failSilently bool

	mu     sync.Mutex
	opened bool
}

// NewMemoryBackend creates a memory backend. Recording cannot fail, so
// fail-silently only affects invalid messages rejected at send time.
func NewMemoryBackend(opts ...Option) *MemoryBackend {
	o := applyOptions(opts)
	return &MemoryBackend{failSilently: o.failSilently}
}

func memoryFactory(cfg Config) (Backend, error) {
	return NewMemoryBackend(WithFailSilently(cfg.FailSilently)), nil
}

// Open marks the backend open. There is no real connection.
func (b *MemoryBackend) Open(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return false, nil
	}
	b.opened = true
	return true, nil
}

// Close marks the backend closed. Safe to call repeatedly.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	return nil
}

// SendMessages appends every message to the shared outbox and reports all
// of them as sent.
func (b *MemoryBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	closeFn, err := ensureOpen(ctx, b)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	return deliverEach(ctx, msgs, b.failSilently, func(_ context.Context, m *Message) error {
		outbox.mu.Lock()
		outbox.msgs = append(outbox.msgs, m)
		outbox.mu.Unlock()
		return nil
	})
}
