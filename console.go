package mailer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ConsoleConfig configures the console backend.
type ConsoleConfig struct {
	// Output receives the formatted messages. Defaults to os.Stdout.
	Output io.Writer
}

// ConsoleBackend writes each message as readable text to an output stream.
// It is meant for local development. Fail-silently skips invalid messages
// the way other backends do, but a write error on the stream always aborts:
// a broken output is a local fault, not a remote failure to suppress.
type ConsoleBackend struct {
	out          io.Writer
	failSilently bool

	mu     sync.Mutex
	opened bool
}

// NewConsoleBackend creates a console backend writing to cfg.Output.
func NewConsoleBackend(cfg ConsoleConfig, opts ...Option) *ConsoleBackend {
	o := applyOptions(opts)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleBackend{out: out, failSilently: o.failSilently}
}

func consoleFactory(cfg Config) (Backend, error) {
	ccfg, err := configAs[ConsoleConfig](cfg)
	if err != nil {
		return nil, err
	}
	return NewConsoleBackend(ccfg, WithFailSilently(cfg.FailSilently)), nil
}

// Open marks the backend open. There is no real connection.
func (b *ConsoleBackend) Open(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return false, nil
	}
	b.opened = true
	return true, nil
}

// Close marks the backend closed. Safe to call repeatedly.
func (b *ConsoleBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = false
	return nil
}

// SendMessages writes each message to the output stream. The stream write
// is guarded by a mutex so messages from concurrent sends do not interleave.
func (b *ConsoleBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	closeFn, err := ensureOpen(ctx, b)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	// Not deliverEach: stream failures must abort even under fail-silently,
	// while invalid messages are still skipped.
	sent := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := m.validate(); err != nil {
			if b.failSilently {
				continue
			}
			return sent, err
		}
		if err := b.write(ctx, m); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (b *ConsoleBackend) write(_ context.Context, m *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := io.WriteString(b.out, formatMessage(m)); err != nil {
		return newDeliveryError(m, err)
	}
	return nil
}

// formatMessage renders a message as headers, a blank line, the body, and
// a separator line, mirroring what a mail client would show.
func formatMessage(m *Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&sb, "From: %s\n", m.From)
	fmt.Fprintf(&sb, "To: %s\n", strings.Join(m.To, ", "))
	if len(m.CC) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\n", strings.Join(m.CC, ", "))
	}
	if len(m.ReplyTo) > 0 {
		fmt.Fprintf(&sb, "Reply-To: %s\n", strings.Join(m.ReplyTo, ", "))
	}
	for name, value := range m.Headers {
		fmt.Fprintf(&sb, "%s: %s\n", name, value)
	}
	sb.WriteString("\n")
	sb.WriteString(m.Body)
	if !strings.HasSuffix(m.Body, "\n") {
		sb.WriteString("\n")
	}
	for _, alt := range m.Alternatives {
		fmt.Fprintf(&sb, "\n--- alternative (%s) ---\n%s\n", alt.ContentType, alt.Content)
	}
	for _, a := range m.Attachments {
		fmt.Fprintf(&sb, "\n--- attachment: %s (%s, %d bytes) ---\n", a.Filename, a.ContentType, len(a.Content))
	}
	sb.WriteString(strings.Repeat("-", 79) + "\n")
	return sb.String()
}
