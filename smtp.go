package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SMTPConfig configures the SMTP backend.
//
// UseTLS and UseSSL select the connection mode and are mutually exclusive:
// UseTLS upgrades a plaintext connection via STARTTLS (typically port 587),
// UseSSL connects over implicit TLS from the first byte (typically port
// 465). Setting both is rejected at open time. Leaving both false gives a
// plaintext connection, which is only appropriate for local relays such as
// Mailpit.
//
// Embed this in your app config for env parsing with caarlos0/env.
type SMTPConfig struct {
	Host     string        `env:"MAILER_SMTP_HOST" envDefault:"localhost"`
	Port     int           `env:"MAILER_SMTP_PORT" envDefault:"25"`
	Username string        `env:"MAILER_SMTP_USERNAME"`
	Password string        `env:"MAILER_SMTP_PASSWORD"`
	UseTLS   bool          `env:"MAILER_SMTP_USE_TLS"`
	UseSSL   bool          `env:"MAILER_SMTP_USE_SSL"`
	Timeout  time.Duration `env:"MAILER_SMTP_TIMEOUT" envDefault:"30s"`

	// LocalName is the hostname sent in EHLO. Defaults to "localhost".
	LocalName string `env:"MAILER_SMTP_LOCAL_NAME"`

	// InsecureSkipVerify disables TLS certificate verification.
	// For test fixtures with self-signed certificates only.
	InsecureSkipVerify bool `env:"MAILER_SMTP_INSECURE_SKIP_VERIFY"`
}

func (c SMTPConfig) withDefaults() SMTPConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 25
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LocalName == "" {
		c.LocalName = "localhost"
	}
	return c
}

// SMTPBackend delivers mail over a socket-based SMTP session. A batch of N
// messages costs one connection setup plus N submissions: the session
// opened by Open (or implicitly by SendMessages) is reused for every
// message until Close.
type SMTPBackend struct {
	cfg          SMTPConfig
	failSilently bool

	mu     sync.Mutex
	client *smtp.Client
}

// NewSMTPBackend creates an SMTP backend. No connection is made until
// Open or the first SendMessages call.
func NewSMTPBackend(cfg SMTPConfig, opts ...Option) *SMTPBackend {
	o := applyOptions(opts)
	return &SMTPBackend{cfg: cfg.withDefaults(), failSilently: o.failSilently}
}

func smtpFactory(cfg Config) (Backend, error) {
	scfg, err := configAs[SMTPConfig](cfg)
	if err != nil {
		return nil, err
	}
	return NewSMTPBackend(scfg, WithFailSilently(cfg.FailSilently)), nil
}

// Open dials the server, performs the TLS handshake according to the
// configured mode, and authenticates when both username and password are
// set. Reports true only when this call established the session.
func (b *SMTPBackend) Open(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return false, nil
	}
	if b.cfg.UseTLS && b.cfg.UseSSL {
		return false, fmt.Errorf("%w: UseTLS and UseSSL are mutually exclusive, pick STARTTLS or implicit TLS", ErrBackend)
	}

	client, err := b.connect(ctx)
	if err != nil {
		return false, err
	}

	if b.cfg.Username != "" && b.cfg.Password != "" {
		auth := smtp.PlainAuth("", b.cfg.Username, b.cfg.Password, b.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Quit()
			return false, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
	}

	b.client = client
	return true, nil
}

// connect establishes the TCP (or TLS) connection and completes EHLO and
// the optional STARTTLS upgrade.
func (b *SMTPBackend) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
	dialer := &net.Dialer{Timeout: b.cfg.Timeout}

	var conn net.Conn
	var err error
	if b.cfg.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: b.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	client, err := smtp.NewClient(conn, b.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := client.Hello(b.cfg.LocalName); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: EHLO: %v", ErrConnection, err)
	}

	if b.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Quit()
			return nil, fmt.Errorf("%w: server does not support STARTTLS", ErrConnection)
		}
		if err := client.StartTLS(b.tlsConfig()); err != nil {
			_ = client.Quit()
			return nil, fmt.Errorf("%w: STARTTLS: %v", ErrConnection, err)
		}
	}

	return client, nil
}

func (b *SMTPBackend) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         b.cfg.Host,
		InsecureSkipVerify: b.cfg.InsecureSkipVerify,
	}
}

// Close quits the SMTP session. Safe to call repeatedly or before Open.
func (b *SMTPBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Quit()
	b.client = nil
	if err != nil {
		return fmt.Errorf("%w: quit: %v", ErrConnection, err)
	}
	return nil
}

// SendMessages submits each message within one open session.
func (b *SMTPBackend) SendMessages(ctx context.Context, msgs []*Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	closeFn, err := ensureOpen(ctx, b)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	return deliverEach(ctx, msgs, b.failSilently, b.submit)
}

// submit runs one MAIL FROM / RCPT TO / DATA transaction.
func (b *SMTPBackend) submit(_ context.Context, m *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return fmt.Errorf("%w: smtp session not open", ErrConnection)
	}

	raw, err := renderMIME(m)
	if err != nil {
		return newDeliveryError(m, err)
	}

	from, err := envelopeFrom(m.From)
	if err != nil {
		return newDeliveryError(m, err)
	}
	if err := b.client.Mail(from); err != nil {
		return b.abort(m, fmt.Errorf("MAIL FROM: %v", err))
	}
	for _, rcpt := range m.Recipients() {
		addr, err := envelopeFrom(rcpt)
		if err != nil {
			return b.abort(m, err)
		}
		if err := b.client.Rcpt(addr); err != nil {
			return b.abort(m, fmt.Errorf("RCPT TO %s: %v", addr, err))
		}
	}

	w, err := b.client.Data()
	if err != nil {
		return b.abort(m, fmt.Errorf("DATA: %v", err))
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return newDeliveryError(m, err)
	}
	if err := w.Close(); err != nil {
		return newDeliveryError(m, err)
	}
	return nil
}

// abort discards the in-progress mail transaction with RSET before
// reporting the failure. Without it the next MAIL on the same session gets
// "503 bad sequence of commands" from a conforming server. Caller holds
// b.mu.
func (b *SMTPBackend) abort(m *Message, err error) error {
	_ = b.client.Reset()
	return newDeliveryError(m, err)
}

// envelopeFrom extracts the bare address from an RFC 5322 formatted one:
// "Name <a@b>" becomes "a@b".
func envelopeFrom(addr string) (string, error) {
	if i := strings.LastIndexByte(addr, '<'); i != -1 {
		end := strings.LastIndexByte(addr, '>')
		if end <= i {
			return "", fmt.Errorf("malformed address %q", addr)
		}
		return addr[i+1 : end], nil
	}
	return addr, nil
}
