// Package mailer provides pluggable email delivery behind a single
// backend contract, with built-in console, in-memory, SMTP, Resend,
// SendGrid, and Mailgun backends.
//
// # Architecture
//
// The package consists of four main components:
//
//   - Message: the email value object (subject, bodies, recipients,
//     attachments, alternatives)
//   - Backend: the capability contract transports implement
//     (Open/Close/SendMessages)
//   - Service: the delivery façade binding a backend to a default sender
//   - Renderer: composes messages from markdown templates with YAML
//     frontmatter
//
// # Usage
//
// One-off sending through the configured backend:
//
//	cfg := mailer.Config{
//		Backend:   "smtp",
//		FromEmail: "noreply@example.com",
//		FromName:  "Example",
//		BackendConfig: mailer.SMTPConfig{
//			Host:   "smtp.example.com",
//			Port:   587,
//			UseTLS: true,
//		},
//	}
//
//	svc, err := cfg.Service()
//	if err != nil {
//		return err
//	}
//	msg := mailer.NewMessage("Welcome!", "Thanks for signing up.", "user@example.com")
//	if _, err := svc.Send(ctx, msg); err != nil {
//		return err
//	}
//
// Batch sending over one connection:
//
//	err := cfg.Batch(ctx, func(svc *mailer.Service) error {
//		_, err := svc.Send(ctx, messages...)
//		return err
//	})
//
// # Backends
//
// A backend is selected by registry name ("console", "memory", "smtp",
// "resend", "sendgrid", "mailgun") with transport settings carried in
// Config.BackendConfig. Custom transports implement Backend and plug in
// via Register.
//
// The console backend prints messages to a writer for local development.
// The memory backend records messages in a process-wide outbox for tests;
// inspect it with Outbox and reset it with ClearOutbox. Both are
// development doubles, never production transports.
//
// # Error handling
//
// Every backend maps its transport errors onto five sentinel kinds, so
// handling code stays transport-agnostic:
//
//   - ErrBackend: misconfiguration; fix the config
//   - ErrConnection: transport-level connect failure; retryable
//   - ErrAuthentication: rejected credentials; fix the credentials
//   - ErrDelivery: a specific send was rejected; inspect the cause
//   - ErrRateLimit: provider throttling; retry after the carried delay
//
// DeliveryError and RateLimitError carry structured context (subject,
// recipients, status code, retry-after) and match their sentinels via
// errors.Is. The package never retries on its own: catch ErrRateLimit or
// ErrConnection and decide, informed by RateLimitError.RetryAfter.
//
// WithFailSilently(true) converts per-message delivery failures into
// silently skipped sends excluded from the returned count. Configuration,
// connection, and authentication errors always propagate.
//
// # Connection reuse
//
// SendMessages on a closed backend opens before sending and closes after,
// on every exit path. Opening explicitly (or via Config.Batch) keeps the
// connection for reuse across calls; the scope that opened it closes it
// exactly once. Close is always idempotent.
//
// # Templates
//
// Renderer turns markdown templates with YAML frontmatter into complete
// messages: the processed markdown is the plain text body, and its HTML
// conversion, sanitized and wrapped in an html/template layout, rides
// along as the text/html alternative:
//
//	---
//	Subject: Welcome {{.Name}}!
//	---
//
//	# Welcome
//
//	Hello {{.Name}}, glad to have you.
//
//	r := mailer.NewRenderer(emails.FS, mailer.RendererConfig{})
//	msg, err := r.Compose(mailer.ComposeParams{
//		To:       []string{"user@example.com"},
//		Template: "welcome.md",
//		Layout:   "base.html",
//		Data:     map[string]any{"Name": "Alice"},
//	})
package mailer
