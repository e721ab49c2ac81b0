package mailer

import (
	"context"
	"log/slog"
)

// Service is the delivery façade: a backend bound to a default sender
// identity. Messages without an explicit From get the default before
// delegation to the backend.
//
// A Service is as concurrency-safe as its backend — acquire one per
// goroutine unless the backend documents otherwise.
type Service struct {
	backend   Backend
	fromEmail string
	fromName  string
	log       *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger attaches a structured logger; sends are logged at debug
// level, delivery failures at warn. The default discards everything.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService creates a service around an already-constructed backend.
func NewService(backend Backend, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		backend:   backend,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Service resolves the configured backend and returns a ready-to-use
// service for one-off sending: every Send opens and closes the underlying
// connection around the call. For batch sending, use Batch.
func (c Config) Service(opts ...ServiceOption) (*Service, error) {
	backend, err := c.NewBackend()
	if err != nil {
		return nil, err
	}
	return NewService(backend, c, opts...), nil
}

// Batch runs fn with a scope-managed service: the connection is opened
// once before fn, reused by every Send inside it, and closed exactly once
// when fn returns — normally, with an error, or by panic. Use this when
// sending several batches over one connection:
//
//	err := cfg.Batch(ctx, func(svc *mailer.Service) error {
//		for _, m := range newsletters {
//			if _, err := svc.Send(ctx, m); err != nil {
//				return err
//			}
//		}
//		return nil
//	})
func (c Config) Batch(ctx context.Context, fn func(*Service) error, opts ...ServiceOption) error {
	svc, err := c.Service(opts...)
	if err != nil {
		return err
	}
	opened, err := svc.backend.Open(ctx)
	if err != nil {
		return err
	}
	if opened {
		defer func() { _ = svc.backend.Close() }()
	}
	return fn(svc)
}

// Backend returns the underlying backend, e.g. to open it explicitly for
// connection reuse outside Batch.
func (s *Service) Backend() Backend {
	return s.backend
}

// Send delivers the given messages, filling any missing From with the
// default sender first. It returns the number delivered; see
// Backend.SendMessages for error and fail-silently semantics.
func (s *Service) Send(ctx context.Context, msgs ...*Message) (int, error) {
	for _, m := range msgs {
		if m.From == "" {
			m.From = Recipient(s.fromName, s.fromEmail)
		}
	}

	sent, err := s.backend.SendMessages(ctx, msgs)
	if err != nil {
		s.log.WarnContext(ctx, "send failed", "sent", sent, "total", len(msgs), "error", err)
		return sent, err
	}
	s.log.DebugContext(ctx, "messages sent", "sent", sent, "total", len(msgs))
	return sent, nil
}
