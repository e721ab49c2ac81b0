package mailer

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a backend bound to the given configuration. The factory
// reads its transport settings from cfg.BackendConfig and the fail-silently
// flag from cfg.FailSilently.
type Factory func(cfg Config) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{
		"console":  consoleFactory,
		"memory":   memoryFactory,
		"smtp":     smtpFactory,
		"resend":   resendFactory,
		"sendgrid": sendGridFactory,
		"mailgun":  mailgunFactory,
	},
}

// Register adds a backend factory under the given name, replacing any
// existing registration. Third parties use this to plug custom transports
// into NewBackend and Config-driven service acquisition:
//
//	mailer.Register("null", func(cfg mailer.Config) (mailer.Backend, error) {
//		return &NullBackend{}, nil
//	})
func Register(name string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend resolves name against the registry and instantiates the
// backend with cfg. An empty name falls back to cfg.Backend, then to
// "console". Unknown names fail with ErrBackend listing what is available;
// there is no import-path fallback — custom backends must be registered
// first.
func NewBackend(name string, cfg Config) (Backend, error) {
	if name == "" {
		name = cfg.Backend
	}
	if name == "" {
		name = "console"
	}

	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q, available: %v", ErrBackend, name, Backends())
	}
	return factory(cfg)
}

// configAs extracts the typed per-backend configuration from cfg. A nil
// BackendConfig yields the zero value so every backend works with defaults;
// a mismatched type is a configuration error.
func configAs[T any](cfg Config) (T, error) {
	var zero T
	if cfg.BackendConfig == nil {
		return zero, nil
	}
	v, ok := cfg.BackendConfig.(T)
	if !ok {
		return zero, fmt.Errorf("%w: backend config is %T, want %T", ErrBackend, cfg.BackendConfig, zero)
	}
	return v, nil
}
