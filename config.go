package mailer

// Config is the top-level delivery configuration: which backend to use,
// the default sender identity, and the keys under which a web framework
// exposes the service in dependency injection and shared state.
//
// The backend is selected by name with transport settings carried in
// BackendConfig (one of ConsoleConfig, SMTPConfig, ResendConfig,
// SendGridConfig, MailgunConfig, or whatever a registered custom factory
// expects). A nil BackendConfig uses the backend's defaults.
//
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Backend       string `env:"MAILER_BACKEND" envDefault:"console"`
	FromEmail     string `env:"MAILER_FROM_EMAIL" envDefault:"noreply@localhost"`
	FromName      string `env:"MAILER_FROM_NAME"`
	FailSilently  bool   `env:"MAILER_FAIL_SILENTLY"`
	DependencyKey string `env:"MAILER_DEPENDENCY_KEY" envDefault:"mailer"`
	StateKey      string `env:"MAILER_STATE_KEY" envDefault:"mailer"`
	BackendConfig any
}

// NewBackend instantiates the configured backend.
func (c Config) NewBackend() (Backend, error) {
	return NewBackend(c.Backend, c)
}

// DefaultFrom returns the configured default sender in RFC 5322 format.
func (c Config) DefaultFrom() string {
	return Recipient(c.FromName, c.FromEmail)
}
