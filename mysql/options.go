package mysql

import "github.com/gridwise/bundling"

const (
	defaultPrefix      = "outgoing"
	defaultAddAttempts = 3
)

// Config defines MySQL store behavior.
type Config struct {
	// Prefix names the bundle and message tables <prefix>_bundles and
	// <prefix>_messages.
	Prefix string
	// AddAttempts bounds retries when concurrent enqueues race to create
	// the open bundle for a previously-empty key.
	AddAttempts int
	Clock       bundling.Clock
	Generator   bundling.IDGenerator
	// ValidatePayload enables JSON validation on enqueue.
	ValidatePayload    bool
	validatePayloadSet bool
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.AddAttempts <= 0 {
		c.AddAttempts = defaultAddAttempts
	}
	if c.Clock == nil {
		c.Clock = bundling.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = bundling.UUIDv7Generator{}
	}
	if !c.validatePayloadSet {
		c.ValidatePayload = true
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithPrefix sets the table name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithAddAttempts sets the retry bound for open-bundle creation races.
func WithAddAttempts(attempts int) Option {
	return func(c *Config) {
		c.AddAttempts = attempts
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock bundling.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the id generator.
func WithGenerator(gen bundling.IDGenerator) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}

// WithValidatePayload enables or disables JSON payload validation.
func WithValidatePayload(enabled bool) Option {
	return func(c *Config) {
		c.ValidatePayload = enabled
		c.validatePayloadSet = true
	}
}
