package bundling

import "time"

// Default thresholds. MaxDataPoints is sized so a rendered bundle stays
// safely under the downstream transport size limit.
const (
	DefaultMaxBundleAge  = 300 * time.Second
	DefaultMaxMessages   = 2000
	DefaultMaxDataPoints = 150000
	DefaultPeekLockTTL   = 2 * time.Minute

	defaultPassInterval  = 30 * time.Second
	defaultRenderBatch   = 100
	defaultGaugeInterval = 0
)

// BundlerConfig defines how the Bundler seals and renders bundles.
type BundlerConfig struct {
	Limits        Limits
	PassInterval  time.Duration
	RenderBatch   int
	PutRetry      RetryPolicy
	Clock         Clock
	Logger        Logger
	Metrics       Metrics
	Notifier      Notifier
	GaugeInterval time.Duration
}

func (c BundlerConfig) withDefaults() BundlerConfig {
	c.Limits = c.Limits.WithDefaults()
	if c.PassInterval <= 0 {
		c.PassInterval = defaultPassInterval
	}
	if c.RenderBatch <= 0 {
		c.RenderBatch = defaultRenderBatch
	}
	c.PutRetry = c.PutRetry.withDefaults()
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.Notifier == nil {
		c.Notifier = NopNotifier{}
	}
	if c.GaugeInterval < 0 {
		c.GaugeInterval = defaultGaugeInterval
	}

	return c
}

// BundlerOption configures Bundler behavior.
type BundlerOption func(*BundlerConfig)

// WithLimits sets the bundle closing thresholds.
func WithLimits(limits Limits) BundlerOption {
	return func(c *BundlerConfig) {
		c.Limits = limits
	}
}

// WithPassInterval sets the delay between periodic bundling passes.
func WithPassInterval(interval time.Duration) BundlerOption {
	return func(c *BundlerConfig) {
		c.PassInterval = interval
	}
}

// WithRenderBatch sets how many unrendered bundles are fetched per round.
func WithRenderBatch(size int) BundlerOption {
	return func(c *BundlerConfig) {
		c.RenderBatch = size
	}
}

// WithPutRetry sets the retry policy for document store writes.
func WithPutRetry(policy RetryPolicy) BundlerOption {
	return func(c *BundlerConfig) {
		c.PutRetry = policy
	}
}

// WithClock sets the Bundler clock.
func WithClock(clock Clock) BundlerOption {
	return func(c *BundlerConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the bundler logger.
func WithLogger(logger Logger) BundlerOption {
	return func(c *BundlerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the bundler metrics recorder.
func WithMetrics(metrics Metrics) BundlerOption {
	return func(c *BundlerConfig) {
		c.Metrics = metrics
	}
}

// WithNotifier sets the bundle-ready notifier.
func WithNotifier(notifier Notifier) BundlerOption {
	return func(c *BundlerConfig) {
		c.Notifier = notifier
	}
}

// WithGaugeInterval sets the minimum interval between open/ready gauge
// samples. Use a positive value to enable sampling or zero to keep it
// disabled. The default is disabled.
func WithGaugeInterval(interval time.Duration) BundlerOption {
	return func(c *BundlerConfig) {
		c.GaugeInterval = interval
	}
}

// QueueConfig defines Queue (enqueue/peek/dequeue) behavior.
type QueueConfig struct {
	Limits      Limits
	PeekLockTTL time.Duration
	Clock       Clock
	Logger      Logger
	Metrics     Metrics
	// TokenFunc generates peek lock tokens. Overridable for tests.
	TokenFunc func() string
}

func (c QueueConfig) withDefaults() QueueConfig {
	c.Limits = c.Limits.WithDefaults()
	if c.PeekLockTTL <= 0 {
		c.PeekLockTTL = DefaultPeekLockTTL
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.TokenFunc == nil {
		c.TokenFunc = newLockToken
	}

	return c
}

// QueueOption configures Queue behavior.
type QueueOption func(*QueueConfig)

// WithQueueLimits sets the thresholds used for cap-triggered sealing during
// enqueue. Keep these aligned with the Bundler's limits.
func WithQueueLimits(limits Limits) QueueOption {
	return func(c *QueueConfig) {
		c.Limits = limits
	}
}

// WithPeekLockTTL sets how long a peek lock excludes other consumers before
// it is reclaimed.
func WithPeekLockTTL(ttl time.Duration) QueueOption {
	return func(c *QueueConfig) {
		c.PeekLockTTL = ttl
	}
}

// WithQueueClock sets the Queue clock.
func WithQueueClock(clock Clock) QueueOption {
	return func(c *QueueConfig) {
		c.Clock = clock
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(logger Logger) QueueOption {
	return func(c *QueueConfig) {
		c.Logger = logger
	}
}

// WithQueueMetrics sets the queue metrics recorder.
func WithQueueMetrics(metrics Metrics) QueueOption {
	return func(c *QueueConfig) {
		c.Metrics = metrics
	}
}

// WithTokenFunc sets the peek lock token generator.
func WithTokenFunc(fn func() string) QueueOption {
	return func(c *QueueConfig) {
		c.TokenFunc = fn
	}
}
