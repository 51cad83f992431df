package bundling

import "time"

// Metrics captures engine-level telemetry.
type Metrics interface {
	// AddEnqueued increments the count of accepted messages.
	AddEnqueued(count int)
	// AddDuplicates increments the count of idempotent enqueue no-ops.
	AddDuplicates(count int)
	// AddSealed increments the count of sealed bundles.
	AddSealed(count int)
	// AddRendered increments the count of rendered and linked documents.
	AddRendered(count int)
	// AddRenderFailures increments the count of failed render attempts.
	AddRenderFailures(count int)
	// AddPeeked increments the count of successful peeks.
	AddPeeked(count int)
	// AddDequeued increments the count of acknowledged bundles.
	AddDequeued(count int)
	// ObservePassDuration records the time spent in one bundling pass.
	ObservePassDuration(duration time.Duration)
	// SetOpenBundles updates the current open bundle count.
	SetOpenBundles(count int)
	// SetReadyBundles updates the current ready bundle count.
	SetReadyBundles(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddEnqueued implements Metrics.
func (NopMetrics) AddEnqueued(int) {}

// AddDuplicates implements Metrics.
func (NopMetrics) AddDuplicates(int) {}

// AddSealed implements Metrics.
func (NopMetrics) AddSealed(int) {}

// AddRendered implements Metrics.
func (NopMetrics) AddRendered(int) {}

// AddRenderFailures implements Metrics.
func (NopMetrics) AddRenderFailures(int) {}

// AddPeeked implements Metrics.
func (NopMetrics) AddPeeked(int) {}

// AddDequeued implements Metrics.
func (NopMetrics) AddDequeued(int) {}

// ObservePassDuration implements Metrics.
func (NopMetrics) ObservePassDuration(time.Duration) {}

// SetOpenBundles implements Metrics.
func (NopMetrics) SetOpenBundles(int) {}

// SetReadyBundles implements Metrics.
func (NopMetrics) SetReadyBundles(int) {}
