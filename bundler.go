package bundling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// PassStats summarizes one bundling pass.
type PassStats struct {
	Sealed         int
	Rendered       int
	RenderFailures int
}

// Bundler seals open bundles that breach a threshold and renders one
// document per sealed bundle. It is driven either by Run on a fixed interval
// or by an external scheduler calling RunPass.
type Bundler struct {
	store     Store
	renderers RendererResolver
	docs      DocumentStore
	cfg       BundlerConfig

	gaugeMu sync.Mutex
	gaugeAt time.Time
}

// NewBundler constructs a Bundler with defaults and optional settings.
func NewBundler(store Store, renderers RendererResolver, docs DocumentStore, opts ...BundlerOption) *Bundler {
	if store == nil {
		panic("bundling: nil Store")
	}
	if renderers == nil {
		panic("bundling: nil RendererResolver")
	}
	if docs == nil {
		panic("bundling: nil DocumentStore")
	}

	var cfg BundlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Bundler{
		store:     store,
		renderers: renderers,
		docs:      docs,
		cfg:       cfg,
	}
}

// Limits returns the configured closing thresholds.
func (b *Bundler) Limits() Limits {
	return b.cfg.Limits
}

// Run executes bundling passes on the configured interval until the context
// is cancelled. Pass failures are logged and retried on the next tick.
func (b *Bundler) Run(ctx context.Context) error {
	for {
		if _, err := b.runPassSafe(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.cfg.Logger.Error("bundling pass failed", "err", err)
		}

		if err := sleepContext(ctx, b.cfg.PassInterval); err != nil {
			return err
		}
	}
}

// RunPass executes a single bundling pass: seal every open bundle breaching
// a limit, then render and link all sealed bundles without a document.
func (b *Bundler) RunPass(ctx context.Context) (PassStats, error) {
	start := time.Now()
	defer func() {
		b.cfg.Metrics.ObservePassDuration(time.Since(start))
	}()

	var stats PassStats

	now := b.cfg.Clock.Now()
	sealed, err := b.store.SealDue(ctx, b.cfg.Limits, now)
	if err != nil {
		return stats, fmt.Errorf("bundling seal failed: %w", err)
	}
	stats.Sealed = len(sealed)
	b.cfg.Metrics.AddSealed(len(sealed))
	for _, bundle := range sealed {
		b.cfg.Logger.Debug("bundle sealed",
			"bundle", bundle.ID, "key", bundle.Key.String(),
			"messages", bundle.MessageCount, "data_points", bundle.DataPointCount)
	}

	rendered, failures, err := b.renderPending(ctx)
	stats.Rendered = rendered
	stats.RenderFailures = failures
	if err != nil {
		return stats, err
	}

	b.maybeRecordGauges(ctx)

	return stats, nil
}

// RenderPending renders and links every sealed bundle that has no document
// yet. It is the eager half of a bundling pass, called by Queue.Enqueue when
// a hard cap seals a bundle mid-interval.
func (b *Bundler) RenderPending(ctx context.Context) (int, error) {
	rendered, _, err := b.renderPending(ctx)

	return rendered, err
}

func (b *Bundler) renderPending(ctx context.Context) (rendered, failures int, err error) {
	// Bundles whose render failed stay unrendered and would be returned
	// again by the next fetch; skip them for the rest of this pass.
	failed := make(map[ID]struct{})

	for {
		bundles, err := b.store.Unrendered(ctx, b.cfg.RenderBatch)
		if err != nil {
			return rendered, failures, fmt.Errorf("bundling unrendered fetch failed: %w", err)
		}

		progress := false
		for _, bundle := range bundles {
			if err := ctx.Err(); err != nil {
				return rendered, failures, err
			}
			if _, ok := failed[bundle.ID]; ok {
				continue
			}

			if err := b.renderOne(ctx, bundle); err != nil {
				if ctx.Err() != nil {
					return rendered, failures, ctx.Err()
				}
				failed[bundle.ID] = struct{}{}
				failures++
				b.cfg.Metrics.AddRenderFailures(1)
				b.cfg.Logger.Warn("bundle render failed, will retry next pass",
					"bundle", bundle.ID, "key", bundle.Key.String(), "err", err)

				continue
			}

			rendered++
			progress = true
			b.cfg.Metrics.AddRendered(1)
		}

		if !progress || len(bundles) < b.cfg.RenderBatch {
			return rendered, failures, nil
		}
	}
}

// renderOne renders the bundle's messages, writes the document, and links it
// to the bundle record. The write happens before the link so a crash in
// between leaves an unlinked document that the retry simply overwrites.
func (b *Bundler) renderOne(ctx context.Context, bundle Bundle) error {
	renderer, err := b.renderers.Renderer(bundle.Key.Format)
	if err != nil {
		return err
	}

	messages, err := b.store.BundleMessages(ctx, bundle.ID)
	if err != nil {
		return fmt.Errorf("bundling messages fetch failed: %w", err)
	}

	content, err := renderer.Render(ctx, bundle, messages)
	if err != nil {
		return fmt.Errorf("bundling render failed: %w", err)
	}

	err = b.cfg.PutRetry.Do(ctx, func(ctx context.Context) error {
		return b.docs.Put(ctx, bundle.ID, bytes.NewReader(content))
	})
	if err != nil {
		return fmt.Errorf("bundling document write failed: %w", err)
	}

	if err := b.store.LinkDocument(ctx, bundle.ID, bundle.ID.String()); err != nil {
		return fmt.Errorf("bundling document link failed: %w", err)
	}

	if err := b.cfg.Notifier.BundleReady(ctx, bundle); err != nil {
		b.cfg.Logger.Warn("bundle ready notification failed",
			"bundle", bundle.ID, "key", bundle.Key.String(), "err", err)
	}

	return nil
}

func (b *Bundler) runPassSafe(ctx context.Context) (stats PassStats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Join(err, fmt.Errorf("%w: %v", ErrPassPanic, rec))
		}
	}()

	return b.RunPass(ctx)
}

func (b *Bundler) maybeRecordGauges(ctx context.Context) {
	if b.cfg.GaugeInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := b.cfg.Clock.Now()
	b.gaugeMu.Lock()
	nextAllowed := b.gaugeAt.Add(b.cfg.GaugeInterval)
	if !b.gaugeAt.IsZero() && now.Before(nextAllowed) {
		b.gaugeMu.Unlock()

		return
	}
	b.gaugeAt = now
	b.gaugeMu.Unlock()

	if counter, ok := b.store.(OpenCounter); ok {
		count, err := counter.OpenCount(ctx)
		if err != nil {
			b.cfg.Logger.Warn("open bundle count failed", "err", err)
		} else {
			b.cfg.Metrics.SetOpenBundles(count)
		}
	}
	if counter, ok := b.store.(ReadyCounter); ok {
		count, err := counter.ReadyCount(ctx)
		if err != nil {
			b.cfg.Logger.Warn("ready bundle count failed", "err", err)
		} else {
			b.cfg.Metrics.SetReadyBundles(count)
		}
	}
}
