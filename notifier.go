package bundling

import "context"

// Notifier announces that a bundle's document is ready for retrieval.
// Notifications are best-effort: the bundling pass logs failures and moves
// on, since actors also discover ready bundles by polling Peek.
type Notifier interface {
	// BundleReady publishes a readiness event for the bundle.
	BundleReady(ctx context.Context, bundle Bundle) error
}

// NopNotifier is a no-op notifier.
type NopNotifier struct{}

// BundleReady implements Notifier.
func (NopNotifier) BundleReady(context.Context, Bundle) error {
	return nil
}
