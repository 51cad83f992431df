package bundling

import "fmt"

// Key identifies one actor message queue. While open, at most one bundle
// exists per key; ready bundles for a key are delivered oldest-first.
type Key struct {
	// ActorNumber is the receiving market participant identifier (GLN/EIC).
	ActorNumber string
	// ActorRole is the receiver's market role (e.g. "EnergySupplier").
	ActorRole string
	// Category classifies the business content (e.g. "Aggregations").
	Category string
	// Format names the wire format the receiver wants (e.g. "XML").
	Format string
}

// Validate checks that all key components are present.
func (k Key) Validate() error {
	if k.ActorNumber == "" {
		return ErrActorNumberRequired
	}
	if k.ActorRole == "" {
		return ErrActorRoleRequired
	}
	if k.Category == "" {
		return ErrCategoryRequired
	}
	if k.Format == "" {
		return ErrFormatRequired
	}

	return nil
}

// String renders the key for logging.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.ActorNumber, k.ActorRole, k.Category, k.Format)
}
