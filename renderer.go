package bundling

import "context"

// DocumentRenderer turns a sealed bundle's ordered messages into one
// wire-format document. Implementations must be deterministic: rendering the
// same sealed bundle twice yields byte-identical output, so a retried render
// after a crash overwrites the stored document with the same content.
type DocumentRenderer interface {
	// Render produces the document bytes for the bundle.
	Render(ctx context.Context, bundle Bundle, messages []QueuedMessage) ([]byte, error)
}

// RendererFunc adapts a function to DocumentRenderer.
type RendererFunc func(ctx context.Context, bundle Bundle, messages []QueuedMessage) ([]byte, error)

// Render implements DocumentRenderer.
func (fn RendererFunc) Render(ctx context.Context, bundle Bundle, messages []QueuedMessage) ([]byte, error) {
	return fn(ctx, bundle, messages)
}

// RendererResolver selects the renderer for a document format. The engine
// never branches on format itself; see the render package for a registry
// implementation.
type RendererResolver interface {
	// Renderer returns the renderer registered for the format, or
	// ErrUnknownFormat.
	Renderer(format string) (DocumentRenderer, error)
}
