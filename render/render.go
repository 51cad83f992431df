// Package render provides document renderers per wire format and a registry
// the bundling engine resolves them from.
package render

import (
	"fmt"
	"strings"

	"github.com/gridwise/bundling"
)

// Format names understood by the default registry.
const (
	FormatXML  = "XML"
	FormatJSON = "JSON"
)

// Registry maps document formats to renderers. Lookups are case-insensitive.
// Registration must happen during initialization; lookups are safe from
// concurrent goroutines afterwards.
type Registry struct {
	renderers map[string]bundling.DocumentRenderer
}

var _ bundling.RendererResolver = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]bundling.DocumentRenderer)}
}

// Default returns a registry with the XML and JSON renderers registered.
func Default() *Registry {
	reg := NewRegistry()
	reg.Register(FormatXML, XMLRenderer{})
	reg.Register(FormatJSON, JSONRenderer{})

	return reg
}

// Register stores the renderer under the format name, replacing any previous
// registration.
func (r *Registry) Register(format string, renderer bundling.DocumentRenderer) {
	if renderer == nil {
		panic("render: cannot register a nil renderer")
	}
	if format == "" {
		panic("render: cannot register a renderer with an empty format")
	}
	r.renderers[strings.ToLower(format)] = renderer
}

// Renderer returns the renderer registered for the format.
func (r *Registry) Renderer(format string) (bundling.DocumentRenderer, error) {
	renderer, ok := r.renderers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", bundling.ErrUnknownFormat, format)
	}

	return renderer, nil
}
