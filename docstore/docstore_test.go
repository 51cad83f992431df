package docstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gridwise/bundling"
)

func testStores(t *testing.T) map[string]bundling.DocumentStore {
	t.Helper()

	fsStore, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}

	return map[string]bundling.DocumentStore{
		"fs":     fsStore,
		"memory": NewMemory(),
	}
}

func TestDocumentStoreRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := bundling.NewID()
			if err != nil {
				t.Fatalf("new id: %v", err)
			}

			if err := store.Put(ctx, id, strings.NewReader("<Document/>")); err != nil {
				t.Fatalf("put: %v", err)
			}

			reader, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			content, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(content) != "<Document/>" {
				t.Fatalf("unexpected content %q", content)
			}
		})
	}
}

func TestDocumentStorePutOverwrites(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := bundling.NewID()
			if err != nil {
				t.Fatalf("new id: %v", err)
			}

			if err := store.Put(ctx, id, strings.NewReader("first")); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := store.Put(ctx, id, strings.NewReader("second")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			reader, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			content, _ := io.ReadAll(reader)
			reader.Close()
			if string(content) != "second" {
				t.Fatalf("expected overwritten content, got %q", content)
			}
		})
	}
}

func TestDocumentStoreGetMissing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := bundling.NewID()
			if err != nil {
				t.Fatalf("new id: %v", err)
			}
			if _, err := store.Get(context.Background(), id); !errors.Is(err, bundling.ErrDocumentNotFound) {
				t.Fatalf("expected ErrDocumentNotFound, got %v", err)
			}
		})
	}
}

func TestDocumentStoreDeleteIdempotent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := bundling.NewID()
			if err != nil {
				t.Fatalf("new id: %v", err)
			}

			if err := store.Put(ctx, id, strings.NewReader("doc")); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := store.Delete(ctx, id); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := store.Delete(ctx, id); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
			if _, err := store.Get(ctx, id); !errors.Is(err, bundling.ErrDocumentNotFound) {
				t.Fatalf("expected ErrDocumentNotFound after delete, got %v", err)
			}
		})
	}
}

func TestNewFSRequiresRoot(t *testing.T) {
	if _, err := NewFS(""); !errors.Is(err, ErrRootRequired) {
		t.Fatalf("expected ErrRootRequired, got %v", err)
	}
}

func TestMemoryLen(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	id, err := bundling.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	if err := store.Put(ctx, id, strings.NewReader("doc")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 document, got %d", store.Len())
	}
}
