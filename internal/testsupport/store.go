package testsupport

import (
	"context"
	"testing"

	"tractkit/internal/manifest"
)

// MustOpenManifest opens the manifest of dir for tests and registers cleanup.
func MustOpenManifest(t testing.TB, dir string) *manifest.Store {
	t.Helper()

	store, err := manifest.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
