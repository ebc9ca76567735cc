package testutil

import (
	"testing"

	"reel-go/internal/docstore"
	"reel-go/internal/reel"
)

// NewTestMetadataStore creates an in-memory SQLite document store with the
// schema migrated. The store is closed when the test completes.
func NewTestMetadataStore(t *testing.T, clock reel.Clock, idgen reel.IDGenerator) *docstore.SQLStore {
	t.Helper()

	store, err := docstore.NewSQLiteStore(":memory:", clock, idgen)
	if err != nil {
		t.Fatalf("failed to open metadata store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
