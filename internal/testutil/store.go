package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/store"
)

// NewStore creates an in-memory SQLiteStore for testing.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewInventoryStore returns an in-memory store with the inventory and
// correlation schema applied.
func NewInventoryStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db := NewStore(t)
	if err := db.Migrate(context.Background(), services.PluginName, services.Migrations()); err != nil {
		t.Fatalf("testutil.NewInventoryStore: migrate: %v", err)
	}
	return db
}
