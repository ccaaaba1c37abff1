// Package plugin defines the contracts shared by NetCorrelate modules:
// persistence, schema migrations, and the in-process event bus.
package plugin

import (
	"context"
	"database/sql"
)

// Migration is a single forward-only schema change owned by a module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the persistence handle given to modules.
type Store interface {
	// DB returns the shared database handle.
	DB() *sql.DB

	// Tx runs fn inside a transaction, committing on nil and rolling back otherwise.
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Migrate applies the named module's pending migrations in order.
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}
