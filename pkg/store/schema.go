package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Migrate creates the catalog schema if it does not exist. The DDL is
// shared between sqlite3 and postgres apart from the auto-increment
// primary key column type.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			picture TEXT NOT NULL DEFAULT ''
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS categories (
			id %s,
			name TEXT NOT NULL
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subcategories (
			id %s,
			name TEXT NOT NULL,
			category_id BIGINT NOT NULL REFERENCES categories(id)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS items (
			id %s,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category_id BIGINT NOT NULL REFERENCES categories(id),
			subcategory_id BIGINT REFERENCES subcategories(id),
			added TIMESTAMP NOT NULL,
			updated TIMESTAMP NOT NULL
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS item_images (
			id %s,
			item_id BIGINT NOT NULL UNIQUE REFERENCES items(id),
			filename TEXT NOT NULL
		)`, idCol),
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_type TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			user_id BIGINT NOT NULL DEFAULT 0,
			csrf_state TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subcategories_category ON subcategories(category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_subcategory ON items(subcategory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
