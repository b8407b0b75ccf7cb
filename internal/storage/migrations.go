package storage

import (
	"context"
	"fmt"
)

// Migrate creates all necessary tables
func (r *Repository) Migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "create_artifacts",
			sql: `CREATE TABLE IF NOT EXISTS artifacts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				target TEXT NOT NULL,
				kind TEXT NOT NULL,
				path TEXT NOT NULL,
				sha256 TEXT NOT NULL,
				size INTEGER NOT NULL,
				created_at DATETIME NOT NULL
			)`,
		},
		{
			name: "create_events",
			sql: `CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				target TEXT NOT NULL,
				action TEXT NOT NULL,
				detail TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
		},
		{
			name: "create_indexes",
			sql: `CREATE INDEX IF NOT EXISTS idx_artifacts_target ON artifacts(target);
				CREATE INDEX IF NOT EXISTS idx_events_target ON events(target);
			`,
		},
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.name, err)
		}
	}

	return nil
}
