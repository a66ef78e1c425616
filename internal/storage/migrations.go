package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE
	);`,

	`CREATE TABLE IF NOT EXISTS data_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		update_frequency INTEGER NOT NULL DEFAULT 15,
		is_active INTEGER NOT NULL DEFAULT 1,
		owner TEXT NOT NULL,
		mock_data TEXT NOT NULL DEFAULT '{}',
		last_updated_at INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (owner, name)
	);
	CREATE INDEX IF NOT EXISTS idx_data_sources_active ON data_sources(is_active);`,

	`CREATE TABLE IF NOT EXISTS metric_cards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		data_source TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		threshold REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'normal',
		last_updated_at INTEGER NOT NULL,
		owner TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metric_cards_source ON metric_cards(data_source);`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		metric_card TEXT NOT NULL,
		status TEXT NOT NULL,
		value REAL NOT NULL,
		threshold REAL NOT NULL,
		triggered_at INTEGER NOT NULL,
		owner TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_card_triggered ON alerts(metric_card, triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_sent ON alerts(sent);`,

	// Title is unique per owner and data source; keeps the oldest duplicate
	`DELETE FROM metric_cards WHERE rowid NOT IN (
		SELECT MIN(rowid) FROM metric_cards GROUP BY owner, data_source, title
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_metric_cards_owner_source_title
		ON metric_cards(owner, data_source, title);`,
}

// runMigrations applies every migration newer than the recorded schema version
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, i int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
		return err
	}
	return tx.Commit()
}
