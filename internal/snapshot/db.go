// Package snapshot persists the link hashes users were last notified
// about, so a restart neither repeats nor loses notifications.
package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the state file at dbPath and applies the
// schema.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping state db: %w", err)
	}

	d := &DB{db}
	if err := d.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) InitSchema(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Nuke forgets every stored hash.
func (d *DB) Nuke(ctx context.Context) error {
	_, err := d.ExecContext(ctx, "DELETE FROM link_snapshots")
	return err
}
