package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/eliseohh/xuibot/internal/account"
)

type Store struct {
	db  *DB
	now func() time.Time
}

func NewStore(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Load returns the stored baseline. An empty store yields an empty, non-nil
// baseline.
func (s *Store) Load(ctx context.Context) (account.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tg_id, email, hash FROM link_snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	defer rows.Close()

	b := account.Baseline{}
	for rows.Next() {
		var (
			tgID  int64
			email string
			hash  string
		)
		if err := rows.Scan(&tgID, &email, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if b[tgID] == nil {
			b[tgID] = map[string]string{}
		}
		b[tgID][email] = hash
	}
	return b, rows.Err()
}

// Save makes the store equal to b: changed rows are upserted and rows
// missing from b are pruned, all in one transaction.
func (s *Store) Save(ctx context.Context, b account.Baseline) error {
	current, err := s.Load(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().Unix()
	for tgID, entries := range b {
		for email, hash := range entries {
			if old, ok := current[tgID][email]; ok && old == hash {
				continue
			}
			_, err := tx.ExecContext(
				ctx,
				`INSERT INTO link_snapshots (tg_id, email, hash, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (tg_id, email) DO UPDATE SET hash = excluded.hash, updated_at = excluded.updated_at`,
				tgID, email, hash, now,
			)
			if err != nil {
				return fmt.Errorf("failed to store snapshot %d/%s: %w", tgID, email, err)
			}
		}
	}

	for tgID, entries := range current {
		for email := range entries {
			if _, ok := b[tgID][email]; ok {
				continue
			}
			_, err := tx.ExecContext(
				ctx,
				"DELETE FROM link_snapshots WHERE tg_id = ? AND email = ?",
				tgID, email,
			)
			if err != nil {
				return fmt.Errorf("failed to prune snapshot %d/%s: %w", tgID, email, err)
			}
		}
	}

	return tx.Commit()
}
