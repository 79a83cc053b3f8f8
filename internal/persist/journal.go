package persist

import (
	"context"
	"fmt"
)

// JournalEntry records one notable world event (eviction, abandoned tick).
type JournalEntry struct {
	Tick    uint64
	Kind    string
	Subject string
	Detail  string
}

// JournalRepo appends world events to the world_journal table.
type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Append writes a batch of entries in a single transaction.
func (r *JournalRepo) Append(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO world_journal (tick, kind, subject, detail) VALUES ($1, $2, $3, $4)`,
			int64(e.Tick), e.Kind, e.Subject, e.Detail,
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}
