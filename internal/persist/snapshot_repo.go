package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SnapshotRepo stores snapshots in the actor_snapshots table.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// SaveSnapshot upserts s keyed by its UUID.
func (r *SnapshotRepo) SaveSnapshot(ctx context.Context, s Snapshot) error {
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.Name, err)
	}
	digest, err := s.Digest()
	if err != nil {
		return fmt.Errorf("digest snapshot %s: %w", s.Name, err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO actor_snapshots (key, kind, name, x, y, map_id, state, digest, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name, x = EXCLUDED.x, y = EXCLUDED.y, map_id = EXCLUDED.map_id,
			state = EXCLUDED.state, digest = EXCLUDED.digest, saved_at = NOW()`,
		s.Key, s.Kind, s.Name, s.X, s.Y, s.MapID, state, digest[:],
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.Name, err)
	}
	return nil
}

// Load returns the snapshot stored under key, or nil if none exists.
func (r *SnapshotRepo) Load(ctx context.Context, key uuid.UUID) (*Snapshot, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT state FROM actor_snapshots WHERE key = $1`, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &s, nil
}

// Count returns the number of stored snapshots.
func (r *SnapshotRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM actor_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}
