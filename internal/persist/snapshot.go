package persist

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Snapshot is the persisted state of one actor. The world produces it on
// the driver; saving happens elsewhere, so it must not share memory with
// live actor state.
type Snapshot struct {
	Key   uuid.UUID `json:"key"`
	Kind  string    `json:"kind"`
	Name  string    `json:"name"`
	X     int32     `json:"x"`
	Y     int32     `json:"y"`
	MapID int16     `json:"map_id"`
	Level int16     `json:"level"`

	// LoggedInAt is kept for session accounting.
	LoggedInAt time.Time `json:"logged_in_at"`
	TakenAt    time.Time `json:"-"`
}

// Digest is a content hash over every persisted field. Two snapshots of an
// unchanged actor have equal digests regardless of when they were taken.
func (s Snapshot) Digest() ([32]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(raw), nil
}

// Store persists snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, s Snapshot) error

func (f StoreFunc) SaveSnapshot(ctx context.Context, s Snapshot) error { return f(ctx, s) }
