package persist

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DedupStore skips saves whose content has not changed since the last
// successful save of the same key. Safe for concurrent use.
type DedupStore struct {
	next Store

	mu      sync.Mutex
	digests map[uuid.UUID][32]byte
	skipped uint64
}

func NewDedupStore(next Store) *DedupStore {
	return &DedupStore{next: next, digests: make(map[uuid.UUID][32]byte)}
}

func (d *DedupStore) SaveSnapshot(ctx context.Context, s Snapshot) error {
	digest, err := s.Digest()
	if err != nil {
		return d.next.SaveSnapshot(ctx, s)
	}
	d.mu.Lock()
	prev, seen := d.digests[s.Key]
	if seen && prev == digest {
		d.skipped++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.next.SaveSnapshot(ctx, s); err != nil {
		return err
	}
	d.mu.Lock()
	d.digests[s.Key] = digest
	d.mu.Unlock()
	return nil
}

// Forget drops the remembered digest so the next save of key always writes.
func (d *DedupStore) Forget(key uuid.UUID) {
	d.mu.Lock()
	delete(d.digests, key)
	d.mu.Unlock()
}

// Skipped returns how many saves were elided.
func (d *DedupStore) Skipped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skipped
}
