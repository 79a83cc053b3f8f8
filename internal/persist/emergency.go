package persist

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmergencySaver writes every snapshot it is given, with bounded
// concurrency, when a tick has failed as a whole. Unlike errgroup's usual
// fail-fast mode, one failed save does not stop the others: all errors are
// collected and returned together.
type EmergencySaver struct {
	store Store
	limit int
	log   *zap.Logger
}

func NewEmergencySaver(store Store, limit int, log *zap.Logger) *EmergencySaver {
	if limit < 1 {
		limit = 1
	}
	return &EmergencySaver{store: store, limit: limit, log: log}
}

func (e *EmergencySaver) SaveAll(ctx context.Context, snaps []Snapshot) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.limit)
	record := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}
	for _, s := range snaps {
		s := s
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("emergency save panicked", zap.String("actor", s.Name), zap.Any("panic", r))
					record(fmt.Errorf("emergency save %s: panic: %v", s.Name, r))
				}
			}()
			if err := e.store.SaveSnapshot(ctx, s); err != nil {
				record(fmt.Errorf("emergency save %s: %w", s.Name, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := len(multierr.Errors(errs))
	e.log.Warn("emergency save finished",
		zap.Int("actors", len(snaps)),
		zap.Int("failed", failed),
	)
	return errs
}
