// Package servers finds an empty game server in a fixed pool.
package servers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var ErrNoServer = errors.New("no empty server found")

type Locator struct {
	Querier   Querier
	Addresses []string
	Attempts  int
	Interval  time.Duration
	Log       *zap.Logger
}

// Find scans the pool in order and returns the first address with nobody on it.
// A full pass with no hit is retried after Interval, up to Attempts passes.
func (l *Locator) Find(ctx context.Context) (string, error) {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	attempts := max(l.Attempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		for _, addr := range l.Addresses {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			status, err := l.Querier.Query(ctx, addr)
			if err != nil {
				log.Debug("server query failed", zap.String("address", addr), zap.Error(err))
				continue
			}
			if status.Players == 0 {
				log.Info("found empty server",
					zap.String("address", addr),
					zap.String("name", status.Name),
					zap.Int("attempt", attempt))
				return addr, nil
			}
		}

		if attempt == attempts {
			break
		}
		log.Info("no empty server, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("interval", l.Interval))

		t := time.NewTimer(l.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return "", ErrNoServer
}
