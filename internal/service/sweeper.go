package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/internal/repository"
	"github.com/stayos/roomkeys/pkg/logger"
)

// Sweeper periodically revokes active keys whose validity window has
// lapsed. It reuses the revocation path end to end, so a sweep pass gets
// the same vendor-first ordering and idempotency as a staff revoke.
type Sweeper struct {
	ledger      repository.KeyLedger
	revoker     RevocationService
	interval    time.Duration
	concurrency int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(ledger repository.KeyLedger, revoker RevocationService, interval time.Duration, concurrency int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Sweeper{
		ledger:      ledger,
		revoker:     revoker,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Start launches the sweep loop. It returns immediately; call Stop to
// halt the loop and wait for an in-flight pass to finish.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Info("Expiry sweeper started", "interval", s.interval, "concurrency", s.concurrency)
		for {
			select {
			case <-ctx.Done():
				logger.Info("Expiry sweeper stopped")
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Sweep pass failed", "error", err)
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep revokes every expired active key it can reach. A key the vendor
// cannot confirm stays active and is retried on the next pass; one stuck
// key never blocks the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	expired, err := s.ledger.FindExpiring(ctx, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	logger.InfoContext(ctx, "Sweeping expired keys", "count", len(expired))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range expired {
		key := key
		g.Go(func() error {
			_, err := s.revoker.Revoke(ctx, key.KeyID, domain.ReasonExpired)
			switch {
			case err == nil:
				logger.InfoContext(ctx, "Expired key revoked", "key_id", key.KeyID, "room", key.RoomNumber)
			case errors.Is(err, domain.ErrRevocationPending):
				logger.WarnContext(ctx, "Expired key revocation deferred, vendor unreachable",
					"key_id", key.KeyID, "room", key.RoomNumber)
			case errors.Is(err, domain.ErrInvalidKey):
				// Revoked or failed since the batch was read.
			default:
				logger.ErrorContext(ctx, "Failed to revoke expired key",
					"key_id", key.KeyID, "room", key.RoomNumber, "error", err)
			}
			// Per-key failures are logged, not returned, so the rest of
			// the batch still runs.
			return nil
		})
	}
	return g.Wait()
}
